// Licensed to the Apache Software Foundation (ASF) under one
// or more contributor license agreements.  See the NOTICE file
// distributed with this work for additional information
// regarding copyright ownership.  The ASF licenses this file
// to you under the Apache License, Version 2.0 (the
// "License"); you may not use this file except in compliance
// with the License.  You may obtain a copy of the License at
//
//   http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied.  See the License for the
// specific language governing permissions and limitations
// under the License.

package graphpack

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInspect(t *testing.T) {
	s := New()
	require.NoError(t, s.Register(sliceHolder{}))

	data, err := s.Marshal(&sliceHolder{
		Names:   []string{"one", "two"},
		Numbers: []int32{1, 2, 3},
		Raw:     []byte{9},
	})
	require.NoError(t, err)

	info, err := Inspect(data)
	require.NoError(t, err)

	// null + root + 3 slices + 2 strings
	require.Equal(t, 7, info.ObjectsCount)
	require.NotEqual(t, -1, info.StringTypeID)
	require.Equal(t, "string", info.Types[info.StringTypeID].Name)
	require.Less(t, info.BodyOffset, len(data))

	// The root struct is a field-bearing entry; every slice entry is
	// special and structurally named.
	require.False(t, info.Types[info.Objects[0].TypeID].Special)
	var lengths []int
	var strValues []string
	for _, obj := range info.Objects {
		if obj.IsSlice {
			lengths = append(lengths, obj.Length)
		}
		if obj.IsString {
			strValues = append(strValues, obj.StringValue)
		}
	}
	require.ElementsMatch(t, []int{2, 3, 1}, lengths)
	require.ElementsMatch(t, []string{"one", "two"}, strValues)

	// Declared-only field types live in the schema region.
	require.Greater(t, info.TypesCount, info.TypeCountForObjects)

	t.Run("Truncated", func(t *testing.T) {
		_, err := Inspect(data[:info.BodyOffset-1])
		require.Error(t, err)
	})

	t.Run("Garbage", func(t *testing.T) {
		_, err := Inspect([]byte{0xFF, 0xFF, 0xFF, 0xFF, 0x0F})
		require.Error(t, err)
	})
}
