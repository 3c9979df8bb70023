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

// Writer and reader bind different local types to the same wire name
// to simulate a definition that drifted between processes.

type driftWriterV1 struct {
	A int32
	B int32
}

type driftRenamed struct {
	A int32
	C int32
}

type driftRetyped struct {
	A int32
	B int64
}

type driftExtraField struct {
	A int32
	B int32
	C int32
}

type driftCustom struct {
	A int32
	B int32
}

func (d *driftCustom) MarshalGraph(m *Members)        { m.Set("a", d.A) }
func (d *driftCustom) UnmarshalGraph(m *Members) error { return nil }

func marshalDrift(t *testing.T) []byte {
	t.Helper()
	w := New()
	require.NoError(t, w.RegisterName(driftWriterV1{}, "drift.T"))
	data, err := w.Marshal(&driftWriterV1{A: 1, B: 2})
	require.NoError(t, err)
	return data
}

func TestSchemaDrift(t *testing.T) {
	data := marshalDrift(t)

	t.Run("Identical", func(t *testing.T) {
		r := New()
		require.NoError(t, r.RegisterName(driftWriterV1{}, "drift.T"))
		out, err := r.Unmarshal(data)
		require.NoError(t, err)
		require.Equal(t, &driftWriterV1{A: 1, B: 2}, out)
	})

	t.Run("RenamedField", func(t *testing.T) {
		r := New()
		require.NoError(t, r.RegisterName(driftRenamed{}, "drift.T"))
		_, err := r.Unmarshal(data)
		require.ErrorIs(t, err, ErrSchemaFieldMismatch)
	})

	t.Run("RetypedField", func(t *testing.T) {
		r := New()
		require.NoError(t, r.RegisterName(driftRetyped{}, "drift.T"))
		_, err := r.Unmarshal(data)
		require.ErrorIs(t, err, ErrSchemaFieldMismatch)
	})

	t.Run("FieldCount", func(t *testing.T) {
		r := New()
		require.NoError(t, r.RegisterName(driftExtraField{}, "drift.T"))
		_, err := r.Unmarshal(data)
		require.ErrorIs(t, err, ErrSchemaFieldMismatch)
	})

	t.Run("SpecialMismatch", func(t *testing.T) {
		r := New()
		require.NoError(t, r.RegisterName(driftCustom{}, "drift.T"))
		_, err := r.Unmarshal(data)
		require.ErrorIs(t, err, ErrSchemaSpecialMismatch)
	})

	t.Run("UnknownType", func(t *testing.T) {
		r := New()
		_, err := r.Unmarshal(data)
		require.ErrorIs(t, err, ErrUnknownType)
	})
}

func TestTruncatedStream(t *testing.T) {
	s := New()
	require.NoError(t, s.Register(sliceHolder{}))
	data, err := s.Marshal(&sliceHolder{
		Names:   []string{"alpha", "beta"},
		Numbers: []int32{1, 2, 3},
	})
	require.NoError(t, err)

	t.Run("Empty", func(t *testing.T) {
		_, err := s.Unmarshal(nil)
		require.ErrorIs(t, err, ErrTruncatedStream)
	})

	// Cutting at any prefix must surface a stream error, never a
	// panic or a silently wrong graph.
	t.Run("EveryPrefix", func(t *testing.T) {
		for cut := 0; cut < len(data); cut++ {
			_, err := s.Unmarshal(data[:cut])
			require.Error(t, err, "prefix of %d bytes", cut)
		}
	})
}

func TestSchemaOnlyTypeIDRejected(t *testing.T) {
	s := New()
	require.NoError(t, s.Register(intRoot{}))
	data, err := s.Marshal(&intRoot{X: 1})
	require.NoError(t, err)

	info, err := Inspect(data)
	require.NoError(t, err)
	require.Greater(t, info.TypesCount, info.TypeCountForObjects)

	// Rewrite the root's creation record to point at the schema-only
	// int32 entry. Type ids are u16 here.
	corrupted := append([]byte(nil), data...)
	corrupted[info.BodyOffset-2] = byte(info.TypeCountForObjects)

	_, err = s.Unmarshal(corrupted)
	require.ErrorIs(t, err, ErrCorruptStream)
}
