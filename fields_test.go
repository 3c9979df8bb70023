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
	"fmt"
	"reflect"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSerializableFieldOrder(t *testing.T) {
	type scrambled struct {
		Zeta  int32
		alpha int32
		Mid   int32
	}
	fields, err := serializableFields(reflect.TypeOf(scrambled{}))
	require.NoError(t, err)

	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Name
	}
	// Lexicographic: upper-case letters sort before lower-case.
	require.Equal(t, []string{"Mid", "Zeta", "alpha"}, names)
}

func TestSerializableFieldsExcludeTagged(t *testing.T) {
	fields, err := serializableFields(reflect.TypeOf(tagged{}))
	require.NoError(t, err)
	require.Len(t, fields, 1)
	require.Equal(t, "Keep", fields[0].Name)
}

func TestTooManyFields(t *testing.T) {
	int32Type := reflect.TypeOf(int32(0))
	makeStruct := func(n int) reflect.Type {
		structFields := make([]reflect.StructField, n)
		for i := range structFields {
			structFields[i] = reflect.StructField{
				Name: fmt.Sprintf("F%03d", i),
				Type: int32Type,
			}
		}
		return reflect.StructOf(structFields)
	}

	_, err := serializableFields(makeStruct(maxFieldCount))
	require.NoError(t, err)

	_, err = serializableFields(makeStruct(maxFieldCount + 1))
	require.ErrorIs(t, err, ErrTooManyFields)
}

func TestSerializableFieldsRejectNonStruct(t *testing.T) {
	_, err := serializableFields(reflect.TypeOf(0))
	require.ErrorIs(t, err, ErrUnsupportedType)
}
