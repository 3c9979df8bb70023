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
	"reflect"
	"testing"

	"github.com/stretchr/testify/require"
)

type regNode struct {
	Next *regNode
	Kids []*regNode
	Tint color
}

func TestRegistryNamesAndResolution(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(regNode{}))

	nodeType := reflect.TypeOf(regNode{})
	name, err := r.nameOf(nodeType)
	require.NoError(t, err)
	require.Equal(t, DerivedName(nodeType), name)

	// Composite names resolve structurally.
	for wire, want := range map[string]reflect.Type{
		name:          nodeType,
		"*" + name:    reflect.PointerTo(nodeType),
		"[]*" + name:  reflect.SliceOf(reflect.PointerTo(nodeType)),
		"[4]int32":    reflect.TypeOf([4]int32{}),
		"string":      reflect.TypeOf(""),
		"any":         reflect.TypeFor[any](),
	} {
		got, err := r.Resolve(wire)
		require.NoError(t, err, wire)
		require.Equal(t, want, got, wire)
	}

	// The field walk registered the named primitive transitively.
	_, err = r.Resolve(DerivedName(reflect.TypeOf(color(0))))
	require.NoError(t, err)

	_, err = r.Resolve("no.such.Type")
	require.ErrorIs(t, err, ErrUnknownType)
}

func TestRegistryExplicitName(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.RegisterName(regNode{}, "node"))

	name, err := r.nameOf(reflect.TypeOf(regNode{}))
	require.NoError(t, err)
	require.Equal(t, "node", name)

	got, err := r.Resolve("node")
	require.NoError(t, err)
	require.Equal(t, reflect.TypeOf(regNode{}), got)

	// A second type cannot claim the name.
	type impostor struct{ X int32 }
	require.Error(t, r.RegisterName(impostor{}, "node"))
}

func TestRegistryRejectsUnnamed(t *testing.T) {
	r := NewRegistry()
	require.Error(t, r.Register([]int32{}))
	require.Error(t, r.Register(reflect.Type(nil)))
}

func TestCanonicalRefType(t *testing.T) {
	type nodes []*regNode
	type alias string

	require.Equal(t, reflect.TypeOf([]*regNode{}), canonicalRefType(reflect.TypeOf(nodes{})))
	require.Equal(t, reflect.TypeOf(""), canonicalRefType(reflect.TypeOf(alias(""))))
	require.Equal(t, reflect.TypeOf(regNode{}), canonicalRefType(reflect.TypeOf(regNode{})))
}

type namedCollections struct {
	Label tagValue
	Items tagList
}

type tagValue string

type tagList []int32

func TestNamedReferenceKindsRoundTrip(t *testing.T) {
	s := New()
	require.NoError(t, s.Register(namedCollections{}))

	original := &namedCollections{Label: "tagged", Items: tagList{4, 5}}
	data, err := s.Marshal(original)
	require.NoError(t, err)

	// On the wire both collapse to structural types, so the stream
	// stays inspectable without a registry.
	info, err := Inspect(data)
	require.NoError(t, err)
	var sawString, sawSlice bool
	for _, obj := range info.Objects {
		sawString = sawString || obj.IsString
		sawSlice = sawSlice || obj.IsSlice
	}
	require.True(t, sawString)
	require.True(t, sawSlice)

	out, err := s.Unmarshal(data)
	require.NoError(t, err)
	require.Equal(t, original, out)
}
