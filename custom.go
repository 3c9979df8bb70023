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

import "reflect"

// ============================================================================
// Custom serialization hooks
// ============================================================================

// GraphMarshaler is the opt-in hook for types that describe themselves
// as named members instead of raw fields. The serializer calls
// MarshalGraph during the scan phase and serializes the resulting
// member list in place of the instance's fields.
type GraphMarshaler interface {
	MarshalGraph(m *Members)
}

// GraphUnmarshaler restores a GraphMarshaler type from its member list.
// It is invoked only after every object in the stream has been
// allocated and had its direct fields filled, so member values may be
// arbitrary references into the graph, including back-references.
//
// A type implementing GraphMarshaler without GraphUnmarshaler fails
// deserialization with ErrNoUnmarshaler.
type GraphUnmarshaler interface {
	UnmarshalGraph(m *Members) error
}

// PostUnmarshaler is an optional callback invoked once per object, in
// object-id order, after all objects are fully reconstructed.
type PostUnmarshaler interface {
	AfterUnmarshalGraph()
}

var graphMarshalerType = reflect.TypeFor[GraphMarshaler]()

// ============================================================================
// Members - ordered name/value list
// ============================================================================

type memberEntry struct {
	Name  string
	Value any
}

// Members is the ordered name→value collection exchanged with custom
// serialization hooks. Insertion order is preserved so that output
// bytes stay deterministic; lookups by name are O(1).
type Members struct {
	entries []memberEntry
	index   map[string]int
}

// NewMembers creates an empty member list.
func NewMembers() *Members {
	return &Members{index: make(map[string]int)}
}

// Set appends a member, or overwrites the value of an existing member
// in place without disturbing its position.
func (m *Members) Set(name string, value any) {
	if i, ok := m.index[name]; ok {
		m.entries[i].Value = value
		return
	}
	m.index[name] = len(m.entries)
	m.entries = append(m.entries, memberEntry{Name: name, Value: value})
}

// Get returns the value stored under name.
func (m *Members) Get(name string) (any, bool) {
	i, ok := m.index[name]
	if !ok {
		return nil, false
	}
	return m.entries[i].Value, true
}

// Len returns the number of members.
func (m *Members) Len() int { return len(m.entries) }

// At returns the member at position i in insertion order.
func (m *Members) At(i int) (string, any) {
	e := m.entries[i]
	return e.Name, e.Value
}

// Names returns the member names in insertion order.
func (m *Members) Names() []string {
	names := make([]string, len(m.entries))
	for i, e := range m.entries {
		names[i] = e.Name
	}
	return names
}
