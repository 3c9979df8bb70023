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
	"testing"

	"github.com/stretchr/testify/require"
)

// kvPair exercises the custom member-map path from S5: two members,
// one boxed primitive and one string.
type kvPair struct {
	K1 int32
	K2 string
}

func (p *kvPair) MarshalGraph(m *Members) {
	m.Set("k1", p.K1)
	m.Set("k2", p.K2)
}

func (p *kvPair) UnmarshalGraph(m *Members) error {
	v1, ok := m.Get("k1")
	if !ok {
		return fmt.Errorf("missing k1")
	}
	v2, ok := m.Get("k2")
	if !ok {
		return fmt.Errorf("missing k2")
	}
	p.K1 = v1.(int32)
	p.K2 = v2.(string)
	return nil
}

func TestCustomSerialization(t *testing.T) {
	s := New()
	require.NoError(t, s.Register(kvPair{}))

	data, err := s.Marshal(&kvPair{K1: 7, K2: "hi"})
	require.NoError(t, err)

	info, err := Inspect(data)
	require.NoError(t, err)
	// null + kvPair + boxed 7 + "hi"
	require.Equal(t, 4, info.ObjectsCount)
	require.True(t, info.Types[0].Special)

	out, err := s.Unmarshal(data)
	require.NoError(t, err)
	r := out.(*kvPair)
	require.Equal(t, int32(7), r.K1)
	require.Equal(t, "hi", r.K2)
}

// refBox stores a reference in its member map; the referent must
// resolve with identity intact even though member values are captured
// before the referent's body is parsed.
type refBox struct {
	Node *listNode
}

func (b *refBox) MarshalGraph(m *Members) {
	m.Set("node", b.Node)
}

func (b *refBox) UnmarshalGraph(m *Members) error {
	v, _ := m.Get("node")
	if v != nil {
		b.Node = v.(*listNode)
	}
	return nil
}

func TestCustomSerializationWithReferences(t *testing.T) {
	s := New()
	require.NoError(t, s.Register(refBox{}))
	require.NoError(t, s.Register(listNode{}))

	n1 := &listNode{Value: 1}
	n2 := &listNode{Value: 2, Next: n1}
	n1.Next = n2

	data, err := s.Marshal(&refBox{Node: n1})
	require.NoError(t, err)

	out, err := s.Unmarshal(data)
	require.NoError(t, err)
	r := out.(*refBox)
	require.Equal(t, int32(1), r.Node.Value)
	require.Same(t, r.Node, r.Node.Next.Next)
}

func TestCustomMemberOrderIsStable(t *testing.T) {
	s := New()
	require.NoError(t, s.Register(kvPair{}))

	first, err := s.Marshal(&kvPair{K1: 1, K2: "x"})
	require.NoError(t, err)
	second, err := s.Marshal(&kvPair{K1: 1, K2: "x"})
	require.NoError(t, err)
	require.Equal(t, first, second)
}

// oneWay has the marshal hook but no unmarshal hook.
type oneWay struct {
	V int32
}

func (o *oneWay) MarshalGraph(m *Members) {
	m.Set("v", o.V)
}

func TestMissingUnmarshaler(t *testing.T) {
	s := New()
	require.NoError(t, s.Register(oneWay{}))

	data, err := s.Marshal(&oneWay{V: 1})
	require.NoError(t, err)

	_, err = s.Unmarshal(data)
	require.ErrorIs(t, err, ErrNoUnmarshaler)
}

// Custom types cannot be embedded by value: the member map replaces
// whole instances, not field slots.
func TestCustomValueFieldRejected(t *testing.T) {
	s := New()
	type embedsCustom struct {
		P kvPair
	}
	require.NoError(t, s.Register(embedsCustom{}))

	_, err := s.Marshal(&embedsCustom{})
	require.ErrorIs(t, err, ErrUnsupportedType)
}

var callbackLog []int32

type callbackNode struct {
	ID   int32
	Next *callbackNode
}

func (n *callbackNode) AfterUnmarshalGraph() {
	callbackLog = append(callbackLog, n.ID)
}

func TestPostUnmarshalOrder(t *testing.T) {
	s := New()
	require.NoError(t, s.Register(callbackNode{}))

	// Discovery order from the root fixes object ids: 10, 20, 30.
	n3 := &callbackNode{ID: 30}
	n2 := &callbackNode{ID: 20, Next: n3}
	n1 := &callbackNode{ID: 10, Next: n2}

	data, err := s.Marshal(n1)
	require.NoError(t, err)

	callbackLog = nil
	_, err = s.Unmarshal(data)
	require.NoError(t, err)
	require.Equal(t, []int32{10, 20, 30}, callbackLog)
}
