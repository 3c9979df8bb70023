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

// Package threadsafe provides a thread-safe wrapper around
// graphpack.Serializer using sync.Pool.
package threadsafe

import (
	"sync"

	"github.com/graphpack/graphpack"
)

// Serializer is a pooled front over graphpack.Serializer with the same
// call surface. All pooled instances share one type registry, so a
// registration made at any time is visible to every instance.
type Serializer struct {
	pool     sync.Pool
	registry *graphpack.Registry
}

// New creates a thread-safe serializer.
func New(opts ...graphpack.Option) *Serializer {
	registry := graphpack.NewRegistry()
	s := &Serializer{registry: registry}
	s.pool = sync.Pool{
		New: func() any {
			all := append([]graphpack.Option{graphpack.WithRegistry(registry)}, opts...)
			return graphpack.New(all...)
		},
	}
	return s
}

func (s *Serializer) acquire() *graphpack.Serializer {
	return s.pool.Get().(*graphpack.Serializer)
}

func (s *Serializer) release(inner *graphpack.Serializer) {
	s.pool.Put(inner)
}

// Register registers a named type for every pooled instance.
func (s *Serializer) Register(v any) error {
	return s.registry.Register(v)
}

// RegisterName registers a named type under an explicit stable name
// for every pooled instance.
func (s *Serializer) RegisterName(v any, name string) error {
	return s.registry.RegisterName(v, name)
}

// Marshal serializes a graph using a pooled instance.
func (s *Serializer) Marshal(v any) ([]byte, error) {
	inner := s.acquire()
	defer s.release(inner)
	return inner.Marshal(v)
}

// Unmarshal reconstructs a graph using a pooled instance.
func (s *Serializer) Unmarshal(data []byte) (any, error) {
	inner := s.acquire()
	defer s.release(inner)
	return inner.Unmarshal(data)
}

// UnmarshalTo reconstructs a graph into the provided pointer.
func (s *Serializer) UnmarshalTo(data []byte, v any) error {
	inner := s.acquire()
	defer s.release(inner)
	return inner.UnmarshalTo(data, v)
}

// MarshalCompressed serializes a graph into a compression envelope.
func (s *Serializer) MarshalCompressed(v any, tag graphpack.Compression) ([]byte, error) {
	inner := s.acquire()
	defer s.release(inner)
	return inner.MarshalCompressed(v, tag)
}

// UnmarshalCompressed reconstructs a graph from a compression envelope.
func (s *Serializer) UnmarshalCompressed(data []byte) (any, error) {
	inner := s.acquire()
	defer s.release(inner)
	return inner.UnmarshalCompressed(data)
}
