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

// Package graphpack is a fast binary serializer for arbitrary object
// graphs. It preserves reference identity - shared and cyclic
// references survive a round trip - by discovering every reachable
// instance in a scan phase, then emitting a self-describing stream:
// type table, schema rows, an instance-creation prelude, and a field
// body. Deserialization allocates every object before parsing any
// field, so back-references of any shape resolve trivially.
//
// Named types must be registered on both sides; a mismatch between the
// writer's schema and the reader's type definitions is a fatal error,
// never a silent drift.
package graphpack

import (
	"fmt"
	"io"
	"reflect"
	"sync"
)

// ============================================================================
// Options
// ============================================================================

// Option configures a Serializer.
type Option func(*Serializer)

// WithInitialBufferSize pre-sizes the write buffer, avoiding regrowth
// when the output size is roughly known.
func WithInitialBufferSize(n int) Option {
	return func(s *Serializer) {
		if n > 0 {
			s.bufSize = n
		}
	}
}

// WithRegistry makes the serializer use a shared type registry instead
// of a private one. The registry is safe for concurrent use, so
// multiple serializers can resolve against one set of registrations.
func WithRegistry(r *Registry) Option {
	return func(s *Serializer) {
		if r != nil {
			s.registry = r
		}
	}
}

// ============================================================================
// Serializer
// ============================================================================

// Serializer holds the type registry and the per-type codec cache.
// Codecs are generated once per concrete type and shared across calls;
// the identity map and instance table of a call are private to it.
//
// A Serializer may be shared across goroutines for registration and
// codec building, but Marshal and Unmarshal reuse no mutable state and
// are individually safe to call concurrently. Use the threadsafe
// subpackage if a pooled, uniformly concurrent front is preferred.
type Serializer struct {
	registry *Registry

	mu     sync.RWMutex
	codecs map[reflect.Type]*codec

	bufSize int
}

// New creates a Serializer with an empty registry.
func New(opts ...Option) *Serializer {
	s := &Serializer{
		registry: NewRegistry(),
		codecs:   make(map[reflect.Type]*codec),
		bufSize:  256,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Registry returns the serializer's type registry.
func (s *Serializer) Registry() *Registry { return s.registry }

// Register registers a named type and its declared dependencies under
// derived names. v may be an instance, a pointer (use `(*T)(nil)` for
// interface types), or a reflect.Type.
func (s *Serializer) Register(v any) error {
	return s.registry.Register(v)
}

// RegisterName registers a named type under an explicit stable name.
func (s *Serializer) RegisterName(v any, name string) error {
	return s.registry.RegisterName(v, name)
}

// MustRegister is Register for init-time wiring; it panics on error.
func (s *Serializer) MustRegister(v any) {
	if err := s.Register(v); err != nil {
		panic(err)
	}
}

// ============================================================================
// Serialization API
// ============================================================================

// Marshal serializes the graph reachable from v into a self-describing
// byte stream. A nil root produces a valid stream that deserializes to
// nil. Value roots (primitives, structs, arrays) are boxed: a struct or
// array root comes back from Unmarshal behind a pointer.
func (s *Serializer) Marshal(v any) ([]byte, error) {
	buf := NewByteBuffer(make([]byte, 0, s.bufSize))
	if err := s.encode(buf, v); err != nil {
		return nil, err
	}
	out := make([]byte, buf.WriterIndex())
	copy(out, buf.Bytes())
	return out, nil
}

// Unmarshal reconstructs the graph serialized in data and returns its
// root. All named types in the stream must have been registered.
func (s *Serializer) Unmarshal(data []byte) (any, error) {
	buf := NewByteBuffer(data)
	return s.decode(buf)
}

// UnmarshalTo reconstructs the graph and stores the root into the
// non-nil pointer v, converting when necessary.
func (s *Serializer) UnmarshalTo(data []byte, v any) error {
	result, err := s.Unmarshal(data)
	if err != nil {
		return err
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return fmt.Errorf("graphpack: UnmarshalTo target must be a non-nil pointer")
	}
	elem := rv.Elem()
	if result == nil {
		elem.Set(reflect.Zero(elem.Type()))
		return nil
	}
	resultVal := reflect.ValueOf(result)
	switch {
	case resultVal.Type().AssignableTo(elem.Type()):
		elem.Set(resultVal)
	case resultVal.Type().ConvertibleTo(elem.Type()):
		elem.Set(resultVal.Convert(elem.Type()))
	default:
		return fmt.Errorf("graphpack: cannot store %v into %v", resultVal.Type(), elem.Type())
	}
	return nil
}

// Encode serializes v and writes the stream to w.
func (s *Serializer) Encode(w io.Writer, v any) error {
	data, err := s.Marshal(v)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// Decode reads a complete stream from r and reconstructs its graph.
func (s *Serializer) Decode(r io.Reader) (any, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return s.Unmarshal(data)
}
