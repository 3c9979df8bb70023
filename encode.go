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
	"math"
	"reflect"
	"unsafe"
)

// wideID is the threshold of the u16|i32 width policy: ids governed by
// a count above this are written as i32 instead of u16.
const wideID = math.MaxUint16

// ============================================================================
// Identity tracking
// ============================================================================

// refKey identifies an instance by address rather than by value. The
// type discriminates aliases that share an address (a struct and its
// first field); the length discriminates slices and strings that share
// a backing store.
type refKey struct {
	ptr uintptr
	typ reflect.Type
	n   int
}

// ifaceWords mirrors the runtime layout of an interface value. The data
// word is the address of the boxed value for non-pointer-shaped
// contents, which gives boxed primitives a stable identity.
type ifaceWords struct {
	typ  unsafe.Pointer
	data unsafe.Pointer
}

// refIdent classifies a reference-position value. null reports a nil
// reference; box reports a value that must be copied into fresh
// storage on first sight (boxed primitives); identOK reports whether
// key carries a usable identity.
type refIdent struct {
	key     refKey
	null    bool
	box     bool
	identOK bool
	value   reflect.Value // concrete value to store (interface unwrapped)
}

func identOf(v reflect.Value) (refIdent, error) {
	switch v.Kind() {
	case reflect.Interface:
		if v.IsNil() {
			return refIdent{null: true}, nil
		}
		elem := v.Elem()
		switch elem.Kind() {
		case reflect.Ptr, reflect.String, reflect.Slice:
			return identOf(elem)
		case reflect.Bool,
			reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64, reflect.Int,
			reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uint,
			reflect.Uintptr, reflect.Float32, reflect.Float64:
			id := refIdent{box: true, value: elem}
			if v.CanAddr() {
				// The interface data word is the box address.
				h := (*ifaceWords)(v.Addr().UnsafePointer())
				id.key = refKey{ptr: uintptr(h.data), typ: elem.Type()}
				id.identOK = true
			}
			return id, nil
		case reflect.Struct, reflect.Array:
			return refIdent{}, fmt.Errorf("%w: bare %v value behind an interface; hold it behind a pointer",
				ErrUnsupportedType, elem.Type())
		}
		return refIdent{}, fmt.Errorf("%w: %v behind an interface", ErrUnsupportedType, v.Elem().Type())
	case reflect.Ptr:
		if v.IsNil() {
			return refIdent{null: true}, nil
		}
		if err := validatePointerTarget(v.Type()); err != nil {
			return refIdent{}, err
		}
		return refIdent{
			key:     refKey{ptr: v.Pointer(), typ: canonicalRefType(v.Type())},
			identOK: true,
			value:   v,
		}, nil
	case reflect.String:
		s := v.String()
		var ptr uintptr
		if len(s) > 0 {
			ptr = uintptr(unsafe.Pointer(unsafe.StringData(s)))
		}
		return refIdent{
			key:     refKey{ptr: ptr, typ: canonicalRefType(v.Type()), n: len(s)},
			identOK: true,
			value:   v,
		}, nil
	case reflect.Slice:
		if v.IsNil() {
			return refIdent{null: true}, nil
		}
		return refIdent{
			key:     refKey{ptr: v.Pointer(), typ: canonicalRefType(v.Type()), n: v.Len()},
			identOK: true,
			value:   v,
		}, nil
	}
	return refIdent{}, fmt.Errorf("%w: %v in reference position", ErrUnsupportedType, v.Type())
}

// ============================================================================
// Write context
// ============================================================================

// markedCustom is the key-value substitute captured for a
// custom-serialized instance during scan: member names paired with the
// object ids their values were marked under.
type markedCustom struct {
	names []string
	ids   []int

	// members keeps the captured map alive for the whole call: boxed
	// member values are identified by their box address, read through
	// the entry slot, and the box must not be freed and its address
	// reused while the identity map can still match it.
	members *Members
}

// writeContext owns the instance table, identity map and type table for
// the duration of a single serialize call.
type writeContext struct {
	s   *Serializer
	buf *ByteBuffer

	instances []reflect.Value // index = object id; [0] is the null slot
	typeIDs   []int           // parallel to instances, filled by the scan loop
	ids       map[refKey]int
	types     *typeTable
	customs   map[int]*markedCustom

	wideObjects bool
	wideTypes   bool
}

func newWriteContext(s *Serializer, buf *ByteBuffer) *writeContext {
	return &writeContext{
		s:         s,
		buf:       buf,
		instances: make([]reflect.Value, 1),
		typeIDs:   make([]int, 1),
		ids:       make(map[refKey]int),
		types:     newTypeTable(),
		customs:   make(map[int]*markedCustom),
	}
}

// mark assigns the next object id to a newly discovered instance, or
// returns the existing id. Null references map to id 0.
func (c *writeContext) mark(v reflect.Value) (int, error) {
	ident, err := identOf(v)
	if err != nil {
		return 0, err
	}
	if ident.null {
		return 0, nil
	}
	if ident.identOK {
		if id, ok := c.ids[ident.key]; ok {
			return id, nil
		}
	}
	inst := ident.value
	if ident.box {
		// Boxed primitives are copied into fresh addressable storage.
		pv := reflect.New(inst.Type())
		pv.Elem().Set(inst)
		inst = pv
	}
	id := len(c.instances)
	c.instances = append(c.instances, inst)
	if ident.identOK {
		c.ids[ident.key] = id
	}
	return id, nil
}

// lookupID resolves a reference seen during the write phase to the id
// assigned during scan. The scan phase closes the graph, so a miss is
// an internal invariant failure.
func (c *writeContext) lookupID(v reflect.Value) (int, error) {
	ident, err := identOf(v)
	if err != nil {
		return 0, err
	}
	if ident.null {
		return 0, nil
	}
	id, ok := c.ids[ident.key]
	if !ok {
		return 0, fmt.Errorf("graphpack: internal: %v escaped the scan phase", ident.key.typ)
	}
	return id, nil
}

func (c *writeContext) writeObjectID(id int) {
	if c.wideObjects {
		c.buf.WriteInt32(int32(id))
	} else {
		c.buf.WriteUint16(uint16(id))
	}
}

func (c *writeContext) writeTypeID(id int) {
	if c.wideTypes {
		c.buf.WriteInt32(int32(id))
	} else {
		c.buf.WriteUint16(uint16(id))
	}
}

// runtimeTypeOf is the type recorded in the table for an instance:
// pointer instances are recorded under their pointee type.
func runtimeTypeOf(inst reflect.Value) reflect.Type {
	if inst.Kind() == reflect.Ptr {
		return inst.Type().Elem()
	}
	return inst.Type()
}

// contentValue is the value a codec operates on.
func contentValue(inst reflect.Value) reflect.Value {
	if inst.Kind() == reflect.Ptr {
		return inst.Elem()
	}
	return inst
}

// ============================================================================
// Serialization driver
// ============================================================================

// normalizeRoot turns any supported root into a reference-position
// value. Value roots (primitives, structs, arrays) are boxed; a boxed
// struct root deserializes as a pointer.
func normalizeRoot(rv reflect.Value) (reflect.Value, error) {
	switch rv.Kind() {
	case reflect.Ptr, reflect.Slice, reflect.String:
		return rv, nil
	case reflect.Bool,
		reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64, reflect.Int,
		reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uint,
		reflect.Uintptr, reflect.Float32, reflect.Float64,
		reflect.Struct, reflect.Array:
		pv := reflect.New(rv.Type())
		pv.Elem().Set(rv)
		return pv, nil
	}
	return reflect.Value{}, fmt.Errorf("%w: %v as root", ErrUnsupportedType, rv.Type())
}

// encode runs the full write pipeline: discovery, type closure, prelude
// and body, per the two-phase scheme.
func (s *Serializer) encode(buf *ByteBuffer, v any) error {
	c := newWriteContext(s, buf)

	// Discovery: mark the root, then walk the instance list with a
	// monotonic cursor; instances marked mid-scan are scanned later in
	// the same pass.
	if v != nil {
		rv, err := normalizeRoot(reflect.ValueOf(v))
		if err != nil {
			return err
		}
		if _, err := c.mark(rv); err != nil {
			return err
		}
	}

	for i := 1; i < len(c.instances); i++ {
		inst := c.instances[i]
		t := canonicalRefType(runtimeTypeOf(inst))
		tid, err := c.types.idOf(t, s.registry)
		if err != nil {
			return err
		}
		c.typeIDs = append(c.typeIDs, tid)

		if c.types.entries[tid].Custom {
			if err := c.scanCustom(i, inst); err != nil {
				return err
			}
			continue
		}
		cd, err := s.codecFor(t)
		if err != nil {
			return err
		}
		if cd.refBearing {
			if err := cd.scan(c, contentValue(inst)); err != nil {
				return err
			}
		}
	}

	if len(c.instances) > math.MaxInt32 {
		return fmt.Errorf("graphpack: instance count %d exceeds stream limit", len(c.instances))
	}

	// Scan-types: close the table over declared field types.
	typeCountForObjects := len(c.types.entries)
	if err := c.types.finalizeSchemas(s.registry); err != nil {
		return err
	}

	c.wideObjects = len(c.instances)-1 > wideID
	c.wideTypes = len(c.types.entries) > wideID

	// Header.
	buf.WriteVarUint32(uint32(len(c.types.entries)))
	buf.WriteVarUint32(uint32(len(c.instances)))
	buf.WriteVarUint32(uint32(typeCountForObjects))
	buf.WriteVarint32(int32(c.types.stringTypeID()))

	// Type names.
	for _, e := range c.types.entries {
		buf.WriteString(e.Name)
	}

	// Schema rows.
	for _, e := range c.types.entries {
		if e.Special {
			buf.WriteByte_(schemaSentinel)
			continue
		}
		buf.WriteByte_(byte(len(e.Fields)))
		for _, f := range e.Fields {
			c.writeTypeID(f.TypeID)
			buf.WriteString(f.Name)
		}
	}

	// Creation prelude: type tags plus whatever cannot be filled in
	// later - string contents (immutable) and slice lengths.
	for i := 1; i < len(c.instances); i++ {
		inst := c.instances[i]
		c.writeTypeID(c.typeIDs[i])
		switch inst.Kind() {
		case reflect.String:
			buf.WriteString(inst.String())
		case reflect.Slice:
			buf.WriteInt32(int32(inst.Len()))
		}
	}

	// Body. The graph is closed: no mark can occur past this point.
	for i := 1; i < len(c.instances); i++ {
		if cm := c.customs[i]; cm != nil {
			buf.WriteVarUint32(uint32(len(cm.names)))
			for j, name := range cm.names {
				buf.WriteString(name)
				c.writeObjectID(cm.ids[j])
			}
			continue
		}
		inst := c.instances[i]
		cd, err := s.codecFor(canonicalRefType(runtimeTypeOf(inst)))
		if err != nil {
			return err
		}
		if err := cd.write(c, contentValue(inst)); err != nil {
			return err
		}
	}
	return nil
}

// scanCustom captures the key-value substitute of a custom-serialized
// instance and marks every member value.
func (c *writeContext) scanCustom(id int, inst reflect.Value) error {
	m := NewMembers()
	inst.Interface().(GraphMarshaler).MarshalGraph(m)

	cm := &markedCustom{
		names:   make([]string, len(m.entries)),
		ids:     make([]int, len(m.entries)),
		members: m,
	}
	anyType := reflect.TypeFor[any]()
	for j := range m.entries {
		cm.names[j] = m.entries[j].Name
		// Address the entry's value slot so boxed members keep a
		// stable identity through scan.
		slot := reflect.NewAt(anyType, unsafe.Pointer(&m.entries[j].Value)).Elem()
		vid, err := c.mark(slot)
		if err != nil {
			return fmt.Errorf("custom member %q of %v: %w", cm.names[j], inst.Type(), err)
		}
		cm.ids[j] = vid
	}
	c.customs[id] = cm
	return nil
}

// schemaSentinel is the field-count byte marking special types.
const schemaSentinel = 255
