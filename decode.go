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
)

// ============================================================================
// Read context
// ============================================================================

// deferredCustom records a custom-serialized instance whose
// construction must wait until every object in the stream has had its
// fields filled.
type deferredCustom struct {
	id    int
	names []string
	ids   []int
}

// readContext owns the object table for the duration of a single
// deserialize call. Every object is allocated before any body is
// parsed, so back-references of any shape resolve against the table.
type readContext struct {
	s   *Serializer
	buf *ByteBuffer

	types      []*streamType
	objects    []reflect.Value // pointer per object; [0] is the null slot
	objTypeIDs []int

	wideObjects bool
	wideTypes   bool

	deferred []deferredCustom

	// boxFixups copy boxed primitives into interface fields once every
	// body has been parsed.
	boxFixups []func()
}

func (c *readContext) readObjectID() int {
	if c.wideObjects {
		return int(c.buf.ReadInt32())
	}
	return int(c.buf.ReadUint16())
}

func (c *readContext) readTypeID() int {
	if c.wideTypes {
		return int(c.buf.ReadInt32())
	}
	return int(c.buf.ReadUint16())
}

// assignRef stores the referent of id into reference field fv,
// enforcing assignment compatibility between the instance and the
// field's declared type.
func (c *readContext) assignRef(fv reflect.Value, id int) error {
	if id < 0 || id >= len(c.objects) {
		return fmt.Errorf("%w: object id %d out of range", ErrCorruptStream, id)
	}
	if id == 0 {
		fv.Set(reflect.Zero(fv.Type()))
		return nil
	}
	inst := c.objects[id]
	instType := c.types[c.objTypeIDs[id]].Type

	var val reflect.Value
	boxed := false
	switch fv.Kind() {
	case reflect.Ptr:
		val = inst
	case reflect.String, reflect.Slice:
		val = inst.Elem()
		// Named string and slice fields get the structural wire value
		// converted to the field's own type.
		if val.Kind() == fv.Kind() && val.Type().ConvertibleTo(fv.Type()) {
			val = val.Convert(fv.Type())
		}
	case reflect.Interface:
		// Struct and array instances exist only behind pointers.
		if k := instType.Kind(); k == reflect.Struct || k == reflect.Array {
			val = inst
		} else {
			val = inst.Elem()
			boxed = k != reflect.String && k != reflect.Slice
		}
	default:
		return fmt.Errorf("%w: reference into non-reference field %v", ErrCorruptStream, fv.Type())
	}
	if !val.Type().AssignableTo(fv.Type()) {
		return fmt.Errorf("%w: object %d of type %v is not assignable to %v",
			ErrCorruptStream, id, val.Type(), fv.Type())
	}
	if boxed {
		// The interface holds a copy, so it is taken after the box's body.
		c.boxFixups = append(c.boxFixups, func() { fv.Set(val) })
		return nil
	}
	fv.Set(val)
	return nil
}

// instanceValue converts a table entry to its user-facing form: struct
// and array instances stay behind their pointer, everything else is
// unwrapped to a value.
func (c *readContext) instanceValue(id int) any {
	if id == 0 {
		return nil
	}
	inst := c.objects[id]
	if k := c.types[c.objTypeIDs[id]].Type.Kind(); k == reflect.Struct || k == reflect.Array {
		return inst.Interface()
	}
	return inst.Elem().Interface()
}

// ============================================================================
// Deserialization driver
// ============================================================================

// instantiable rejects table types that can never be the runtime type
// of an instance. Ids in the schema-only region are rejected separately.
func instantiable(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Chan, reflect.Func,
		reflect.Complex64, reflect.Complex128, reflect.UnsafePointer, reflect.Invalid:
		return false
	}
	return true
}

func (s *Serializer) decode(buf *ByteBuffer) (any, error) {
	c := &readContext{s: s, buf: buf}

	// Header.
	typesCount := int(buf.ReadVarUint32())
	objectsCount := int(buf.ReadVarUint32())
	typeCountForObjects := int(buf.ReadVarUint32())
	stringTypeID := int(buf.ReadVarint32())
	if err := buf.Err(); err != nil {
		return nil, err
	}
	if objectsCount < 1 || typesCount < 0 ||
		typeCountForObjects < 0 || typeCountForObjects > typesCount ||
		stringTypeID < -1 || stringTypeID >= typesCount {
		return nil, fmt.Errorf("%w: inconsistent header counts", ErrCorruptStream)
	}
	// A type name takes at least one byte and a creation at least two;
	// counts beyond the remaining input are truncation, not data.
	if typesCount > buf.remaining() || objectsCount-1 > buf.remaining() {
		return nil, ErrTruncatedStream
	}
	c.wideTypes = typesCount > wideID
	c.wideObjects = objectsCount-1 > wideID

	// Type names, resolved against the registry.
	c.types = make([]*streamType, typesCount)
	for i := 0; i < typesCount; i++ {
		name := buf.ReadString()
		if err := buf.Err(); err != nil {
			return nil, err
		}
		t, err := s.registry.Resolve(name)
		if err != nil {
			return nil, err
		}
		c.types[i] = &streamType{Type: t, Name: name}
	}

	// Schema rows.
	for _, e := range c.types {
		count := buf.ReadByte_()
		if count == schemaSentinel {
			e.Special = true
		} else {
			e.Fields = make([]schemaField, count)
			for j := range e.Fields {
				fid := c.readTypeID()
				fname := buf.ReadString()
				if fid < 0 || fid >= typesCount {
					return nil, fmt.Errorf("%w: field type id %d out of range", ErrCorruptStream, fid)
				}
				e.Fields[j] = schemaField{TypeID: fid, Name: fname}
			}
		}
		if err := buf.Err(); err != nil {
			return nil, err
		}
		e.Custom = e.Type.Kind() == reflect.Struct && isCustomType(e.Type)
	}

	// Validate every row against the local definitions before touching
	// any object data.
	for _, e := range c.types {
		if err := validateSchema(e, c.types); err != nil {
			return nil, err
		}
	}

	// Creations: allocate every object uninitialized, materializing
	// string contents and slice lengths.
	c.objects = make([]reflect.Value, objectsCount)
	c.objTypeIDs = make([]int, objectsCount)
	for id := 1; id < objectsCount; id++ {
		tid := c.readTypeID()
		if err := buf.Err(); err != nil {
			return nil, err
		}
		if tid < 0 || tid >= typeCountForObjects {
			return nil, fmt.Errorf("%w: object %d has schema-only type id %d", ErrCorruptStream, id, tid)
		}
		t := c.types[tid].Type
		if !instantiable(t) {
			return nil, fmt.Errorf("%w: object %d has non-instantiable type %v", ErrCorruptStream, id, t)
		}
		pv := reflect.New(t)
		switch t.Kind() {
		case reflect.String:
			pv.Elem().SetString(buf.ReadString())
		case reflect.Slice:
			n := int(buf.ReadInt32())
			if err := buf.Err(); err != nil {
				return nil, err
			}
			if n < 0 {
				return nil, fmt.Errorf("%w: negative length %d for object %d", ErrCorruptStream, n, id)
			}
			pv.Elem().Set(reflect.MakeSlice(t, n, n))
		}
		if err := buf.Err(); err != nil {
			return nil, err
		}
		c.objects[id] = pv
		c.objTypeIDs[id] = tid
	}

	// Bodies, in id order.
	for id := 1; id < objectsCount; id++ {
		e := c.types[c.objTypeIDs[id]]
		if e.Custom {
			if err := c.readCustomBody(id); err != nil {
				return nil, err
			}
			continue
		}
		cd, err := s.codecFor(e.Type)
		if err != nil {
			return nil, err
		}
		if err := cd.read(c, c.objects[id].Elem()); err != nil {
			return nil, err
		}
		if err := buf.Err(); err != nil {
			return nil, err
		}
	}
	for _, fix := range c.boxFixups {
		fix()
	}

	// Deferred custom construction: every referent now exists and has
	// its fields filled.
	for _, d := range c.deferred {
		pv := c.objects[d.id]
		um, ok := pv.Interface().(GraphUnmarshaler)
		if !ok {
			return nil, fmt.Errorf("%w: %v", ErrNoUnmarshaler, pv.Type().Elem())
		}
		m := NewMembers()
		for j, name := range d.names {
			m.Set(name, c.instanceValue(d.ids[j]))
		}
		if err := um.UnmarshalGraph(m); err != nil {
			return nil, fmt.Errorf("graphpack: UnmarshalGraph of %v: %w", pv.Type().Elem(), err)
		}
	}

	// Post-deserialization callbacks, in id order.
	for id := 1; id < objectsCount; id++ {
		if pu, ok := c.objects[id].Interface().(PostUnmarshaler); ok {
			pu.AfterUnmarshalGraph()
		}
	}

	if objectsCount == 1 {
		return nil, nil
	}
	return c.instanceValue(1), nil
}

// readCustomBody parses the member list of a custom-serialized
// instance and defers its construction.
func (c *readContext) readCustomBody(id int) error {
	count := int(c.buf.ReadVarUint32())
	if err := c.buf.Err(); err != nil {
		return err
	}
	if count > c.buf.remaining() {
		return ErrTruncatedStream
	}
	d := deferredCustom{
		id:    id,
		names: make([]string, count),
		ids:   make([]int, count),
	}
	for j := 0; j < count; j++ {
		d.names[j] = c.buf.ReadString()
		vid := c.readObjectID()
		if err := c.buf.Err(); err != nil {
			return err
		}
		if vid < 0 || vid >= len(c.objects) {
			return fmt.Errorf("%w: member %q references object %d out of range", ErrCorruptStream, d.names[j], vid)
		}
		d.ids[j] = vid
	}
	c.deferred = append(c.deferred, d)
	return nil
}
