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
	"strconv"
	"unsafe"
)

// ============================================================================
// Codec - per-type scanner/writer/reader triple
// ============================================================================

// codec is the schema-specialized triple generated once per concrete
// type and cached on the serializer. scan enqueues the references an
// instance contains at depth 1; write emits the instance's field
// content; read restores it into pre-allocated storage. None of the
// three touch object ids or type tags for the instance itself - the
// drivers own the prelude.
type codec struct {
	scan  func(c *writeContext, v reflect.Value) error
	write func(c *writeContext, v reflect.Value) error
	read  func(c *readContext, v reflect.Value) error

	// refBearing is false when scan is provably a no-op, letting
	// containers skip per-element scans entirely.
	refBearing bool
}

func noopScan(*writeContext, reflect.Value) error  { return nil }
func noopWrite(*writeContext, reflect.Value) error { return nil }
func noopRead(*readContext, reflect.Value) error   { return nil }

// codecFor returns the cached codec for concrete type t, building it on
// first use. Builds run outside the lock; duplicate builds are
// idempotent and the first inserted entry wins.
func (s *Serializer) codecFor(t reflect.Type) (*codec, error) {
	s.mu.RLock()
	c, ok := s.codecs[t]
	s.mu.RUnlock()
	if ok {
		return c, nil
	}
	c, err := s.buildCodec(t)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	if existing, ok := s.codecs[t]; ok {
		c = existing
	} else {
		s.codecs[t] = c
	}
	s.mu.Unlock()
	return c, nil
}

func (s *Serializer) buildCodec(t reflect.Type) (*codec, error) {
	switch t.Kind() {
	case reflect.Struct:
		if isCustomType(t) {
			return nil, fmt.Errorf("%w: custom-serializable %v cannot be serialized by value; hold it behind a pointer", ErrUnsupportedType, t)
		}
		return s.buildStructCodec(t)
	case reflect.String:
		// String content is materialized in the creation prelude.
		return &codec{scan: noopScan, write: noopWrite, read: noopRead}, nil
	case reflect.Bool,
		reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64, reflect.Int,
		reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uint,
		reflect.Uintptr, reflect.Float32, reflect.Float64:
		return buildPrimitiveCodec(t.Kind()), nil
	case reflect.Slice, reflect.Array:
		return s.buildSequenceCodec(t)
	}
	return nil, fmt.Errorf("%w: %v", ErrUnsupportedType, t)
}

// validatePointerTarget rejects pointer types whose pointee is itself a
// reference kind. Double indirection has no representation in the
// instance table.
func validatePointerTarget(t reflect.Type) error {
	switch t.Elem().Kind() {
	case reflect.Struct, reflect.Array,
		reflect.Bool,
		reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64, reflect.Int,
		reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uint,
		reflect.Uintptr, reflect.Float32, reflect.Float64:
		return nil
	}
	return fmt.Errorf("%w: pointer to reference type %v", ErrUnsupportedType, t)
}

// ============================================================================
// Primitive access
// ============================================================================

// writePrimitive emits the fixed-width little-endian bytes of the
// primitive at p. int, uint and uintptr always occupy 8 bytes on the
// wire regardless of the platform word size.
func writePrimitive(buf *ByteBuffer, k reflect.Kind, p unsafe.Pointer) {
	switch k {
	case reflect.Bool:
		buf.WriteBool(*(*bool)(p))
	case reflect.Int8:
		buf.WriteByte_(byte(*(*int8)(p)))
	case reflect.Int16:
		buf.WriteInt16(*(*int16)(p))
	case reflect.Int32:
		buf.WriteInt32(*(*int32)(p))
	case reflect.Int64:
		buf.WriteInt64(*(*int64)(p))
	case reflect.Int:
		buf.WriteInt64(int64(*(*int)(p)))
	case reflect.Uint8:
		buf.WriteByte_(*(*byte)(p))
	case reflect.Uint16:
		buf.WriteUint16(*(*uint16)(p))
	case reflect.Uint32:
		buf.WriteUint32(*(*uint32)(p))
	case reflect.Uint64:
		buf.WriteUint64(*(*uint64)(p))
	case reflect.Uint:
		buf.WriteUint64(uint64(*(*uint)(p)))
	case reflect.Uintptr:
		buf.WriteUint64(uint64(*(*uintptr)(p)))
	case reflect.Float32:
		buf.WriteFloat32(*(*float32)(p))
	case reflect.Float64:
		buf.WriteFloat64(*(*float64)(p))
	}
}

func readPrimitive(buf *ByteBuffer, k reflect.Kind, p unsafe.Pointer) {
	switch k {
	case reflect.Bool:
		*(*bool)(p) = buf.ReadBool()
	case reflect.Int8:
		*(*int8)(p) = int8(buf.ReadByte_())
	case reflect.Int16:
		*(*int16)(p) = buf.ReadInt16()
	case reflect.Int32:
		*(*int32)(p) = buf.ReadInt32()
	case reflect.Int64:
		*(*int64)(p) = buf.ReadInt64()
	case reflect.Int:
		v := buf.ReadInt64()
		if strconv.IntSize == 32 && (v > 1<<31-1 || v < -(1<<31)) {
			// Out-of-range values fail loudly rather than truncate.
			*(*int)(p) = 0
			if buf.err == nil {
				buf.err = ErrCorruptStream
			}
			return
		}
		*(*int)(p) = int(v)
	case reflect.Uint8:
		*(*byte)(p) = buf.ReadByte_()
	case reflect.Uint16:
		*(*uint16)(p) = buf.ReadUint16()
	case reflect.Uint32:
		*(*uint32)(p) = buf.ReadUint32()
	case reflect.Uint64:
		*(*uint64)(p) = buf.ReadUint64()
	case reflect.Uint:
		v := buf.ReadUint64()
		if uint64(uint(v)) != v && buf.err == nil {
			buf.err = ErrCorruptStream
		}
		*(*uint)(p) = uint(v)
	case reflect.Uintptr:
		v := buf.ReadUint64()
		if uint64(uintptr(v)) != v && buf.err == nil {
			buf.err = ErrCorruptStream
		}
		*(*uintptr)(p) = uintptr(v)
	case reflect.Float32:
		*(*float32)(p) = buf.ReadFloat32()
	case reflect.Float64:
		*(*float64)(p) = buf.ReadFloat64()
	}
}

func buildPrimitiveCodec(k reflect.Kind) *codec {
	return &codec{
		scan: noopScan,
		write: func(c *writeContext, v reflect.Value) error {
			writePrimitive(c.buf, k, v.Addr().UnsafePointer())
			return nil
		},
		read: func(c *readContext, v reflect.Value) error {
			readPrimitive(c.buf, k, v.Addr().UnsafePointer())
			return c.buf.Err()
		},
	}
}

// ============================================================================
// Struct codec
// ============================================================================

type planKind uint8

const (
	planFixed planKind = iota // primitive, inline fixed-width bytes
	planValue                 // embedded struct or array, structural recursion
	planRef                   // reference, object id on the wire
)

// fieldPlan is the per-field dispatch record of a struct codec.
type fieldPlan struct {
	name string
	off  uintptr
	typ  reflect.Type
	kind planKind
	prim reflect.Kind
	sub  *codec
}

func (s *Serializer) buildStructCodec(t reflect.Type) (*codec, error) {
	fields, err := serializableFields(t)
	if err != nil {
		return nil, err
	}

	plans := make([]fieldPlan, 0, len(fields))
	for _, f := range fields {
		p := fieldPlan{name: f.Name, off: f.Offset, typ: f.Type}
		switch f.Type.Kind() {
		case reflect.Bool,
			reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64, reflect.Int,
			reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uint,
			reflect.Uintptr, reflect.Float32, reflect.Float64:
			p.kind = planFixed
			p.prim = f.Type.Kind()
		case reflect.Struct, reflect.Array:
			sub, err := s.codecFor(f.Type)
			if err != nil {
				return nil, fmt.Errorf("field %v.%s: %w", t, f.Name, err)
			}
			p.kind = planValue
			p.sub = sub
		case reflect.Ptr:
			if err := validatePointerTarget(f.Type); err != nil {
				return nil, fmt.Errorf("field %v.%s: %w", t, f.Name, err)
			}
			p.kind = planRef
		case reflect.String, reflect.Slice, reflect.Interface:
			p.kind = planRef
		default:
			return nil, fmt.Errorf("field %v.%s: %w: %v", t, f.Name, ErrUnsupportedType, f.Type)
		}
		plans = append(plans, p)
	}

	// Only reference fields and ref-bearing embedded values matter to
	// the scanner; a type with neither gets a no-op scan.
	var scanPlans []fieldPlan
	for _, p := range plans {
		if p.kind == planRef || (p.kind == planValue && p.sub.refBearing) {
			scanPlans = append(scanPlans, p)
		}
	}

	c := &codec{refBearing: len(scanPlans) > 0}

	if len(scanPlans) == 0 {
		c.scan = noopScan
	} else {
		c.scan = func(wc *writeContext, v reflect.Value) error {
			base := unsafe.Pointer(v.UnsafeAddr())
			for i := range scanPlans {
				p := &scanPlans[i]
				fv := reflect.NewAt(p.typ, unsafe.Add(base, p.off)).Elem()
				if p.kind == planRef {
					if _, err := wc.mark(fv); err != nil {
						return fmt.Errorf("field %v.%s: %w", t, p.name, err)
					}
				} else if err := p.sub.scan(wc, fv); err != nil {
					return err
				}
			}
			return nil
		}
	}

	c.write = func(wc *writeContext, v reflect.Value) error {
		base := unsafe.Pointer(v.UnsafeAddr())
		for i := range plans {
			p := &plans[i]
			switch p.kind {
			case planFixed:
				writePrimitive(wc.buf, p.prim, unsafe.Add(base, p.off))
			case planValue:
				fv := reflect.NewAt(p.typ, unsafe.Add(base, p.off)).Elem()
				if err := p.sub.write(wc, fv); err != nil {
					return err
				}
			case planRef:
				fv := reflect.NewAt(p.typ, unsafe.Add(base, p.off)).Elem()
				id, err := wc.lookupID(fv)
				if err != nil {
					return fmt.Errorf("field %v.%s: %w", t, p.name, err)
				}
				wc.writeObjectID(id)
			}
		}
		return nil
	}

	c.read = func(rc *readContext, v reflect.Value) error {
		base := unsafe.Pointer(v.UnsafeAddr())
		for i := range plans {
			p := &plans[i]
			switch p.kind {
			case planFixed:
				readPrimitive(rc.buf, p.prim, unsafe.Add(base, p.off))
			case planValue:
				fv := reflect.NewAt(p.typ, unsafe.Add(base, p.off)).Elem()
				if err := p.sub.read(rc, fv); err != nil {
					return err
				}
			case planRef:
				fv := reflect.NewAt(p.typ, unsafe.Add(base, p.off)).Elem()
				id := rc.readObjectID()
				if err := rc.assignRef(fv, id); err != nil {
					return fmt.Errorf("field %v.%s: %w", t, p.name, err)
				}
			}
		}
		return rc.buf.Err()
	}

	return c, nil
}

// ============================================================================
// Sequence codec (slices and arrays)
// ============================================================================

// seqBase returns the address of the first element of a slice or an
// addressable array. Callers guarantee a non-zero length.
func seqBase(v reflect.Value) unsafe.Pointer {
	if v.Kind() == reflect.Slice {
		return unsafe.Pointer(v.Pointer())
	}
	return v.Addr().UnsafePointer()
}

func (s *Serializer) buildSequenceCodec(t reflect.Type) (*codec, error) {
	elem := t.Elem()
	switch elem.Kind() {
	case reflect.Uint8:
		// Byte sequences move as one raw block.
		return &codec{
			scan: noopScan,
			write: func(c *writeContext, v reflect.Value) error {
				if n := v.Len(); n > 0 {
					c.buf.WriteBinary(unsafe.Slice((*byte)(seqBase(v)), n))
				}
				return nil
			},
			read: func(c *readContext, v reflect.Value) error {
				if n := v.Len(); n > 0 {
					data := c.buf.ReadBinary(n)
					if data == nil {
						return c.buf.Err()
					}
					copy(unsafe.Slice((*byte)(seqBase(v)), n), data)
				}
				return nil
			},
		}, nil

	case reflect.Bool,
		reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64, reflect.Int,
		reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uint,
		reflect.Uintptr, reflect.Float32, reflect.Float64:
		k := elem.Kind()
		size := elem.Size()
		return &codec{
			scan: noopScan,
			write: func(c *writeContext, v reflect.Value) error {
				n := v.Len()
				if n == 0 {
					return nil
				}
				base := seqBase(v)
				for i := 0; i < n; i++ {
					writePrimitive(c.buf, k, unsafe.Add(base, uintptr(i)*size))
				}
				return nil
			},
			read: func(c *readContext, v reflect.Value) error {
				n := v.Len()
				if n == 0 {
					return nil
				}
				base := seqBase(v)
				for i := 0; i < n; i++ {
					readPrimitive(c.buf, k, unsafe.Add(base, uintptr(i)*size))
				}
				return c.buf.Err()
			},
		}, nil

	case reflect.Struct, reflect.Array:
		sub, err := s.codecFor(elem)
		if err != nil {
			return nil, fmt.Errorf("element of %v: %w", t, err)
		}
		c := &codec{refBearing: sub.refBearing}
		if sub.refBearing {
			c.scan = func(wc *writeContext, v reflect.Value) error {
				for i, n := 0, v.Len(); i < n; i++ {
					if err := sub.scan(wc, v.Index(i)); err != nil {
						return err
					}
				}
				return nil
			}
		} else {
			c.scan = noopScan
		}
		c.write = func(wc *writeContext, v reflect.Value) error {
			for i, n := 0, v.Len(); i < n; i++ {
				if err := sub.write(wc, v.Index(i)); err != nil {
					return err
				}
			}
			return nil
		}
		c.read = func(rc *readContext, v reflect.Value) error {
			for i, n := 0, v.Len(); i < n; i++ {
				if err := sub.read(rc, v.Index(i)); err != nil {
					return err
				}
			}
			return nil
		}
		return c, nil

	case reflect.Ptr, reflect.String, reflect.Slice, reflect.Interface:
		if elem.Kind() == reflect.Ptr {
			if err := validatePointerTarget(elem); err != nil {
				return nil, fmt.Errorf("element of %v: %w", t, err)
			}
		}
		return &codec{
			refBearing: true,
			scan: func(wc *writeContext, v reflect.Value) error {
				for i, n := 0, v.Len(); i < n; i++ {
					if _, err := wc.mark(v.Index(i)); err != nil {
						return fmt.Errorf("element %d of %v: %w", i, t, err)
					}
				}
				return nil
			},
			write: func(wc *writeContext, v reflect.Value) error {
				for i, n := 0, v.Len(); i < n; i++ {
					id, err := wc.lookupID(v.Index(i))
					if err != nil {
						return fmt.Errorf("element %d of %v: %w", i, t, err)
					}
					wc.writeObjectID(id)
				}
				return nil
			},
			read: func(rc *readContext, v reflect.Value) error {
				for i, n := 0, v.Len(); i < n; i++ {
					id := rc.readObjectID()
					if err := rc.assignRef(v.Index(i), id); err != nil {
						return fmt.Errorf("element %d of %v: %w", i, t, err)
					}
				}
				return rc.buf.Err()
			},
		}, nil
	}
	return nil, fmt.Errorf("element of %v: %w: %v", t, ErrUnsupportedType, elem)
}
