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
	"strings"
	"sync"

	"github.com/spaolacci/murmur3"
)

// ============================================================================
// Registry - name <-> type mapping
// ============================================================================

// Registry maps stable type names to Go types. Go cannot look a type up
// by name at runtime, so every named type that may appear in a stream
// must be registered before deserialization. Composite types (pointers,
// slices, arrays) and unnamed primitives use structural names and need
// no registration.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]reflect.Type
	byType map[reflect.Type]string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]reflect.Type),
		byType: make(map[reflect.Type]string),
	}
}

// builtin names for unnamed kinds. These resolve without registration
// and are shared between writer and reader by construction.
var builtinByType = map[reflect.Type]string{
	reflect.TypeOf(false):           "bool",
	reflect.TypeOf(int8(0)):         "int8",
	reflect.TypeOf(int16(0)):        "int16",
	reflect.TypeOf(int32(0)):        "int32",
	reflect.TypeOf(int64(0)):        "int64",
	reflect.TypeOf(int(0)):          "int",
	reflect.TypeOf(uint8(0)):        "uint8",
	reflect.TypeOf(uint16(0)):       "uint16",
	reflect.TypeOf(uint32(0)):       "uint32",
	reflect.TypeOf(uint64(0)):       "uint64",
	reflect.TypeOf(uint(0)):         "uint",
	reflect.TypeOf(uintptr(0)):      "uintptr",
	reflect.TypeOf(float32(0)):      "float32",
	reflect.TypeOf(float64(0)):      "float64",
	reflect.TypeOf(""):              "string",
	reflect.TypeFor[interface{}](): "any",
}

var builtinByName = func() map[string]reflect.Type {
	m := make(map[string]reflect.Type, len(builtinByType))
	for t, n := range builtinByType {
		m[n] = t
	}
	return m
}()

// DerivedName returns the default stable name for a named type:
// its package path joined with the type name.
func DerivedName(t reflect.Type) string {
	return t.PkgPath() + "." + t.Name()
}

// Register registers a named type and, transitively, every named type
// reachable through its declared field structure, under derived names.
// v may be an instance, a pointer to an instance, or a reflect.Type.
// Types that appear only at runtime behind interface fields must be
// registered individually.
func (r *Registry) Register(v any) error {
	return r.RegisterName(v, "")
}

// RegisterName registers a named type under an explicit name, then
// walks its declared field structure registering dependencies under
// derived names. Pass name == "" for the derived default.
func (r *Registry) RegisterName(v any, name string) error {
	t := typeOfOperand(v)
	if t == nil {
		return fmt.Errorf("%w: cannot register nil", ErrUnsupportedType)
	}
	if t.Name() == "" {
		return fmt.Errorf("%w: %v is unnamed; composite types need no registration", ErrUnsupportedType, t)
	}
	if name == "" {
		name = DerivedName(t)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.addLocked(t, name); err != nil {
		return err
	}
	return r.walkLocked(t)
}

// typeOfOperand accepts an instance, a pointer to an instance (the
// `(*T)(nil)` idiom for interfaces), or a reflect.Type.
func typeOfOperand(v any) reflect.Type {
	if rt, ok := v.(reflect.Type); ok {
		return rt
	}
	t := reflect.TypeOf(v)
	if t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t
}

func (r *Registry) addLocked(t reflect.Type, name string) error {
	if existing, ok := r.byName[name]; ok && existing != t {
		return fmt.Errorf("graphpack: name %q already registered for %v", name, existing)
	}
	// An explicit registration overrides an earlier derived name; the
	// old name stays resolvable for streams already written with it.
	r.byType[t] = name
	r.byName[name] = t
	return nil
}

// walkLocked registers the named types reachable through t's declared
// structure. Interfaces terminate the walk: their implementations are
// runtime knowledge.
func (r *Registry) walkLocked(t reflect.Type) error {
	switch t.Kind() {
	case reflect.Ptr, reflect.Slice, reflect.Array:
		return r.walkChildLocked(t.Elem())
	case reflect.Struct:
		fields, err := serializableFields(t)
		if err != nil {
			return err
		}
		for _, f := range fields {
			if err := r.walkChildLocked(f.Type); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *Registry) walkChildLocked(t reflect.Type) error {
	if t.Name() != "" {
		if _, builtin := builtinByType[t]; !builtin {
			if _, ok := r.byType[t]; ok {
				return nil // already registered, subtree done
			}
			if err := r.addLocked(t, DerivedName(t)); err != nil {
				return err
			}
		}
	}
	return r.walkLocked(t)
}

// canonicalRefType strips the name from reference-kind types: a named
// slice, string or pointer type behaves exactly like its structural
// form on the wire, and canonicalizing keeps the creation prelude
// parseable without a registry. Element and pointee names survive.
func canonicalRefType(t reflect.Type) reflect.Type {
	switch t.Kind() {
	case reflect.String:
		return reflect.TypeOf("")
	case reflect.Slice:
		return reflect.SliceOf(t.Elem())
	case reflect.Ptr:
		return reflect.PointerTo(t.Elem())
	}
	return t
}

// nameOf returns the wire name of t: builtin, structural, or the
// registered name. An unregistered named type is not serializable.
func (r *Registry) nameOf(t reflect.Type) (string, error) {
	t = canonicalRefType(t)
	if n, ok := builtinByType[t]; ok {
		return n, nil
	}
	if t.Name() != "" {
		r.mu.RLock()
		n, ok := r.byType[t]
		r.mu.RUnlock()
		if !ok {
			return "", fmt.Errorf("%w: %v", ErrNotSerializable, t)
		}
		return n, nil
	}
	switch t.Kind() {
	case reflect.Ptr:
		n, err := r.nameOf(t.Elem())
		if err != nil {
			return "", err
		}
		return "*" + n, nil
	case reflect.Slice:
		n, err := r.nameOf(t.Elem())
		if err != nil {
			return "", err
		}
		return "[]" + n, nil
	case reflect.Array:
		n, err := r.nameOf(t.Elem())
		if err != nil {
			return "", err
		}
		return "[" + strconv.Itoa(t.Len()) + "]" + n, nil
	}
	return "", fmt.Errorf("%w: %v", ErrUnsupportedType, t)
}

// Resolve maps a wire name back to a Go type.
func (r *Registry) Resolve(name string) (reflect.Type, error) {
	if t, ok := builtinByName[name]; ok {
		return t, nil
	}
	switch {
	case strings.HasPrefix(name, "*"):
		elem, err := r.Resolve(name[1:])
		if err != nil {
			return nil, err
		}
		return reflect.PointerTo(elem), nil
	case strings.HasPrefix(name, "[]"):
		elem, err := r.Resolve(name[2:])
		if err != nil {
			return nil, err
		}
		return reflect.SliceOf(elem), nil
	case strings.HasPrefix(name, "["):
		end := strings.IndexByte(name, ']')
		if end < 0 {
			return nil, fmt.Errorf("%w: %q", ErrUnknownType, name)
		}
		n, err := strconv.Atoi(name[1:end])
		if err != nil || n < 0 {
			return nil, fmt.Errorf("%w: %q", ErrUnknownType, name)
		}
		elem, err := r.Resolve(name[end+1:])
		if err != nil {
			return nil, err
		}
		return reflect.ArrayOf(n, elem), nil
	}
	r.mu.RLock()
	t, ok := r.byName[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, name)
	}
	return t, nil
}

// ============================================================================
// Per-stream type table
// ============================================================================

// schemaField is one row entry of a type's persisted schema:
// the declared field type (as a table id) and the field name.
type schemaField struct {
	TypeID int
	Name   string
}

// typeEntry describes one type in a stream's type table.
type typeEntry struct {
	Type    reflect.Type
	Name    string
	Special bool // array/primitive/pointer/interface/custom: sentinel schema row
	Custom  bool
	Fields  []schemaField // nil when Special
}

// typeTable is the ordered type collection built during a single write.
// Insertion order defines type ids.
type typeTable struct {
	entries []*typeEntry
	ids     map[reflect.Type]int
}

func newTypeTable() *typeTable {
	return &typeTable{ids: make(map[reflect.Type]int)}
}

// isCustomType reports whether struct type t opts into key-value
// self-description. Checked on the pointer type so both receiver forms
// qualify.
func isCustomType(t reflect.Type) bool {
	return reflect.PointerTo(t).Implements(graphMarshalerType)
}

// isSpecialType reports whether t carries the 255 sentinel instead of a
// field schema: everything that is not a plain, non-custom struct.
func isSpecialType(t reflect.Type) bool {
	return t.Kind() != reflect.Struct || isCustomType(t)
}

// idOf returns the table id of t, inserting on first query. Reference
// kinds are canonicalized so a named slice and its structural form
// share one entry.
func (tt *typeTable) idOf(t reflect.Type, reg *Registry) (int, error) {
	t = canonicalRefType(t)
	if id, ok := tt.ids[t]; ok {
		return id, nil
	}
	name, err := reg.nameOf(t)
	if err != nil {
		return 0, err
	}
	id := len(tt.entries)
	tt.entries = append(tt.entries, &typeEntry{
		Type:    t,
		Name:    name,
		Special: isSpecialType(t),
		Custom:  t.Kind() == reflect.Struct && isCustomType(t),
	})
	tt.ids[t] = id
	return id, nil
}

// finalizeSchemas is the scan-types pass: it fills the schema rows of
// every plain struct entry and registers each declared field type (and
// each pointee/element type) not yet present. Iterating with a cursor
// makes the registration transitive.
func (tt *typeTable) finalizeSchemas(reg *Registry) error {
	for i := 0; i < len(tt.entries); i++ {
		e := tt.entries[i]
		switch {
		case !e.Special:
			fields, err := serializableFields(e.Type)
			if err != nil {
				return err
			}
			e.Fields = make([]schemaField, len(fields))
			for j, f := range fields {
				fid, err := tt.idOf(f.Type, reg)
				if err != nil {
					return err
				}
				e.Fields[j] = schemaField{TypeID: fid, Name: f.Name}
			}
		case e.Type.Kind() == reflect.Ptr,
			e.Type.Kind() == reflect.Slice,
			e.Type.Kind() == reflect.Array:
			// Register the pointee/element so the reader validates its
			// schema even when no instance of it appears.
			if _, err := tt.idOf(e.Type.Elem(), reg); err != nil {
				return err
			}
		}
	}
	return nil
}

// stringTypeID returns the table id of the plain string type, -1 if
// strings do not appear in this stream.
func (tt *typeTable) stringTypeID() int {
	if id, ok := tt.ids[reflect.TypeOf("")]; ok {
		return id
	}
	return -1
}

// ============================================================================
// Schema fingerprints & read-side validation
// ============================================================================

// schemaFingerprint condenses a schema row to 32 bits for mismatch
// diagnostics; validation itself compares field by field. Never
// written to the wire.
func schemaFingerprint(fields []schemaField, typeNameOf func(int) string) uint32 {
	var sb strings.Builder
	for _, f := range fields {
		sb.WriteString(f.Name)
		sb.WriteString(",")
		sb.WriteString(typeNameOf(f.TypeID))
		sb.WriteString(";")
	}
	h1, _ := murmur3.Sum128WithSeed([]byte(sb.String()), 47)
	return uint32(h1)
}

// streamType is a resolved type table entry on the read side: the
// schema row as it appeared in the stream, plus the locally resolved
// type.
type streamType struct {
	Type    reflect.Type
	Name    string
	Special bool
	Custom  bool
	Fields  []schemaField
}

// validateSchema checks one resolved stream entry against the local
// definition of its type. Any difference in specialness, field count,
// field order, field name, or declared field type is fatal.
func validateSchema(e *streamType, all []*streamType) error {
	localSpecial := isSpecialType(e.Type)
	if e.Special != localSpecial {
		return fmt.Errorf("%w: type %s is special=%v in stream, special=%v locally",
			ErrSchemaSpecialMismatch, e.Name, e.Special, localSpecial)
	}
	if e.Special {
		return nil
	}
	local, err := serializableFields(e.Type)
	if err != nil {
		return err
	}
	nameOf := func(id int) string { return all[id].Name }
	if len(local) != len(e.Fields) {
		return fmt.Errorf("%w: type %s has %d fields in stream, %d locally",
			ErrSchemaFieldMismatch, e.Name, len(e.Fields), len(local))
	}
	for i, f := range e.Fields {
		localType := canonicalRefType(local[i].Type)
		if f.Name != local[i].Name {
			return fmt.Errorf("%w: type %s field %d is %q in stream, %q locally (stream fingerprint %08x)",
				ErrSchemaFieldMismatch, e.Name, i, f.Name, local[i].Name,
				schemaFingerprint(e.Fields, nameOf))
		}
		if all[f.TypeID].Type != localType {
			return fmt.Errorf("%w: type %s field %q declared as %s in stream, %v locally (stream fingerprint %08x)",
				ErrSchemaFieldMismatch, e.Name, f.Name, all[f.TypeID].Name, local[i].Type,
				schemaFingerprint(e.Fields, nameOf))
		}
	}
	return nil
}
