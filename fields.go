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
	"sort"
)

// TagName is the struct tag consulted by the field introspector.
// A field tagged `graphpack:"-"` is excluded from serialization.
const TagName = "graphpack"

// maxFieldCount is the largest number of serializable fields a struct
// may have. 255 is reserved as the schema sentinel for special types.
const maxFieldCount = 254

// fieldInfo stores field metadata computed once per type.
// The offset enables unsafe direct memory access at runtime, which also
// covers unexported fields.
type fieldInfo struct {
	Name   string
	Index  int
	Offset uintptr
	Type   reflect.Type
}

// serializableFields enumerates the instance fields of struct type t in
// the deterministic order used by both writer and reader: declaration
// set filtered by the exclusion tag, sorted lexicographically by field
// name. Embedded fields participate under their type name like any
// other field.
func serializableFields(t reflect.Type) ([]fieldInfo, error) {
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w: %v is not a struct", ErrUnsupportedType, t)
	}
	fields := make([]fieldInfo, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.Tag.Get(TagName) == "-" {
			continue
		}
		fields = append(fields, fieldInfo{
			Name:   f.Name,
			Index:  i,
			Offset: f.Offset,
			Type:   f.Type,
		})
	}
	if len(fields) > maxFieldCount {
		return nil, fmt.Errorf("%w: %v has %d fields", ErrTooManyFields, t, len(fields))
	}
	sort.Slice(fields, func(i, j int) bool {
		return fields[i].Name < fields[j].Name
	})
	return fields, nil
}
