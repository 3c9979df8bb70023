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

import "errors"

// ErrNotSerializable indicates a named type on the scan path was never
// registered with the serializer.
var ErrNotSerializable = errors.New("graphpack: type not registered for serialization")

// ErrUnsupportedType indicates a field or value kind the serializer
// cannot represent (maps, channels, funcs, pointers to reference kinds).
var ErrUnsupportedType = errors.New("graphpack: unsupported type")

// ErrTooManyFields indicates a struct with 255 or more serializable fields.
var ErrTooManyFields = errors.New("graphpack: too many serializable fields")

// ErrUnknownType indicates a type name in the stream that cannot be
// resolved against the registry of the reading process.
var ErrUnknownType = errors.New("graphpack: unknown type name")

// ErrSchemaSpecialMismatch indicates a type that is special
// (array/primitive/custom) on one side of the stream but not the other.
var ErrSchemaSpecialMismatch = errors.New("graphpack: schema special-kind mismatch")

// ErrSchemaFieldMismatch indicates a difference in field count, order,
// name, or declared field type between writer and reader.
var ErrSchemaFieldMismatch = errors.New("graphpack: schema field mismatch")

// ErrNoUnmarshaler indicates a custom-serialized type in the stream
// whose local definition lacks the GraphUnmarshaler method.
var ErrNoUnmarshaler = errors.New("graphpack: custom-serialized type has no UnmarshalGraph")

// ErrTruncatedStream indicates the stream ended in the middle of a value.
var ErrTruncatedStream = errors.New("graphpack: truncated stream")

// ErrCorruptStream indicates structurally invalid stream contents, such
// as an object id or type id out of range.
var ErrCorruptStream = errors.New("graphpack: corrupt stream")
