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
	"strings"
)

// ============================================================================
// Stream inspection
// ============================================================================

// StreamInfo is the structural description of a stream's prelude,
// produced without resolving any type. Bodies are opaque (their layout
// is defined by the reader-side type definitions) and start at
// BodyOffset.
type StreamInfo struct {
	TypesCount          int
	ObjectsCount        int
	TypeCountForObjects int
	StringTypeID        int

	Types   []StreamTypeInfo
	Objects []StreamObjectInfo

	BodyOffset int
}

// StreamTypeInfo is one type table entry as recorded in the stream.
type StreamTypeInfo struct {
	Name    string
	Special bool
	Fields  []StreamFieldInfo
}

// StreamFieldInfo is one schema row entry.
type StreamFieldInfo struct {
	TypeID int
	Name   string
}

// StreamObjectInfo is one instance creation record.
type StreamObjectInfo struct {
	TypeID      int
	IsString    bool
	StringValue string
	IsSlice     bool
	Length      int
}

// Inspect parses the prelude of a serialized stream: header, type
// names, schema rows and instance creations. It requires no registry -
// slice types are recognized by their structural names and strings by
// the stream's string type id - and fails only on truncated or
// structurally invalid input.
func Inspect(data []byte) (*StreamInfo, error) {
	buf := NewByteBuffer(data)
	info := &StreamInfo{}

	info.TypesCount = int(buf.ReadVarUint32())
	info.ObjectsCount = int(buf.ReadVarUint32())
	info.TypeCountForObjects = int(buf.ReadVarUint32())
	info.StringTypeID = int(buf.ReadVarint32())
	if err := buf.Err(); err != nil {
		return nil, err
	}
	if info.ObjectsCount < 1 || info.TypesCount < 0 ||
		info.TypeCountForObjects < 0 || info.TypeCountForObjects > info.TypesCount ||
		info.StringTypeID < -1 || info.StringTypeID >= info.TypesCount {
		return nil, fmt.Errorf("%w: inconsistent header counts", ErrCorruptStream)
	}
	if info.TypesCount > buf.remaining() || info.ObjectsCount-1 > buf.remaining() {
		return nil, ErrTruncatedStream
	}
	wideTypes := info.TypesCount > wideID

	readTypeID := func() int {
		if wideTypes {
			return int(buf.ReadInt32())
		}
		return int(buf.ReadUint16())
	}

	info.Types = make([]StreamTypeInfo, info.TypesCount)
	for i := range info.Types {
		info.Types[i].Name = buf.ReadString()
		if err := buf.Err(); err != nil {
			return nil, err
		}
	}

	for i := range info.Types {
		e := &info.Types[i]
		count := buf.ReadByte_()
		if count == schemaSentinel {
			e.Special = true
		} else {
			e.Fields = make([]StreamFieldInfo, count)
			for j := range e.Fields {
				fid := readTypeID()
				name := buf.ReadString()
				if fid < 0 || fid >= info.TypesCount {
					return nil, fmt.Errorf("%w: field type id %d out of range", ErrCorruptStream, fid)
				}
				e.Fields[j] = StreamFieldInfo{TypeID: fid, Name: name}
			}
		}
		if err := buf.Err(); err != nil {
			return nil, err
		}
	}

	info.Objects = make([]StreamObjectInfo, 0, info.ObjectsCount-1)
	for id := 1; id < info.ObjectsCount; id++ {
		tid := readTypeID()
		if err := buf.Err(); err != nil {
			return nil, err
		}
		if tid < 0 || tid >= info.TypeCountForObjects {
			return nil, fmt.Errorf("%w: object %d has schema-only type id %d", ErrCorruptStream, id, tid)
		}
		obj := StreamObjectInfo{TypeID: tid}
		switch {
		case tid == info.StringTypeID:
			obj.IsString = true
			obj.StringValue = buf.ReadString()
		case strings.HasPrefix(info.Types[tid].Name, "[]"):
			obj.IsSlice = true
			obj.Length = int(buf.ReadInt32())
			if obj.Length < 0 {
				return nil, fmt.Errorf("%w: negative length %d for object %d", ErrCorruptStream, obj.Length, id)
			}
		}
		if err := buf.Err(); err != nil {
			return nil, err
		}
		info.Objects = append(info.Objects, obj)
	}

	info.BodyOffset = buf.ReaderIndex()
	return info, nil
}
