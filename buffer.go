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
	"encoding/binary"
	"math"
)

// ============================================================================
// ByteBuffer - var-int byte stream
// ============================================================================

// ByteBuffer is the sequential byte stream all other components write to
// and read from. Fixed-width primitives pass through in little-endian
// order; lengths and counts use 7-bit var-int encoding (LSB first,
// continuation bit in the MSB). Strings are var-int length-prefixed
// UTF-8.
//
// Reads past the end of the buffer set a sticky ErrTruncatedStream and
// return zero values; callers check Err at phase boundaries instead of
// threading an error through every primitive read.
type ByteBuffer struct {
	data        []byte
	writerIndex int
	readerIndex int
	err         error
}

// NewByteBuffer creates a buffer over data. A nil data slice makes an
// empty buffer ready for writing.
func NewByteBuffer(data []byte) *ByteBuffer {
	return &ByteBuffer{data: data, writerIndex: len(data)}
}

// Reset clears the buffer for reuse.
func (b *ByteBuffer) Reset() {
	b.writerIndex = 0
	b.readerIndex = 0
	b.err = nil
}

// Err returns the sticky read error, nil if all reads so far completed.
func (b *ByteBuffer) Err() error { return b.err }

// WriterIndex returns the current write position.
func (b *ByteBuffer) WriterIndex() int { return b.writerIndex }

// ReaderIndex returns the current read position.
func (b *ByteBuffer) ReaderIndex() int { return b.readerIndex }

// Bytes returns the written portion of the buffer.
func (b *ByteBuffer) Bytes() []byte { return b.data[:b.writerIndex] }

func (b *ByteBuffer) grow(n int) {
	if b.writerIndex+n > len(b.data) {
		if b.writerIndex+n <= cap(b.data) {
			b.data = b.data[:cap(b.data)]
			return
		}
		newData := make([]byte, 2*(b.writerIndex+n))
		copy(newData, b.data[:b.writerIndex])
		b.data = newData
	}
}

func (b *ByteBuffer) remaining() int { return b.writerIndex - b.readerIndex }

// fail records the first truncation and poisons all further reads.
func (b *ByteBuffer) fail() {
	if b.err == nil {
		b.err = ErrTruncatedStream
	}
}

// ============================================================================
// Fixed-width writes
// ============================================================================

func (b *ByteBuffer) WriteBool(v bool) {
	if v {
		b.WriteByte_(1)
	} else {
		b.WriteByte_(0)
	}
}

func (b *ByteBuffer) WriteByte_(v byte) {
	b.grow(1)
	b.data[b.writerIndex] = v
	b.writerIndex++
}

func (b *ByteBuffer) WriteInt16(v int16) {
	b.grow(2)
	binary.LittleEndian.PutUint16(b.data[b.writerIndex:], uint16(v))
	b.writerIndex += 2
}

func (b *ByteBuffer) WriteUint16(v uint16) {
	b.grow(2)
	binary.LittleEndian.PutUint16(b.data[b.writerIndex:], v)
	b.writerIndex += 2
}

func (b *ByteBuffer) WriteInt32(v int32) {
	b.grow(4)
	binary.LittleEndian.PutUint32(b.data[b.writerIndex:], uint32(v))
	b.writerIndex += 4
}

func (b *ByteBuffer) WriteUint32(v uint32) {
	b.grow(4)
	binary.LittleEndian.PutUint32(b.data[b.writerIndex:], v)
	b.writerIndex += 4
}

func (b *ByteBuffer) WriteInt64(v int64) {
	b.grow(8)
	binary.LittleEndian.PutUint64(b.data[b.writerIndex:], uint64(v))
	b.writerIndex += 8
}

func (b *ByteBuffer) WriteUint64(v uint64) {
	b.grow(8)
	binary.LittleEndian.PutUint64(b.data[b.writerIndex:], v)
	b.writerIndex += 8
}

func (b *ByteBuffer) WriteFloat32(v float32) {
	b.WriteUint32(math.Float32bits(v))
}

func (b *ByteBuffer) WriteFloat64(v float64) {
	b.WriteUint64(math.Float64bits(v))
}

func (b *ByteBuffer) WriteBinary(v []byte) {
	b.grow(len(v))
	copy(b.data[b.writerIndex:], v)
	b.writerIndex += len(v)
}

// ============================================================================
// Var-int writes
// ============================================================================

// WriteVarUint32 writes v as a 7-bit encoded var-int, one to five bytes.
func (b *ByteBuffer) WriteVarUint32(v uint32) int8 {
	var n int8
	b.grow(5)
	for v >= 0x80 {
		b.data[b.writerIndex] = byte(v) | 0x80
		b.writerIndex++
		v >>= 7
		n++
	}
	b.data[b.writerIndex] = byte(v)
	b.writerIndex++
	return n + 1
}

// WriteVarint32 writes a signed 32-bit value with the same 7-bit
// encoding, reinterpreting the bits as unsigned. Negative values always
// take five bytes.
func (b *ByteBuffer) WriteVarint32(v int32) int8 {
	return b.WriteVarUint32(uint32(v))
}

// WriteString writes a var-int byte length followed by UTF-8 bytes.
func (b *ByteBuffer) WriteString(v string) {
	b.WriteVarUint32(uint32(len(v)))
	b.grow(len(v))
	copy(b.data[b.writerIndex:], v)
	b.writerIndex += len(v)
}

// ============================================================================
// Fixed-width reads
// ============================================================================

func (b *ByteBuffer) ReadBool() bool {
	return b.ReadByte_() != 0
}

func (b *ByteBuffer) ReadByte_() byte {
	if b.remaining() < 1 {
		b.fail()
		return 0
	}
	v := b.data[b.readerIndex]
	b.readerIndex++
	return v
}

func (b *ByteBuffer) ReadInt16() int16 {
	return int16(b.ReadUint16())
}

func (b *ByteBuffer) ReadUint16() uint16 {
	if b.remaining() < 2 {
		b.fail()
		return 0
	}
	v := binary.LittleEndian.Uint16(b.data[b.readerIndex:])
	b.readerIndex += 2
	return v
}

func (b *ByteBuffer) ReadInt32() int32 {
	return int32(b.ReadUint32())
}

func (b *ByteBuffer) ReadUint32() uint32 {
	if b.remaining() < 4 {
		b.fail()
		return 0
	}
	v := binary.LittleEndian.Uint32(b.data[b.readerIndex:])
	b.readerIndex += 4
	return v
}

func (b *ByteBuffer) ReadInt64() int64 {
	return int64(b.ReadUint64())
}

func (b *ByteBuffer) ReadUint64() uint64 {
	if b.remaining() < 8 {
		b.fail()
		return 0
	}
	v := binary.LittleEndian.Uint64(b.data[b.readerIndex:])
	b.readerIndex += 8
	return v
}

func (b *ByteBuffer) ReadFloat32() float32 {
	return math.Float32frombits(b.ReadUint32())
}

func (b *ByteBuffer) ReadFloat64() float64 {
	return math.Float64frombits(b.ReadUint64())
}

// ReadBinary reads n raw bytes. The returned slice aliases the buffer.
func (b *ByteBuffer) ReadBinary(n int) []byte {
	if n < 0 || b.remaining() < n {
		b.fail()
		return nil
	}
	v := b.data[b.readerIndex : b.readerIndex+n]
	b.readerIndex += n
	return v
}

// ============================================================================
// Var-int reads
// ============================================================================

// ReadVarUint32 reads a 7-bit encoded var-int of up to five bytes.
func (b *ByteBuffer) ReadVarUint32() uint32 {
	var v uint32
	var shift uint
	for i := 0; i < 5; i++ {
		if b.remaining() < 1 {
			b.fail()
			return 0
		}
		c := b.data[b.readerIndex]
		b.readerIndex++
		v |= uint32(c&0x7F) << shift
		if c < 0x80 {
			return v
		}
		shift += 7
	}
	// More than five continuation bytes cannot encode a 32-bit value.
	if b.err == nil {
		b.err = ErrCorruptStream
	}
	return 0
}

// ReadVarint32 reads a signed var-int written by WriteVarint32.
func (b *ByteBuffer) ReadVarint32() int32 {
	return int32(b.ReadVarUint32())
}

// ReadString reads a var-int length-prefixed UTF-8 string.
func (b *ByteBuffer) ReadString() string {
	n := b.ReadVarUint32()
	if n == 0 {
		return ""
	}
	data := b.ReadBinary(int(n))
	return string(data)
}
