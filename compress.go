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
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// ============================================================================
// Compressed envelope
// ============================================================================

// Compression identifies the algorithm of a stored-stream envelope.
// Tags are persisted (1 byte each); changing them breaks envelope
// compatibility.
type Compression uint8

const (
	// CompressionNone stores the stream uncompressed.
	CompressionNone Compression = 0

	// CompressionLZ4 uses LZ4 block compression: fast decode, modest
	// ratio. Good default for mixed binary graphs.
	CompressionLZ4 Compression = 1

	// CompressionZstd uses zstd at the default level: better ratios
	// for string-heavy graphs at higher CPU cost.
	CompressionZstd Compression = 2
)

// String returns the human-readable name of a compression tag.
func (tag Compression) String() string {
	switch tag {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(tag))
	}
}

// ParseCompression parses a compression tag from its string form.
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return 0, fmt.Errorf("graphpack: unknown compression tag: %q", name)
	}
}

var errIncompressible = errors.New("graphpack: data is incompressible")

// zstdEncoder and zstdDecoder are reused across calls; both are safe
// for concurrent use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("graphpack: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("graphpack: zstd decoder initialization failed: " + err.Error())
	}
}

// EncodeEnvelope wraps a serialized stream in a compression envelope:
// a 1-byte tag, the var-int uncompressed size, then the payload.
// When the requested algorithm does not shrink the data, the envelope
// silently falls back to CompressionNone.
func EncodeEnvelope(stream []byte, tag Compression) ([]byte, error) {
	payload := stream
	switch tag {
	case CompressionNone:
	case CompressionLZ4:
		compressed, err := compressLZ4(stream)
		switch {
		case errors.Is(err, errIncompressible):
			tag = CompressionNone
		case err != nil:
			return nil, err
		default:
			payload = compressed
		}
	case CompressionZstd:
		compressed := zstdEncoder.EncodeAll(stream, nil)
		if len(compressed) >= len(stream) {
			tag = CompressionNone
		} else {
			payload = compressed
		}
	default:
		return nil, fmt.Errorf("graphpack: unsupported compression tag: %d", tag)
	}

	buf := NewByteBuffer(make([]byte, 0, len(payload)+6))
	buf.WriteByte_(byte(tag))
	buf.WriteVarUint32(uint32(len(stream)))
	buf.WriteBinary(payload)
	out := make([]byte, buf.WriterIndex())
	copy(out, buf.Bytes())
	return out, nil
}

// DecodeEnvelope unwraps a compression envelope and returns the
// original serialized stream.
func DecodeEnvelope(data []byte) ([]byte, error) {
	buf := NewByteBuffer(data)
	tag := Compression(buf.ReadByte_())
	size := int(buf.ReadVarUint32())
	if err := buf.Err(); err != nil {
		return nil, err
	}
	payload := data[buf.ReaderIndex():]

	switch tag {
	case CompressionNone:
		if len(payload) != size {
			return nil, fmt.Errorf("%w: envelope size %d does not match payload %d",
				ErrCorruptStream, size, len(payload))
		}
		return payload, nil
	case CompressionLZ4:
		return decompressLZ4(payload, size)
	case CompressionZstd:
		out, err := zstdDecoder.DecodeAll(payload, make([]byte, 0, size))
		if err != nil {
			return nil, fmt.Errorf("graphpack: zstd decompress: %w", err)
		}
		if len(out) != size {
			return nil, fmt.Errorf("%w: zstd envelope yielded %d bytes, expected %d",
				ErrCorruptStream, len(out), size)
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: unknown compression tag %d", ErrCorruptStream, uint8(tag))
}

func compressLZ4(data []byte) ([]byte, error) {
	bound := lz4.CompressBlockBound(len(data))
	destination := make([]byte, bound)
	written, err := lz4.CompressBlock(data, destination, nil)
	if err != nil {
		return nil, fmt.Errorf("graphpack: lz4 compress: %w", err)
	}
	// CompressBlock returns 0 for incompressible input; an output no
	// smaller than the input is not worth the envelope either.
	if written == 0 || written >= len(data) {
		return nil, errIncompressible
	}
	return destination[:written], nil
}

func decompressLZ4(compressed []byte, size int) ([]byte, error) {
	destination := make([]byte, size)
	read, err := lz4.UncompressBlock(compressed, destination)
	if err != nil {
		return nil, fmt.Errorf("graphpack: lz4 decompress: %w", err)
	}
	if read != size {
		return nil, fmt.Errorf("%w: lz4 envelope yielded %d bytes, expected %d",
			ErrCorruptStream, read, size)
	}
	return destination, nil
}

// MarshalCompressed serializes v and wraps the stream in a compression
// envelope.
func (s *Serializer) MarshalCompressed(v any, tag Compression) ([]byte, error) {
	stream, err := s.Marshal(v)
	if err != nil {
		return nil, err
	}
	return EncodeEnvelope(stream, tag)
}

// UnmarshalCompressed unwraps a compression envelope and reconstructs
// the graph it carries.
func (s *Serializer) UnmarshalCompressed(data []byte) (any, error) {
	stream, err := DecodeEnvelope(data)
	if err != nil {
		return nil, err
	}
	return s.Unmarshal(stream)
}
