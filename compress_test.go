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
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	payload := []byte(strings.Repeat("compressible payload ", 100))

	for _, tag := range []Compression{CompressionNone, CompressionLZ4, CompressionZstd} {
		t.Run(tag.String(), func(t *testing.T) {
			enveloped, err := EncodeEnvelope(payload, tag)
			require.NoError(t, err)
			require.Equal(t, byte(tag), enveloped[0])
			if tag != CompressionNone {
				require.Less(t, len(enveloped), len(payload))
			}

			out, err := DecodeEnvelope(enveloped)
			require.NoError(t, err)
			require.True(t, bytes.Equal(payload, out))
		})
	}
}

func TestEnvelopeIncompressibleFallback(t *testing.T) {
	// Too small and too irregular for LZ4 to win.
	payload := []byte{0x01, 0xFE, 0x42, 0x99, 0x7C}
	enveloped, err := EncodeEnvelope(payload, CompressionLZ4)
	require.NoError(t, err)
	require.Equal(t, byte(CompressionNone), enveloped[0])

	out, err := DecodeEnvelope(enveloped)
	require.NoError(t, err)
	require.Equal(t, payload, out)
}

func TestEnvelopeErrors(t *testing.T) {
	t.Run("UnknownTag", func(t *testing.T) {
		_, err := DecodeEnvelope([]byte{9, 0})
		require.ErrorIs(t, err, ErrCorruptStream)
	})

	t.Run("SizeMismatch", func(t *testing.T) {
		enveloped, err := EncodeEnvelope([]byte("abcdef"), CompressionNone)
		require.NoError(t, err)
		_, err = DecodeEnvelope(enveloped[:len(enveloped)-1])
		require.ErrorIs(t, err, ErrCorruptStream)
	})

	t.Run("Truncated", func(t *testing.T) {
		_, err := DecodeEnvelope(nil)
		require.ErrorIs(t, err, ErrTruncatedStream)
	})
}

func TestMarshalCompressed(t *testing.T) {
	s := New()
	require.NoError(t, s.Register(sliceHolder{}))

	original := &sliceHolder{
		Names:   []string{strings.Repeat("na", 200), strings.Repeat("na", 200)},
		Numbers: make([]int32, 500),
	}

	for _, tag := range []Compression{CompressionNone, CompressionLZ4, CompressionZstd} {
		t.Run(tag.String(), func(t *testing.T) {
			data, err := s.MarshalCompressed(original, tag)
			require.NoError(t, err)
			out, err := s.UnmarshalCompressed(data)
			require.NoError(t, err)
			require.Equal(t, original.Names, out.(*sliceHolder).Names)
			require.Equal(t, original.Numbers, out.(*sliceHolder).Numbers)
		})
	}
}
