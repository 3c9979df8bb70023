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

package threadsafe

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/graphpack/graphpack"
)

type node struct {
	Value int32
	Next  *node
}

func TestConcurrentRoundTrip(t *testing.T) {
	s := New()
	require.NoError(t, s.Register(node{}))

	const goroutines = 16
	const iterations = 50

	var wg sync.WaitGroup
	errs := make(chan error, goroutines)
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(seed int32) {
			defer wg.Done()
			for i := 0; i < iterations; i++ {
				n2 := &node{Value: seed * 1000}
				n1 := &node{Value: seed, Next: n2}
				n2.Next = n1

				data, err := s.Marshal(n1)
				if err != nil {
					errs <- err
					return
				}
				out, err := s.Unmarshal(data)
				if err != nil {
					errs <- err
					return
				}
				r := out.(*node)
				if r.Value != seed || r.Next.Next != r {
					t.Errorf("goroutine %d: corrupted round trip", seed)
					return
				}
			}
		}(int32(g))
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
}

func TestRegistrationVisibleToAllInstances(t *testing.T) {
	s := New()
	require.NoError(t, s.RegisterName(node{}, "ts.node"))

	data, err := s.Marshal(&node{Value: 5})
	require.NoError(t, err)

	// A different pooled instance must resolve the same registration.
	out, err := s.Unmarshal(data)
	require.NoError(t, err)
	require.Equal(t, int32(5), out.(*node).Value)
}

func TestCompressedThroughPool(t *testing.T) {
	s := New()
	require.NoError(t, s.Register(node{}))

	data, err := s.MarshalCompressed(&node{Value: 9}, graphpack.CompressionLZ4)
	require.NoError(t, err)
	out, err := s.UnmarshalCompressed(data)
	require.NoError(t, err)
	require.Equal(t, int32(9), out.(*node).Value)
}
