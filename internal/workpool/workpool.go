// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package workpool runs homogeneous tasks over a fixed-width pool of workers
// and returns a settled outcome per item. One task failing never cancels its
// siblings.
package workpool

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// Result is the settled outcome of one item.
type Result[R any] struct {
	Value R
	Err   error
}

// OK reports whether the item succeeded.
func (r Result[R]) OK() bool { return r.Err == nil }

// Map runs fn over items with at most concurrency invocations in flight and
// returns one Result per item in input order.
func Map[T, R any](ctx context.Context, items []T, concurrency int, fn func(ctx context.Context, item T, index int) (R, error)) []Result[R] {
	results := make([]Result[R], len(items))
	if len(items) == 0 {
		return results
	}

	workers := min(max(concurrency, 1), len(items))

	var next atomic.Int64
	var g errgroup.Group
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for {
				i := int(next.Add(1) - 1)
				if i >= len(items) {
					return nil
				}
				results[i] = invoke(ctx, items[i], i, fn)
			}
		})
	}
	// Workers never return an error; outcomes live in results.
	_ = g.Wait()

	return results
}

func invoke[T, R any](ctx context.Context, item T, index int, fn func(ctx context.Context, item T, index int) (R, error)) (res Result[R]) {
	defer func() {
		if p := recover(); p != nil {
			res = Result[R]{Err: fmt.Errorf("task %d panicked: %v", index, p)}
		}
	}()
	value, err := fn(ctx, item, index)
	return Result[R]{Value: value, Err: err}
}

// Failed returns the indices of items that did not succeed.
func Failed[R any](results []Result[R]) []int {
	var idx []int
	for i, r := range results {
		if !r.OK() {
			idx = append(idx, i)
		}
	}
	return idx
}
