/*
Copyright (C) 2024  Carl-Philip Hänsch

    This program is free software: you can redistribute it and/or modify
    it under the terms of the GNU General Public License as published by
    the Free Software Foundation, either version 3 of the License, or
    (at your option) any later version.

    This program is distributed in the hope that it will be useful,
    but WITHOUT ANY WARRANTY; without even the implied warranty of
    MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
    GNU General Public License for more details.

    You should have received a copy of the GNU General Public License
    along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

package keyspace

import (
	"runtime"
	"sync"

	"github.com/jtolds/gls"

	"github.com/launix-de/shardkv/internal/hashing"
	"github.com/launix-de/shardkv/internal/shard"
)

// SearchResult is one match surfaced by Search, aggregated from whichever
// shard actually held it.
type SearchResult struct {
	Key   []byte
	Value [][]byte
}

// Search fans p out across every shard whose region can intersect the
// predicate and merges the results. Fan-out is throttled to FanoutWorkers
// (default runtime.NumCPU()) the way the teacher repo's iterateShardIndex
// throttles its own per-shard callback fan-out: one gls.Go goroutine per
// shard when the shard count fits under the worker budget, otherwise a
// worker pool draining a jobs channel.
func (ks *Keyspace) Search(p hashing.Predicate) ([]SearchResult, error) {
	predCoord, _ := ks.opts.Hasher.HashPredicate(p)
	refs := ks.routeMany(predCoord)
	defer func() {
		for _, ref := range refs {
			ref.Release()
		}
	}()
	if len(refs) == 0 {
		return nil, nil
	}

	workers := ks.opts.FanoutWorkers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers < 1 {
		workers = 1
	}

	var mu sync.Mutex
	var out []SearchResult
	var firstErr error
	var done sync.WaitGroup

	runOne := func(ref *shard.Ref) {
		s, ok := ref.Acquire()
		if !ok {
			done.Done()
			return
		}
		defer ref.Release()
		res, err := s.Search(p)
		mu.Lock()
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
		} else {
			for _, r := range res {
				out = append(out, SearchResult{Key: r.Key, Value: r.Value})
			}
		}
		mu.Unlock()
		done.Done()
	}

	if len(refs) <= workers {
		done.Add(len(refs))
		for _, ref := range refs {
			gls.Go(func(ref *shard.Ref) func() {
				return func() { runOne(ref) }
			}(ref))
		}
	} else {
		jobs := make(chan *shard.Ref, workers)
		done.Add(len(refs))
		for i := 0; i < workers; i++ {
			gls.Go(func() func() {
				return func() {
					for ref := range jobs {
						runOne(ref)
					}
				}
			}())
		}
		for _, ref := range refs {
			jobs <- ref
		}
		close(jobs)
	}
	done.Wait()

	return out, firstErr
}
