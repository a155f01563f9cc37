//go:build linux

/*
 * Copyright 2025 SREDiag Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package arena

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestSharedArenaAcrossMappings runs producers against their own mappings of
// the coordinator's segment, the way separate processes do.
func TestSharedArenaAcrossMappings(t *testing.T) {
	for _, memfd := range []bool{false, true} {
		t.Run(fmt.Sprintf("memfd=%t", memfd), func(t *testing.T) {
			ctx := context.Background()
			cfg := testConfig(8)
			owner, err := Open(ctx, OpenOptions{
				Name:     fmt.Sprintf("arena_test_%d_%t", os.Getpid(), memfd),
				Capacity: 4096,
				MemFd:    memfd,
				Create:   true,
			})
			require.NoError(t, err)
			defer func() {
				assert.NoError(t, owner.Close(ctx))
			}()
			if memfd {
				assert.Empty(t, owner.Path())
			} else {
				assert.NotEmpty(t, owner.Path())
			}

			rec := &recorder{}
			d, err := NewDrainer(owner, cfg, rec)
			require.NoError(t, err)
			done := make(chan Report)
			go func() {
				report, err := d.Run(ctx)
				assert.NoError(t, err)
				done <- report
			}()

			var wg sync.WaitGroup
			for id := 1; id <= cfg.Producers; id++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					opts := OpenOptions{Path: owner.Path(), Capacity: 4096}
					if memfd {
						f, err := owner.File()
						if !assert.NoError(t, err) {
							owner.Complete()
							return
						}
						defer f.Close()
						opts = OpenOptions{Fd: int(f.Fd()), Capacity: 4096, MemFd: true}
					}
					view, err := Open(ctx, opts)
					if !assert.NoError(t, err) {
						owner.Complete()
						return
					}
					defer func() {
						assert.NoError(t, view.Close(ctx))
					}()
					p, err := NewProducer(view, id, cfg)
					if !assert.NoError(t, err) {
						view.Complete()
						return
					}
					_, err = p.Run(ctx, FormatMessage(id, os.Getpid()))
					assert.NoError(t, err)
				}()
			}
			wg.Wait()
			report := <-done

			assert.Equal(t, cfg.Producers, report.Messages)
			assert.Equal(t, 0, rec.dupes)
			for id := 1; id <= cfg.Producers; id++ {
				assert.Equal(t, 1, report.Owners[id])
			}
		})
	}
}

func TestOpenMappingFailure(t *testing.T) {
	_, err := Open(context.Background(), OpenOptions{Path: "/dev/shm/shmlog_missing_segment", Capacity: 4096})
	assert.ErrorIs(t, err, ErrMapping)
}
