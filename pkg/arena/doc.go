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

// Package arena implements a lock-free, self-describing message log over a
// fixed-size shared memory region.
//
// Producers claim slots with a compare-and-swap on the slot header, write
// their payload and publish it by setting the header's valid bit; a single
// Drainer copies published payloads out, clears the valid bit and stops once
// the completion counter at the start of the arena reaches the expected
// producer count. No lock is taken anywhere, so producers may be separate
// processes mapping the same region.
//
// Example usage:
//
//	a, err := arena.Open(ctx, arena.OpenOptions{Name: "log", Capacity: 4096, Create: true})
//	// ...
//	p, _ := arena.NewProducer(a, 1, cfg)
//	_, err = p.Run(ctx, arena.FormatMessage(1, os.Getpid()))
//	// ...
//	d, _ := arena.NewDrainer(a, cfg, arena.NewLineEmitter(os.Stdout))
//	report, err := d.Run(ctx)
package arena
