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

package arena_test

import (
	"context"
	"fmt"
	"os"

	"github.com/srediag/shmlog/pkg/arena"
)

func Example() {
	ctx := context.Background()
	a, err := arena.New(make([]byte, 4096))
	if err != nil {
		fmt.Println("failed to create arena:", err)
		return
	}
	cfg := arena.DefaultConfig()
	cfg.Producers = 2

	for owner := 1; owner <= cfg.Producers; owner++ {
		p, err := arena.NewProducer(a, owner, cfg)
		if err != nil {
			fmt.Println("failed to create producer:", err)
			return
		}
		if _, err := p.Run(ctx, arena.FormatMessage(owner, 100+owner)); err != nil {
			fmt.Println("produce failed:", err)
		}
	}

	d, err := arena.NewDrainer(a, cfg, arena.NewLineEmitter(os.Stdout))
	if err != nil {
		fmt.Println("failed to create drainer:", err)
		return
	}
	defer d.Close()
	report, err := d.Run(ctx)
	if err != nil {
		fmt.Println("drain failed:", err)
		return
	}
	fmt.Println("messages:", report.Messages)
	// Output:
	// [owner 1] hello from producer 1 (pid 101)
	// [owner 2] hello from producer 2 (pid 102)
	// messages: 2
}

func ExampleSlot_Publish() {
	a, _ := arena.New(make([]byte, 64))
	slot, err := a.Claim(1, 5)
	if err != nil {
		fmt.Println("claim failed:", err)
		return
	}
	h, _ := a.HeaderAt(slot.Offset())
	fmt.Println(h)
	copy(slot.Payload(), "hello")
	_ = slot.Publish()
	h, _ = a.HeaderAt(slot.Offset())
	fmt.Println(h)
	// Output:
	// header{owner:1 len:5 valid:false}
	// header{owner:1 len:5 valid:true}
}
