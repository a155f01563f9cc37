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

// Command shmlog runs a shared-memory message log: a coordinator maps an
// arena, producers publish one greeting each, and the coordinator prints
// every message exactly once.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/srediag/shmlog/pkg/arena"
)

const usage = `usage: shmlog <command> [flags]

commands:
  run      map an arena, start producers and drain their messages
  produce  publish one message into an existing arena
  hello    two-process shared mapping smoke test
`

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return 2
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := newLogger(stderr)
	var err error
	switch args[0] {
	case "run":
		err = runCommand(ctx, args[1:], stdout, log)
	case "produce":
		err = produceCommand(ctx, args[1:], log)
	case "hello":
		err = helloCommand(ctx, args[1:], stdout)
	case "help", "-h", "-help", "--help":
		fmt.Fprint(stdout, usage)
		return 0
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", args[0], usage)
		return 2
	}
	return exitCode(err, log)
}

func exitCode(err error, log zerolog.Logger) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, errUsage):
		return 2
	case errors.Is(err, arena.ErrMapping):
		log.Error().Err(err).Msg("shared mapping failed")
		return 1
	default:
		log.Error().Err(err).Msg("shmlog failed")
		return 1
	}
}

func newLogger(w io.Writer) zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}).
		With().
		Timestamp().
		Int("pid", os.Getpid()).
		Logger().
		Level(zerolog.InfoLevel)
}
