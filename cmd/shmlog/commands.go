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

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/srediag/shmlog/internal/coordinator"
	"github.com/srediag/shmlog/pkg/arena"
)

var errUsage = errors.New("usage")

type runFlags struct {
	config     string
	producers  int
	capacity   int
	maxMessage int
	mode       string
	memfd      bool
	httpAddr   string
}

func parseRunFlags(args []string, out io.Writer) (*runFlags, *arena.Config, error) {
	f := &runFlags{}
	def := arena.DefaultConfig()
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(out)
	fs.StringVar(&f.config, "config", "", "TOML config file")
	fs.IntVar(&f.producers, "producers", def.Producers, "number of producers")
	fs.IntVar(&f.capacity, "capacity", def.Capacity, "arena size in bytes")
	fs.IntVar(&f.maxMessage, "max-message", def.MaxMessageSize, "largest message a producer may publish")
	fs.StringVar(&f.mode, "mode", string(coordinator.ModeProcess), "producer mode: process or pool")
	fs.BoolVar(&f.memfd, "memfd", false, "back the arena with a memfd instead of /dev/shm")
	fs.StringVar(&f.httpAddr, "http", "", "serve /metrics, /live and /ready on this address")
	if err := fs.Parse(args); err != nil {
		return nil, nil, fmt.Errorf("%w: %w", errUsage, err)
	}

	cfg := def
	if f.config != "" {
		loaded, err := arena.LoadConfigFile(f.config)
		if err != nil {
			return nil, nil, err
		}
		cfg = loaded
	}
	// flags given on the command line override the file
	fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "producers":
			cfg.Producers = f.producers
		case "capacity":
			cfg.Capacity = f.capacity
		case "max-message":
			cfg.MaxMessageSize = f.maxMessage
		case "memfd":
			cfg.MemFd = f.memfd
		}
	})
	if err := arena.VerifyConfig(cfg); err != nil {
		return nil, nil, err
	}
	return f, cfg, nil
}

func runCommand(ctx context.Context, args []string, stdout io.Writer, log zerolog.Logger) error {
	f, cfg, err := parseRunFlags(args, os.Stderr)
	if err != nil {
		return err
	}
	mode, err := coordinator.ParseMode(f.mode)
	if err != nil {
		return fmt.Errorf("%w: %w", errUsage, err)
	}
	reg := prometheus.NewRegistry()
	cfg.Metrics = arena.NewMetrics(reg)

	var srv *debugServer
	opts := coordinator.Options{
		Config:      cfg,
		Mode:        mode,
		Output:      stdout,
		ChildOutput: os.Stderr,
		Log:         log,
	}
	if f.httpAddr != "" {
		opts.Ready = func(a *arena.Arena, d *arena.Drainer) {
			srv = startDebugServer(f.httpAddr, reg, a, d, log)
		}
	}
	s, err := coordinator.Run(ctx, opts)
	if srv != nil {
		srv.shutdown(context.WithoutCancel(ctx))
	}
	if err != nil {
		return err
	}
	// stdout carries only drained messages
	log.Info().
		Int("messages", s.Messages).
		Int("producers", cfg.Producers).
		Int("dropped", s.Dropped).
		Msg("run summary")
	return nil
}

func produceCommand(ctx context.Context, args []string, log zerolog.Logger) error {
	def := arena.DefaultConfig()
	fs := flag.NewFlagSet("produce", flag.ContinueOnError)
	refFlag := fs.String("ref", "", "arena reference: /dev/shm path or fd:N")
	owner := fs.Int("owner", 0, "owner id, 1..32767")
	capacity := fs.Int("capacity", def.Capacity, "arena size in bytes")
	maxMessage := fs.Int("max-message", def.MaxMessageSize, "largest message to publish")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %w", errUsage, err)
	}
	ref, err := coordinator.ParseRef(*refFlag)
	if err != nil {
		return fmt.Errorf("%w: %w", errUsage, err)
	}
	cfg := def
	cfg.Capacity = *capacity
	cfg.MaxMessageSize = *maxMessage

	res, err := coordinator.Produce(ctx, ref, *owner, cfg)
	switch {
	case errors.Is(err, arena.ErrArenaFull), errors.Is(err, arena.ErrMessageTooLarge):
		log.Warn().Err(err).Int("owner", *owner).Msg("message dropped")
		return nil
	case err != nil:
		return err
	}
	log.Debug().
		Int("owner", res.Owner).
		Int("offset", res.Offset).
		Uint32("completed", res.Completed).
		Msg("message published")
	return nil
}

func helloCommand(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("hello", flag.ContinueOnError)
	child := fs.Bool("child", false, "run the child side")
	refFlag := fs.String("ref", "", "region reference for the child")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %w", errUsage, err)
	}
	if *child {
		ref, err := coordinator.ParseRef(*refFlag)
		if err != nil {
			return fmt.Errorf("%w: %w", errUsage, err)
		}
		msg, err := coordinator.HelloChild(ctx, ref)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "CHILD: pid=%d wrote: '%s'\n", os.Getpid(), msg)
		return nil
	}
	fmt.Fprintf(stdout, "PARENT: pid=%d\n", os.Getpid())
	got, err := coordinator.Hello(ctx, "", nil)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "PARENT: after wait, region content is: '%s'\n", got)
	return nil
}
