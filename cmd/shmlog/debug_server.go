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
	"net/http"
	_ "net/http/pprof"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/srediag/shmlog/pkg/arena"
	"github.com/srediag/shmlog/pkg/health"
)

type debugServer struct {
	srv *http.Server
	log zerolog.Logger
}

func newDebugMux(reg *prometheus.Registry, a *arena.Arena, d *arena.Drainer) *http.ServeMux {
	h := health.NewHandler(a, d, health.Options{MaxGoroutines: 10000})
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.Handle("/live", h)
	mux.Handle("/ready", h)
	mux.Handle("/debug/pprof/", http.DefaultServeMux)
	return mux
}

func startDebugServer(addr string, reg *prometheus.Registry, a *arena.Arena, d *arena.Drainer, log zerolog.Logger) *debugServer {
	s := &debugServer{
		srv: &http.Server{
			Addr:              addr,
			Handler:           newDebugMux(reg, a, d),
			ReadHeaderTimeout: 5 * time.Second,
		},
		log: log,
	}
	go func() {
		log.Info().Str("addr", addr).Msg("debug server listening")
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("debug server failed")
		}
	}()
	return s
}

func (s *debugServer) shutdown(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(ctx); err != nil {
		s.log.Warn().Err(err).Msg("debug server shutdown")
	}
}
