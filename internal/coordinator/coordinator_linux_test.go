//go:build linux

package coordinator

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srediag/shmlog/pkg/arena"
)

const helperEnv = "SHMLOG_COORDINATOR_HELPER"

// TestHelperProcess is the producer side of the process mode tests.
func TestHelperProcess(t *testing.T) {
	if os.Getenv(helperEnv) != "1" {
		return
	}
	args := flag.Args()
	if len(args) > 0 && args[0] == "hello" {
		fs := flag.NewFlagSet("hello", flag.ExitOnError)
		fs.Bool("child", false, "")
		refFlag := fs.String("ref", "", "")
		_ = fs.Parse(args[1:])
		ref, err := ParseRef(*refFlag)
		if err != nil {
			os.Exit(3)
		}
		if _, err := HelloChild(context.Background(), ref); err != nil {
			os.Exit(1)
		}
		os.Exit(0)
	}
	if len(args) > 0 && args[0] == "produce" {
		args = args[1:]
	}
	fs := flag.NewFlagSet("produce", flag.ExitOnError)
	refFlag := fs.String("ref", "", "")
	owner := fs.Int("owner", 0, "")
	capacity := fs.Int("capacity", 0, "")
	maxMessage := fs.Int("max-message", 0, "")
	_ = fs.Parse(args)

	ref, err := ParseRef(*refFlag)
	if err != nil {
		os.Exit(3)
	}
	cfg := arena.DefaultConfig()
	cfg.Capacity = *capacity
	cfg.MaxMessageSize = *maxMessage
	if _, err := Produce(context.Background(), ref, *owner, cfg); err != nil && !dropped(err) {
		os.Exit(1)
	}
	os.Exit(0)
}

func testConfig(producers, capacity int, memfd bool) *arena.Config {
	cfg := arena.DefaultConfig()
	cfg.Name = fmt.Sprintf("coordinator_test_%d", producers)
	cfg.Producers = producers
	cfg.Capacity = capacity
	cfg.MemFd = memfd
	cfg.Metrics = arena.NewMetrics(prometheus.NewRegistry())
	return cfg
}

func helperOptions(cfg *arena.Config, mode Mode, out *bytes.Buffer) Options {
	return Options{
		Config:     cfg,
		Mode:       mode,
		Output:     out,
		Executable: os.Args[0],
		Args: func(ref Ref, owner int, cfg *arena.Config) []string {
			return append([]string{"-test.run=^TestHelperProcess$", "--"}, ProduceArgs(ref, owner, cfg)...)
		},
	}
}

func TestRun(t *testing.T) {
	t.Setenv(helperEnv, "1")
	for _, mode := range []Mode{ModePool, ModeProcess} {
		for _, memfd := range []bool{false, true} {
			t.Run(fmt.Sprintf("%s/memfd=%t", mode, memfd), func(t *testing.T) {
				var out bytes.Buffer
				var ready bool
				opts := helperOptions(testConfig(4, 4096, memfd), mode, &out)
				opts.Ready = func(a *arena.Arena, d *arena.Drainer) {
					ready = a != nil && d != nil
				}
				s, err := Run(context.Background(), opts)
				require.NoError(t, err)
				assert.True(t, ready)
				assert.Equal(t, 4, s.Messages)
				assert.Equal(t, 0, s.Dropped)
				assert.Equal(t, uint32(4), s.Completed)

				lines := strings.Split(strings.TrimSpace(out.String()), "\n")
				require.Len(t, lines, 4)
				for owner := 1; owner <= 4; owner++ {
					assert.Equal(t, 1, s.Owners[owner])
					assert.Contains(t, out.String(), fmt.Sprintf("[owner %d] hello from producer %d (pid ", owner, owner))
				}
			})
		}
	}
}

func TestRunTinyArenaDrops(t *testing.T) {
	var out bytes.Buffer
	cfg := testConfig(4, 32, false)
	cfg.MaxMessageSize = 16
	s, err := Run(context.Background(), helperOptions(cfg, ModePool, &out))
	require.NoError(t, err)
	// every greeting is longer than 16 bytes
	assert.Equal(t, 0, s.Messages)
	assert.Equal(t, 4, s.Dropped)
	assert.Equal(t, uint32(4), s.Completed)
}

func TestRunProducerFailureCancelsDrain(t *testing.T) {
	t.Setenv(helperEnv, "1")
	var out bytes.Buffer
	opts := helperOptions(testConfig(2, 4096, false), ModeProcess, &out)
	opts.Args = func(ref Ref, owner int, cfg *arena.Config) []string {
		// an unmappable reference makes the child exit non-zero without completing
		bad := Ref{Path: "/dev/shm/shmlog_missing_" + fmt.Sprint(os.Getpid())}
		return append([]string{"-test.run=^TestHelperProcess$", "--"}, ProduceArgs(bad, owner, cfg)...)
	}
	_, err := Run(context.Background(), opts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "producer")
}

func TestRunLostProducersAreCompleted(t *testing.T) {
	var out bytes.Buffer
	opts := helperOptions(testConfig(3, 4096, false), ModeProcess, &out)
	opts.Executable = "/nonexistent/shmlog"
	s, err := Run(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, 0, s.Messages)
	assert.Equal(t, 3, s.Dropped)
}

func TestHello(t *testing.T) {
	t.Setenv(helperEnv, "1")
	got, err := Hello(context.Background(), os.Args[0], func(ref Ref) []string {
		return append([]string{"-test.run=^TestHelperProcess$", "--"}, HelloArgs(ref)...)
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(got, "hello parent, from pid "), got)
}

func TestHelloChildMappingFailure(t *testing.T) {
	_, err := HelloChild(context.Background(), Ref{Path: "/dev/shm/shmlog_hello_missing"})
	assert.ErrorIs(t, err, arena.ErrMapping)
}
