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
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultCapacity       = 4096
	defaultProducers      = 4
	defaultMaxMessageSize = 128
)

// PollConfig controls how the drainer waits between passes that found
// nothing new.
type PollConfig struct {
	InitialInterval     time.Duration `toml:"initial_interval"`
	MaxInterval         time.Duration `toml:"max_interval"`
	Multiplier          float64       `toml:"multiplier"`
	RandomizationFactor float64       `toml:"randomization_factor"`
}

// Config is used to tune an arena and its participants.
type Config struct {
	// Name identifies the backing segment.
	Name string `toml:"name"`
	// Capacity is the arena size in bytes, counter included.
	Capacity int `toml:"capacity"`
	// Producers is the number of producers the drainer waits for. Owner ids
	// run from 1 to Producers, so it is bounded by the header owner field.
	Producers int `toml:"producers"`
	// MaxMessageSize bounds a single payload.
	MaxMessageSize int `toml:"max_message_size"`
	// MemFd backs the arena with a memfd instead of a /dev/shm file.
	MemFd bool `toml:"memfd"`

	Poll PollConfig `toml:"poll"`

	Metrics *Metrics     `toml:"-"`
	Meter   metric.Meter `toml:"-"`
	Tracer  trace.Tracer `toml:"-"`
}

// DefaultConfig is used to return a default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:           "arena",
		Capacity:       defaultCapacity,
		Producers:      defaultProducers,
		MaxMessageSize: defaultMaxMessageSize,
		Poll: PollConfig{
			InitialInterval:     50 * time.Microsecond,
			MaxInterval:         10 * time.Millisecond,
			Multiplier:          2,
			RandomizationFactor: 0.2,
		},
	}
}

// VerifyConfig is used to verify the sanity of configuration. Header field
// widths are enforced here so that no claim can overflow them at runtime.
func VerifyConfig(config *Config) error {
	if config == nil {
		return fmt.Errorf("%w: nil config", ErrInvalidConfig)
	}
	if config.Capacity < MinCapacity {
		return fmt.Errorf("%w: capacity %d is below the minimum %d", ErrInvalidConfig, config.Capacity, MinCapacity)
	}
	if config.Capacity%HeaderSize != 0 {
		return fmt.Errorf("%w: capacity %d is not a multiple of %d", ErrInvalidConfig, config.Capacity, HeaderSize)
	}
	if config.Producers < 1 || config.Producers > MaxOwner {
		return fmt.Errorf("%w: producers must be within 1..%d, got %d", ErrInvalidConfig, MaxOwner, config.Producers)
	}
	if config.MaxMessageSize < 0 || config.MaxMessageSize > MaxPayload {
		return fmt.Errorf("%w: max message size must be within 0..%d, got %d", ErrInvalidConfig, MaxPayload, config.MaxMessageSize)
	}
	// the largest message must fit a single slot of an empty arena
	if config.MaxMessageSize > config.Capacity-MinCapacity {
		return fmt.Errorf("%w: max message size %d does not fit a %d byte arena", ErrInvalidConfig, config.MaxMessageSize, config.Capacity)
	}
	p := config.Poll
	if p.InitialInterval <= 0 {
		return fmt.Errorf("%w: poll initial interval must be positive", ErrInvalidConfig)
	}
	if p.MaxInterval < p.InitialInterval {
		return fmt.Errorf("%w: poll max interval %s is below initial interval %s", ErrInvalidConfig, p.MaxInterval, p.InitialInterval)
	}
	if p.Multiplier < 1 {
		return fmt.Errorf("%w: poll multiplier must be at least 1", ErrInvalidConfig)
	}
	if p.RandomizationFactor < 0 || p.RandomizationFactor > 1 {
		return fmt.Errorf("%w: poll randomization factor must be within 0..1", ErrInvalidConfig)
	}
	return nil
}

// LoadConfigFile reads a TOML file over the defaults and verifies the result.
func LoadConfigFile(path string) (*Config, error) {
	config := DefaultConfig()
	if _, err := toml.DecodeFile(path, config); err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	if err := VerifyConfig(config); err != nil {
		return nil, err
	}
	return config, nil
}

func (p PollConfig) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	b.Multiplier = p.Multiplier
	b.RandomizationFactor = p.RandomizationFactor
	// the drain loop has no deadline of its own
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}
