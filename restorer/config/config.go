// Copyright 2024 The mtcp-restore Authors.
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

// Package config loads ambient defaults for the restart command, read
// before per-invocation flags so flags can override them — the same
// "config first, flags layered on top" order the teacher's runsc/config
// uses ahead of its per-command flag parsing.
package config

import "github.com/BurntSushi/toml"

// Config holds restart-command defaults. Every field here can also be set
// per-invocation via a CLI flag or environment variable (spec.md §6); this
// file only supplies what neither of those set.
type Config struct {
	// DefaultPauseLevel is used when neither --mtcp-restart-pause nor
	// DMTCP_RESTART_PAUSE is set.
	DefaultPauseLevel int `toml:"default_pause_level"`

	// SkipRelocation mirrors DMTCP_DEBUG_MTCP_RESTART's effect as a
	// standing default rather than a one-off environment override.
	SkipRelocation bool `toml:"skip_relocation"`
}

// Default returns the zero-valued, always-safe configuration: no pause,
// relocation not skipped.
func Default() *Config {
	return &Config{}
}

// Load parses a TOML file at path into a new Config. An empty path skips
// loading entirely and returns Default(); a non-empty path that cannot be
// opened or decoded is an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
