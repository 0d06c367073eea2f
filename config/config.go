// Copyright 2019-present PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pingcap/log"
)

// Config is the top-level TOML document for a standalone kvengine
// process: logging/server options plus the engine's own EngineOptions.
type Config struct {
	Server Server        `toml:"server"`
	Engine EngineOptions `toml:"engine"`
}

type Server struct {
	StatusAddr  string `toml:"status-addr"`
	LogLevel    string `toml:"log-level"`
	LogfilePath string `toml:"log-file"`
	MaxProcs    int    `toml:"max-procs"`
}

const MB = 1024 * 1024

var DefaultConf = Config{
	Server: Server{
		StatusAddr: "127.0.0.1:9291",
		LogLevel:   "info",
		MaxProcs:   0,
	},
	Engine: *DefaultOptions(),
}

// Load reads a TOML config file, falling back to DefaultConf for any field
// the file does not set.
func Load(path string) (*Config, error) {
	cfg := DefaultConf
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ParseDuration parses a duration argument string, defaulting to seconds
// when no unit suffix is given.
func ParseDuration(durationStr string) time.Duration {
	dur, err := time.ParseDuration(durationStr)
	if err != nil {
		dur, err = time.ParseDuration(durationStr + "s")
	}
	if err != nil || dur < 0 {
		log.S().Fatalf("invalid duration=%v", durationStr)
	}
	return dur
}
