package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/lifegrid/internal/fault"
)

type fileConfig struct {
	Workers int    `toml:"workers"`
	Seed    int64  `toml:"seed"`
	Corners string `toml:"corners"`
	Policy  string `toml:"policy"`
	Timeout string `toml:"timeout"`
	Px      int    `toml:"px"`
	Py      int    `toml:"py"`
	Echo    bool   `toml:"echo"`
	Shape   string `toml:"shape"`
	Every   int    `toml:"every"`
}

// overlayConfig applies only the keys path defines.
func overlayConfig(path string, opts *options) error {
	const op = "lifectl.config"
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fault.New(fault.KindArgument, op, fmt.Errorf("load lifectl config: %w", err))
	}

	if meta.IsDefined("workers") {
		opts.Workers = raw.Workers
	}
	if meta.IsDefined("seed") {
		opts.Seed, opts.SeedSet = raw.Seed, true
	}
	if meta.IsDefined("corners") {
		opts.Corners = strings.TrimSpace(raw.Corners)
	}
	if meta.IsDefined("policy") {
		opts.Policy = strings.TrimSpace(raw.Policy)
	}
	if meta.IsDefined("timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Timeout))
		if err != nil {
			return fault.New(fault.KindArgument, op, fmt.Errorf("parse timeout: %w", err))
		}
		opts.Timeout = d
	}
	if meta.IsDefined("px") {
		opts.Px = raw.Px
	}
	if meta.IsDefined("py") {
		opts.Py = raw.Py
	}
	if meta.IsDefined("echo") {
		opts.Echo = raw.Echo
	}
	if meta.IsDefined("shape") {
		opts.Shape = strings.ToLower(strings.TrimSpace(raw.Shape))
	}
	if meta.IsDefined("every") {
		opts.Every = raw.Every
	}
	return nil
}
