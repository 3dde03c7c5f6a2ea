// Package config loads the cluster file shared by the coordinator and its
// launcher.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/danmuck/lifegrid/internal/fault"
	"github.com/danmuck/lifegrid/internal/grid"
	"github.com/danmuck/lifegrid/internal/halo"
	"github.com/danmuck/lifegrid/internal/topology"
	"github.com/pelletier/go-toml/v2"
)

type ClusterConfig struct {
	Run         RunConfig         `toml:"run"`
	Coordinator CoordinatorConfig `toml:"coordinator"`
	Transport   TransportConfig   `toml:"transport"`
	Launch      []LaunchTarget    `toml:"launch"`
}

type RunConfig struct {
	Rows         int    `toml:"rows"`
	Cols         int    `toml:"cols"`
	Steps        int    `toml:"steps"`
	Workers      int    `toml:"workers"`
	Seed         int64  `toml:"seed"`
	OutputPrefix string `toml:"output_prefix"`
	// Snapshot, when set, replaces random init; rows and cols come from it.
	Snapshot string `toml:"snapshot"`
	Corners  string `toml:"corners"`
	Policy   string `toml:"policy"`
	Px       int    `toml:"px"`
	Py       int    `toml:"py"`
	// Every saves one generation in Every plus the last; zero saves all.
	Every int `toml:"every"`
}

type CoordinatorConfig struct {
	Addr        string   `toml:"addr"`
	HTTPAddr    string   `toml:"http_addr"`
	CorsOrigins []string `toml:"cors_origins"`
}

type TransportConfig struct {
	TransferTimeout Duration `toml:"transfer_timeout"`
	ConnectTimeout  Duration `toml:"connect_timeout"`
	DialAttempts    int      `toml:"dial_attempts"`
}

// LaunchTarget starts one worker process. An empty Host runs it locally.
type LaunchTarget struct {
	Host                        string   `toml:"host"`
	Port                        string   `toml:"port"`
	User                        string   `toml:"user"`
	KeyPath                     string   `toml:"key_path"`
	KnownHostsPath              string   `toml:"known_hosts"`
	InsecureSkipHostKeyChecking bool     `toml:"insecure_skip_host_key_checking"`
	Command                     string   `toml:"command"`
	Args                        []string `toml:"args"`
}

// Duration reads TOML strings such as "30s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func Default() ClusterConfig {
	return ClusterConfig{
		Run: RunConfig{
			Rows:         64,
			Cols:         64,
			Steps:        100,
			Workers:      4,
			OutputPrefix: "life",
			Corners:      string(halo.CornersFull),
			Policy:       string(topology.PolicySquare),
		},
		Coordinator: CoordinatorConfig{
			Addr:     ":7400",
			HTTPAddr: ":7480",
		},
		Transport: TransportConfig{
			TransferTimeout: Duration{30 * time.Second},
			ConnectTimeout:  Duration{5 * time.Second},
			DialAttempts:    20,
		},
	}
}

// Load reads path over Default and validates the result.
func Load(path string) (ClusterConfig, error) {
	cfg := Default()
	if err := loadToml(path, &cfg); err != nil {
		return ClusterConfig{}, err
	}
	if err := Validate(cfg); err != nil {
		return ClusterConfig{}, err
	}
	return cfg, nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fault.New(fault.KindIO, "config.Load", fmt.Errorf("config load failed (%s): %w", path, err))
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fault.New(fault.KindArgument, "config.Load", fmt.Errorf("config parse failed (%s): %w", path, err))
	}
	return nil
}

func Validate(cfg ClusterConfig) error {
	const op = "config.Validate"
	r := cfg.Run
	if strings.TrimSpace(r.Snapshot) == "" {
		if err := grid.CheckDims(r.Rows, r.Cols); err != nil {
			return err
		}
	}
	if r.Steps < 0 {
		return fault.Newf(fault.KindArgument, op, "run.steps must not be negative")
	}
	if r.Every < 0 {
		return fault.Newf(fault.KindArgument, op, "run.every must not be negative")
	}
	if r.Workers < 1 {
		return fault.Newf(fault.KindArgument, op, "run.workers must be at least 1")
	}
	if strings.TrimSpace(r.OutputPrefix) == "" {
		return fault.Newf(fault.KindArgument, op, "run.output_prefix is required")
	}
	if _, err := halo.ParseCorners(r.Corners); err != nil {
		return err
	}
	if _, err := topology.ParsePolicy(r.Policy); err != nil {
		return err
	}
	if (r.Px == 0) != (r.Py == 0) {
		return fault.Newf(fault.KindArgument, op, "run.px and run.py must be set together")
	}
	if strings.TrimSpace(cfg.Coordinator.Addr) == "" {
		return fault.Newf(fault.KindArgument, op, "coordinator.addr is required")
	}
	if cfg.Transport.TransferTimeout.Duration < 0 || cfg.Transport.ConnectTimeout.Duration < 0 {
		return fault.Newf(fault.KindArgument, op, "transport timeouts must not be negative")
	}
	for i, target := range cfg.Launch {
		if err := ValidateLaunchTarget(target); err != nil {
			return fault.New(fault.KindArgument, op, fmt.Errorf("launch[%d] invalid: %w", i, err))
		}
	}
	return nil
}

func ValidateLaunchTarget(t LaunchTarget) error {
	if strings.TrimSpace(t.Command) == "" {
		return fmt.Errorf("command is required")
	}
	if strings.TrimSpace(t.Host) != "" && strings.TrimSpace(t.User) == "" {
		return fmt.Errorf("user required for remote host %s", t.Host)
	}
	return nil
}
