package config

import (
	"github.com/danmuck/lifegrid/internal/protocol/session"
	"github.com/danmuck/lifegrid/internal/topology"
)

// Session overlays the transport section on the session defaults.
func (t TransportConfig) Session() session.Config {
	cfg := session.DefaultConfig()
	if t.TransferTimeout.Duration > 0 {
		cfg.TransferTimeout = t.TransferTimeout.Duration
	}
	if t.ConnectTimeout.Duration > 0 {
		cfg.ConnectTimeout = t.ConnectTimeout.Duration
	}
	if t.DialAttempts > 0 {
		cfg.DialAttempts = t.DialAttempts
	}
	return cfg
}

// Options is the decomposition the run section asks for.
func (r RunConfig) Options() topology.Options {
	policy, _ := topology.ParsePolicy(r.Policy)
	return topology.Options{Policy: policy, Px: r.Px, Py: r.Py}
}

// Params is what every worker of runID is told about the run, including the
// transport settings it dials its neighbours with.
func (r RunConfig) Params(runID string, sess session.Config) session.RunParams {
	return session.RunParams{
		RunID:             runID,
		Steps:             r.Steps,
		Seed:              r.Seed,
		Snapshot:          r.Snapshot,
		OutputPrefix:      r.OutputPrefix,
		Corners:           r.Corners,
		TransferTimeoutMS: sess.TransferTimeout.Milliseconds(),
		ConnectTimeoutMS:  sess.ConnectTimeout.Milliseconds(),
		DialAttempts:      sess.DialAttempts,
		Every:             r.Every,
	}
}
