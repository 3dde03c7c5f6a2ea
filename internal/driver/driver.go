// Package driver runs one worker's generations: exchange, update, emit.
package driver

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/danmuck/lifegrid/internal/fault"
	"github.com/danmuck/lifegrid/internal/grid"
	"github.com/danmuck/lifegrid/internal/life"
	"github.com/danmuck/lifegrid/internal/observability"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type State int32

const (
	StateInitializing State = iota
	StateRunning
	StateTerminated
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateRunning:
		return "running"
	case StateTerminated:
		return "terminated"
	case StateAborted:
		return "aborted"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Exchanger refreshes a tile's border before each update.
type Exchanger interface {
	Exchange(ctx context.Context, g *grid.Grid) error
}

// Sink persists or forwards every emitted generation. Emit must not retain g.
type Sink interface {
	Emit(ctx context.Context, rank int, g *grid.Grid) error
}

// Finalizer is the termination barrier of the multi-worker runtime.
type Finalizer interface {
	Finalize(ctx context.Context) error
}

type SinkFunc func(ctx context.Context, rank int, g *grid.Grid) error

func (f SinkFunc) Emit(ctx context.Context, rank int, g *grid.Grid) error { return f(ctx, rank, g) }

// Sinks fans every emission out to each sink in order, stopping at the first error.
func Sinks(sinks ...Sink) Sink {
	return SinkFunc(func(ctx context.Context, rank int, g *grid.Grid) error {
		for _, s := range sinks {
			if s == nil {
				continue
			}
			if err := s.Emit(ctx, rank, g); err != nil {
				return err
			}
		}
		return nil
	})
}

type Config struct {
	Rank      int
	Steps     int
	Exchanger Exchanger
	Sink      Sink
	Finalizer Finalizer
}

// Driver owns two tile buffers and alternates between them.
type Driver struct {
	cfg    Config
	logger zerolog.Logger

	state      atomic.Int32
	generation atomic.Int64
	alive      atomic.Int64
}

func New(cfg Config) (*Driver, error) {
	const op = "driver.New"
	if cfg.Steps < 0 {
		return nil, fault.Newf(fault.KindArgument, op, "negative step count %d", cfg.Steps)
	}
	if cfg.Exchanger == nil {
		return nil, fault.Newf(fault.KindArgument, op, "nil exchanger")
	}
	return &Driver{
		cfg:    cfg,
		logger: log.With().Int("rank", cfg.Rank).Logger(),
	}, nil
}

func (d *Driver) State() State    { return State(d.state.Load()) }
func (d *Driver) Generation() int { return int(d.generation.Load()) }
func (d *Driver) Alive() int      { return int(d.alive.Load()) }

// Run takes ownership of initial and returns the final generation. Any
// failure aborts the run; there is no partial recovery.
func (d *Driver) Run(ctx context.Context, initial *grid.Grid) (*grid.Grid, error) {
	d.state.Store(int32(StateInitializing))
	cur := initial
	next, err := grid.New(cur.Rows, cur.Cols)
	if err != nil {
		return nil, d.abort(err)
	}
	d.observe(cur)
	if err := d.emit(ctx, cur); err != nil {
		return nil, d.abort(err)
	}
	d.logger.Info().Int("rows", cur.Rows).Int("cols", cur.Cols).Int("steps", d.cfg.Steps).Int("alive", cur.AliveCount).Msg("driver running")

	d.state.Store(int32(StateRunning))
	for step := 1; step <= d.cfg.Steps; step++ {
		if err := ctx.Err(); err != nil {
			return nil, d.abort(fault.New(fault.KindCommunication, "driver.Run", err))
		}
		if err := d.cfg.Exchanger.Exchange(ctx, cur); err != nil {
			return nil, d.abort(err)
		}
		start := time.Now()
		if err := life.Step(cur, next); err != nil {
			return nil, d.abort(err)
		}
		observability.RecordGeneration(d.cfg.Rank, next.AliveCount, time.Since(start))
		cur, next = next, cur
		d.observe(cur)
		if err := d.emit(ctx, cur); err != nil {
			return nil, d.abort(err)
		}
		d.logger.Debug().Int("generation", cur.Generation).Int("alive", cur.AliveCount).Msg("generation done")
	}

	if d.cfg.Finalizer != nil {
		if err := d.cfg.Finalizer.Finalize(ctx); err != nil {
			return nil, d.abort(err)
		}
	}
	d.state.Store(int32(StateTerminated))
	d.logger.Info().Int("generation", cur.Generation).Int("alive", cur.AliveCount).Msg("driver terminated")
	return cur, nil
}

func (d *Driver) emit(ctx context.Context, g *grid.Grid) error {
	if d.cfg.Sink == nil {
		return nil
	}
	return d.cfg.Sink.Emit(ctx, d.cfg.Rank, g)
}

func (d *Driver) observe(g *grid.Grid) {
	d.generation.Store(int64(g.Generation))
	d.alive.Store(int64(g.AliveCount))
}

func (d *Driver) abort(err error) error {
	d.state.Store(int32(StateAborted))
	d.logger.Error().Err(err).Int("generation", d.Generation()).Msg("driver aborted")
	return err
}
