// Package cluster runs every worker of a decomposition inside one process,
// one goroutine per rank over an in-process halo mesh.
package cluster

import (
	"context"
	"sync"
	"time"

	"github.com/danmuck/lifegrid/internal/driver"
	"github.com/danmuck/lifegrid/internal/fault"
	"github.com/danmuck/lifegrid/internal/grid"
	"github.com/danmuck/lifegrid/internal/halo"
	"github.com/danmuck/lifegrid/internal/snapshot"
	"github.com/danmuck/lifegrid/internal/topology"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

type Options struct {
	Layout topology.Layout
	// Initial is the whole-domain starting grid. When nil every rank fills
	// its own tile from Seed+rank.
	Initial *grid.Grid
	Seed    int64
	Steps   int
	Corners halo.CornerPolicy
	Timeout time.Duration
	// Out receives every assembled whole-domain generation, including 0.
	Out func(ctx context.Context, g *grid.Grid) error
}

// InitialTile builds rank's generation-0 tile: a window of global when one is
// given, otherwise a random fill seeded with seed+rank.
func InitialTile(t topology.Topology, global *grid.Grid, seed int64) (*grid.Grid, error) {
	if global != nil {
		return grid.Extract(global, t.RowOffset, t.ColOffset, t.Rows, t.Cols)
	}
	return grid.Random(t.Rows, t.Cols, seed+int64(t.Rank))
}

// Run drives every rank to opts.Steps and returns the final whole-domain
// grid. The first failing rank cancels the rest.
func Run(ctx context.Context, opts Options) (*grid.Grid, error) {
	const op = "cluster.Run"
	if err := opts.Layout.Validate(); err != nil {
		return nil, err
	}
	if opts.Initial != nil && (opts.Initial.Rows != opts.Layout.N || opts.Initial.Cols != opts.Layout.M) {
		return nil, fault.Newf(fault.KindDimension, op, "initial grid %dx%d does not match layout %dx%d",
			opts.Initial.Rows, opts.Initial.Cols, opts.Layout.N, opts.Layout.M)
	}

	last := opts.Steps
	if opts.Initial != nil {
		last += opts.Initial.Generation
	}

	mesh := halo.NewMesh()
	defer mesh.Close()

	var mu sync.Mutex
	var final *grid.Grid
	gather := snapshot.NewGatherSink(opts.Layout, func(ctx context.Context, g *grid.Grid) error {
		if g.Generation == last {
			mu.Lock()
			final = g
			mu.Unlock()
		}
		if opts.Out == nil {
			return nil
		}
		return opts.Out(ctx, g)
	})

	eg, gctx := errgroup.WithContext(ctx)
	for _, t := range opts.Layout.Tiles {
		tile, err := InitialTile(t, opts.Initial, opts.Seed)
		if err != nil {
			return nil, err
		}
		ex := halo.NewExchanger(mesh.Endpoint(t.Rank), t, opts.Corners, opts.Timeout)
		d, err := driver.New(driver.Config{
			Rank:      t.Rank,
			Steps:     opts.Steps,
			Exchanger: ex,
			Sink:      gather,
		})
		if err != nil {
			return nil, err
		}
		eg.Go(func() error {
			_, err := d.Run(gctx, tile)
			return err
		})
	}
	log.Info().
		Int("workers", opts.Layout.Workers()).
		Int("px", opts.Layout.Px).
		Int("py", opts.Layout.Py).
		Int("steps", opts.Steps).
		Msg("cluster running")
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return final, nil
}
