package cluster

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/lifegrid/internal/fault"
	"github.com/danmuck/lifegrid/internal/grid"
	"github.com/danmuck/lifegrid/internal/halo"
	"github.com/danmuck/lifegrid/internal/life"
	"github.com/danmuck/lifegrid/internal/testutil/testlog"
	"github.com/danmuck/lifegrid/internal/topology"
)

func glider(t *testing.T, n, m int) *grid.Grid {
	t.Helper()
	g, err := grid.New(n, m)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	for _, p := range [][2]int{{0, 1}, {1, 2}, {2, 0}, {2, 1}, {2, 2}} {
		g.Set(p[0]+1, p[1]+1, grid.Alive)
	}
	g.Recount()
	return g
}

// serial evolves g on a single tile whose border is always DEAD.
func serial(t *testing.T, g *grid.Grid, steps int) []*grid.Grid {
	t.Helper()
	out := []*grid.Grid{g.Clone()}
	cur := g.Clone()
	for i := 0; i < steps; i++ {
		cur.ClearBorder()
		next, err := life.Next(cur)
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		out = append(out, next)
		cur = next
	}
	return out
}

func collect() (func(context.Context, *grid.Grid) error, func() map[int]*grid.Grid) {
	var mu sync.Mutex
	got := make(map[int]*grid.Grid)
	return func(_ context.Context, g *grid.Grid) error {
			mu.Lock()
			defer mu.Unlock()
			got[g.Generation] = g
			return nil
		}, func() map[int]*grid.Grid {
			mu.Lock()
			defer mu.Unlock()
			return got
		}
}

func TestGliderCrossesTilesLikeSerialRun(t *testing.T) {
	testlog.Start(t)
	const steps = 20
	layout, err := topology.Decompose(8, 8, 4, topology.Options{})
	if err != nil {
		t.Fatalf("decompose: %v", err)
	}
	start := glider(t, 8, 8)
	want := serial(t, start, steps)

	out, snapshot := collect()
	final, err := Run(context.Background(), Options{
		Layout:  layout,
		Initial: start,
		Steps:   steps,
		Corners: halo.CornersFull,
		Timeout: 5 * time.Second,
		Out:     out,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	got := snapshot()
	if len(got) != steps+1 {
		t.Fatalf("assembled %d generations, want %d", len(got), steps+1)
	}
	for gen := 0; gen <= steps; gen++ {
		g := got[gen]
		if g == nil || !g.InteriorEqual(want[gen]) || g.AliveCount != want[gen].AliveCount {
			t.Fatalf("generation %d differs from serial run", gen)
		}
	}
	if final == nil || final.Generation != steps || !final.InteriorEqual(want[steps]) {
		t.Fatalf("final grid mismatch")
	}
	// Five periods later the glider sits wholly in rank 3's tile.
	if final.AliveCount != 5 {
		t.Fatalf("glider alive count %d", final.AliveCount)
	}
	for _, p := range [][2]int{{5, 6}, {6, 7}, {7, 5}, {7, 6}, {7, 7}} {
		if final.At(p[0]+1, p[1]+1) != grid.Alive {
			t.Fatalf("expected glider cell at (%d,%d)", p[0], p[1])
		}
	}
}

func TestRandomRunMatchesSerialForManyLayouts(t *testing.T) {
	testlog.Start(t)
	start, _ := grid.Random(12, 12, 21)
	want := serial(t, start, 10)
	for _, p := range []int{1, 2, 3, 4, 6, 9} {
		layout, err := topology.Decompose(12, 12, p, topology.Options{})
		if err != nil {
			t.Fatalf("decompose p=%d: %v", p, err)
		}
		final, err := Run(context.Background(), Options{
			Layout:  layout,
			Initial: start,
			Steps:   10,
			Timeout: 5 * time.Second,
		})
		if err != nil {
			t.Fatalf("run p=%d: %v", p, err)
		}
		if !final.InteriorEqual(want[10]) {
			t.Fatalf("p=%d final differs from serial run", p)
		}
	}
}

func TestReferenceCornersStillRun(t *testing.T) {
	testlog.Start(t)
	layout, _ := topology.Decompose(8, 8, 4, topology.Options{})
	final, err := Run(context.Background(), Options{
		Layout:  layout,
		Initial: glider(t, 8, 8),
		Steps:   4,
		Corners: halo.CornersReference,
		Timeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	// Far from any tile corner the glider is unaffected.
	want := serial(t, glider(t, 8, 8), 4)
	if !final.InteriorEqual(want[4]) {
		t.Fatalf("glider inside one tile should evolve exactly")
	}
}

func TestCornerPoliciesDifferAcrossTileCorner(t *testing.T) {
	testlog.Start(t)
	layout, _ := topology.Decompose(8, 8, 4, topology.Options{})
	// (3,3) is rank 0's bottom-right cell. Its third neighbour (4,4) belongs
	// to rank 3, reachable only through the diagonal corner.
	start, _ := grid.New(8, 8)
	for _, p := range [][2]int{{2, 2}, {2, 3}, {4, 4}} {
		start.Set(p[0]+1, p[1]+1, grid.Alive)
	}
	start.Recount()
	want := serial(t, start, 1)
	if want[1].At(4, 4) != grid.Alive {
		t.Fatalf("serial run should give birth at (3,3)")
	}

	run := func(corners halo.CornerPolicy) *grid.Grid {
		final, err := Run(context.Background(), Options{
			Layout:  layout,
			Initial: start.Clone(),
			Steps:   1,
			Corners: corners,
			Timeout: 5 * time.Second,
		})
		if err != nil {
			t.Fatalf("run %s: %v", corners, err)
		}
		return final
	}

	full := run(halo.CornersFull)
	if !full.InteriorEqual(want[1]) {
		t.Fatalf("full corners should match the serial run")
	}
	ref := run(halo.CornersReference)
	if ref.InteriorEqual(want[1]) {
		t.Fatalf("reference corners should lose the diagonal neighbour")
	}
	if ref.At(4, 4) != grid.Dead {
		t.Fatalf("reference corners should see only two neighbours at (3,3)")
	}
}

func TestRandomInitIsSeededPerRank(t *testing.T) {
	testlog.Start(t)
	layout, _ := topology.Decompose(8, 8, 4, topology.Options{})
	a, err := Run(context.Background(), Options{Layout: layout, Seed: 5, Steps: 0})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	b, _ := Run(context.Background(), Options{Layout: layout, Seed: 5, Steps: 0})
	if !a.InteriorEqual(b) {
		t.Fatalf("same seed should reproduce the same start")
	}
	tile, _ := InitialTile(layout.Tiles[2], nil, 5)
	ref, _ := grid.Random(4, 4, 7)
	if !tile.InteriorEqual(ref) {
		t.Fatalf("rank 2 should be seeded with base+2")
	}
}

func TestRunRejectsMismatchedInitial(t *testing.T) {
	testlog.Start(t)
	layout, _ := topology.Decompose(8, 8, 4, topology.Options{})
	g, _ := grid.New(4, 4)
	if _, err := Run(context.Background(), Options{Layout: layout, Initial: g}); !errors.Is(err, fault.ErrDimension) {
		t.Fatalf("expected ErrDimension, got %v", err)
	}
}

func TestOutputFailureAbortsEveryRank(t *testing.T) {
	testlog.Start(t)
	layout, _ := topology.Decompose(8, 8, 4, topology.Options{})
	_, err := Run(context.Background(), Options{
		Layout:  layout,
		Seed:    1,
		Steps:   50,
		Timeout: 5 * time.Second,
		Out: func(_ context.Context, g *grid.Grid) error {
			if g.Generation == 3 {
				return fault.Newf(fault.KindIO, "test", "disk full")
			}
			return nil
		},
	})
	if !errors.Is(err, fault.ErrIO) {
		t.Fatalf("expected the I/O failure to surface, got %v", err)
	}
}
