package driver

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/danmuck/lifegrid/internal/fault"
	"github.com/danmuck/lifegrid/internal/grid"
	"github.com/danmuck/lifegrid/internal/halo"
	"github.com/danmuck/lifegrid/internal/testutil/testlog"
	"github.com/danmuck/lifegrid/internal/topology"
)

type recordSink struct {
	gens  []int
	alive []int
	last  [][]byte
}

func (s *recordSink) Emit(_ context.Context, _ int, g *grid.Grid) error {
	s.gens = append(s.gens, g.Generation)
	s.alive = append(s.alive, g.AliveCount)
	s.last = g.Interior()
	return nil
}

type countFinalizer struct{ calls int }

func (f *countFinalizer) Finalize(context.Context) error {
	f.calls++
	return nil
}

func singleTile(t *testing.T, rows [][]byte) (*grid.Grid, *halo.Exchanger) {
	t.Helper()
	g, err := grid.FromRows(rows)
	if err != nil {
		t.Fatalf("from rows: %v", err)
	}
	layout, err := topology.Decompose(g.Rows, g.Cols, 1, topology.Options{})
	if err != nil {
		t.Fatalf("decompose: %v", err)
	}
	mesh := halo.NewMesh()
	t.Cleanup(func() { mesh.Close() })
	return g, halo.NewExchanger(mesh.Endpoint(0), layout.Tiles[0], halo.CornersFull, time.Second)
}

func TestRunBlinkerEmitsEveryGeneration(t *testing.T) {
	testlog.Start(t)
	g, ex := singleTile(t, [][]byte{{0, 1, 0}, {0, 1, 0}, {0, 1, 0}})
	sink := &recordSink{}
	fin := &countFinalizer{}
	d, err := New(Config{Rank: 0, Steps: 2, Exchanger: ex, Sink: sink, Finalizer: fin})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	final, err := d.Run(context.Background(), g)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(sink.gens) != 3 || sink.gens[0] != 0 || sink.gens[2] != 2 {
		t.Fatalf("emitted generations %v", sink.gens)
	}
	for i, a := range sink.alive {
		if a != 3 {
			t.Fatalf("generation %d alive %d", i, a)
		}
	}
	if final.Generation != 2 || final.At(1, 2) != grid.Alive || final.At(2, 1) != grid.Dead {
		t.Fatalf("blinker should be vertical again after two steps")
	}
	if d.State() != StateTerminated || fin.calls != 1 {
		t.Fatalf("state %s finalize calls %d", d.State(), fin.calls)
	}
}

func TestRunZeroStepsEmitsInitialOnly(t *testing.T) {
	testlog.Start(t)
	g, ex := singleTile(t, [][]byte{{1, 1}, {1, 1}})
	sink := &recordSink{}
	d, _ := New(Config{Steps: 0, Exchanger: ex, Sink: sink})
	if _, err := d.Run(context.Background(), g); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(sink.gens) != 1 || sink.alive[0] != 4 {
		t.Fatalf("emitted %v alive %v", sink.gens, sink.alive)
	}
}

type failingExchanger struct{ after int }

func (f *failingExchanger) Exchange(_ context.Context, g *grid.Grid) error {
	if g.Generation >= f.after {
		return fault.Newf(fault.KindCommunication, "test", "link down")
	}
	g.ClearBorder()
	return nil
}

func TestRunAbortsOnExchangeFailure(t *testing.T) {
	testlog.Start(t)
	g, _ := grid.New(4, 4)
	sink := &recordSink{}
	fin := &countFinalizer{}
	d, _ := New(Config{Steps: 5, Exchanger: &failingExchanger{after: 2}, Sink: sink, Finalizer: fin})
	_, err := d.Run(context.Background(), g)
	if !errors.Is(err, fault.ErrCommunication) {
		t.Fatalf("expected communication error, got %v", err)
	}
	if d.State() != StateAborted || fin.calls != 0 {
		t.Fatalf("state %s finalize calls %d", d.State(), fin.calls)
	}
	if len(sink.gens) != 3 {
		t.Fatalf("expected generations 0..2 emitted before abort, got %v", sink.gens)
	}
}

func TestRunAbortsOnSinkFailure(t *testing.T) {
	testlog.Start(t)
	g, _ := grid.New(2, 2)
	failing := SinkFunc(func(context.Context, int, *grid.Grid) error {
		return fault.Newf(fault.KindIO, "test", "disk full")
	})
	d, _ := New(Config{Steps: 3, Exchanger: &failingExchanger{after: 100}, Sink: Sinks(&recordSink{}, failing)})
	if _, err := d.Run(context.Background(), g); !errors.Is(err, fault.ErrIO) {
		t.Fatalf("expected I/O error, got %v", err)
	}
	if d.State() != StateAborted {
		t.Fatalf("state %s", d.State())
	}
}

func TestRunStopsOnCancelledContext(t *testing.T) {
	testlog.Start(t)
	g, _ := grid.New(2, 2)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d, _ := New(Config{Steps: 3, Exchanger: &failingExchanger{after: 100}})
	if _, err := d.Run(ctx, g); !errors.Is(err, fault.ErrCommunication) {
		t.Fatalf("expected communication error, got %v", err)
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	testlog.Start(t)
	if _, err := New(Config{Steps: -1, Exchanger: &failingExchanger{}}); !errors.Is(err, fault.ErrArgument) {
		t.Fatalf("expected ErrArgument for negative steps, got %v", err)
	}
	if _, err := New(Config{Steps: 1}); !errors.Is(err, fault.ErrArgument) {
		t.Fatalf("expected ErrArgument for nil exchanger, got %v", err)
	}
}
