package snapshot

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/danmuck/lifegrid/internal/fault"
	"github.com/danmuck/lifegrid/internal/grid"
	"github.com/danmuck/lifegrid/internal/topology"
	"github.com/rs/zerolog/log"
)

// FileSink saves every emitted generation under Prefix. With PerRank set each
// rank writes only its own tile.
type FileSink struct {
	Prefix  string
	PerRank bool
	// Echo, when set, also receives a dump of every saved whole-domain
	// generation.
	Echo io.Writer
	// Every saves only generations divisible by Every, plus Last. Zero or one
	// saves all of them.
	Every int
	Last  int
}

// Keeps reports whether generation gen is saved.
func (s FileSink) Keeps(gen int) bool {
	return s.Every <= 1 || gen%s.Every == 0 || gen == s.Last
}

func (s FileSink) Emit(ctx context.Context, rank int, g *grid.Grid) error {
	if !s.Keeps(g.Generation) {
		return nil
	}
	if s.PerRank {
		return Save(RankFileName(s.Prefix, g.Generation, rank), g)
	}
	return s.Store(ctx, g)
}

// Store saves a whole-domain generation.
func (s FileSink) Store(_ context.Context, g *grid.Grid) error {
	if !s.Keeps(g.Generation) {
		return nil
	}
	name := FileName(s.Prefix, g.Generation)
	if err := Save(name, g); err != nil {
		return err
	}
	log.Debug().Str("file", name).Int("generation", g.Generation).Int("alive", g.AliveCount).Msg("snapshot saved")
	if s.Echo != nil {
		return Echo(s.Echo, g)
	}
	return nil
}

// GatherSink assembles the tiles of each generation into the global grid and
// hands the completed grid to Out once every rank has emitted it.
type GatherSink struct {
	layout topology.Layout
	out    func(ctx context.Context, g *grid.Grid) error

	mu      sync.Mutex
	pending map[int]*gathering
}

type gathering struct {
	global *grid.Grid
	seen   map[int]bool
}

func NewGatherSink(layout topology.Layout, out func(ctx context.Context, g *grid.Grid) error) *GatherSink {
	return &GatherSink{
		layout:  layout,
		out:     out,
		pending: make(map[int]*gathering),
	}
}

func (s *GatherSink) Emit(ctx context.Context, rank int, tile *grid.Grid) error {
	const op = "snapshot.GatherSink"
	t, err := s.layout.Tile(rank)
	if err != nil {
		return err
	}
	s.mu.Lock()
	p, ok := s.pending[tile.Generation]
	if !ok {
		global, err := grid.New(s.layout.N, s.layout.M)
		if err != nil {
			s.mu.Unlock()
			return err
		}
		global.Generation = tile.Generation
		p = &gathering{global: global, seen: make(map[int]bool, s.layout.Workers())}
		s.pending[tile.Generation] = p
	}
	if p.seen[rank] {
		s.mu.Unlock()
		return fault.Newf(fault.KindArgument, op, "rank %d emitted generation %d twice", rank, tile.Generation)
	}
	if err := p.global.Place(tile, t.RowOffset, t.ColOffset); err != nil {
		s.mu.Unlock()
		return err
	}
	p.seen[rank] = true
	complete := len(p.seen) == s.layout.Workers()
	if complete {
		delete(s.pending, tile.Generation)
	}
	s.mu.Unlock()

	if !complete {
		return nil
	}
	p.global.Recount()
	if s.out == nil {
		return nil
	}
	if err := s.out(ctx, p.global); err != nil {
		return fmt.Errorf("generation %d: %w", tile.Generation, err)
	}
	return nil
}

// Pending reports generations still waiting for tiles.
func (s *GatherSink) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}
