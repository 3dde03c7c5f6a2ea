package halo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/lifegrid/internal/fault"
	"github.com/danmuck/lifegrid/internal/grid"
	"github.com/danmuck/lifegrid/internal/observability"
	"github.com/danmuck/lifegrid/internal/topology"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// CornerPolicy decides whether diagonal border cells are exchanged.
type CornerPolicy string

const (
	// CornersFull widens the column phase to rows 0..Rows+1 so the corner
	// cells received during the row phase travel sideways.
	CornersFull CornerPolicy = "full"
	// CornersReference exchanges interior rows only and leaves corners DEAD.
	CornersReference CornerPolicy = "reference"
)

func ParseCorners(raw string) (CornerPolicy, error) {
	switch CornerPolicy(strings.ToLower(strings.TrimSpace(raw))) {
	case "", CornersFull:
		return CornersFull, nil
	case CornersReference:
		return CornersReference, nil
	default:
		return "", fault.Newf(fault.KindArgument, "halo.ParseCorners", "unknown corner policy %q", raw)
	}
}

// Exchanger refreshes the border of one rank's tile. It is not safe for
// concurrent use; every worker owns exactly one.
type Exchanger struct {
	transport Transport
	topo      topology.Topology
	corners   CornerPolicy
	timeout   time.Duration
	logger    zerolog.Logger

	sendRow, recvRow []byte
	sendCol, recvCol []byte
}

// NewExchanger binds transport to topo. A zero timeout waits forever.
func NewExchanger(tr Transport, topo topology.Topology, corners CornerPolicy, timeout time.Duration) *Exchanger {
	if corners == "" {
		corners = CornersFull
	}
	return &Exchanger{
		transport: tr,
		topo:      topo,
		corners:   corners,
		timeout:   timeout,
		logger:    log.With().Int("rank", topo.Rank).Logger(),
	}
}

func (e *Exchanger) Topology() topology.Topology { return e.topo }

// Exchange fills every border cell of g: from the neighbour on sides that
// have one, DEAD on sides that face the global boundary.
func (e *Exchanger) Exchange(ctx context.Context, g *grid.Grid) error {
	const op = "halo.Exchange"
	if g.Rows != e.topo.Rows || g.Cols != e.topo.Cols {
		return fault.Newf(fault.KindDimension, op, "grid %dx%d does not match tile %dx%d",
			g.Rows, g.Cols, e.topo.Rows, e.topo.Cols)
	}
	start := time.Now()
	gen := uint64(g.Generation)
	t := e.topo

	e.sendRow = g.Row(1, e.sendRow)
	e.recvRow = sized(e.recvRow, g.Cols)
	if err := e.transfer(ctx, Transfer{Generation: gen, Tag: TagUp, Dst: t.Up, Out: e.sendRow, Src: t.Down, In: e.recvRow}); err != nil {
		return err
	}
	if t.Down != topology.NoNeighbor {
		g.SetRow(g.Rows+1, e.recvRow)
	} else {
		g.FillRow(g.Rows+1, grid.Dead)
	}

	e.sendRow = g.Row(g.Rows, e.sendRow)
	if err := e.transfer(ctx, Transfer{Generation: gen, Tag: TagDown, Dst: t.Down, Out: e.sendRow, Src: t.Up, In: e.recvRow}); err != nil {
		return err
	}
	if t.Up != topology.NoNeighbor {
		g.SetRow(0, e.recvRow)
	} else {
		g.FillRow(0, grid.Dead)
	}

	from, to := 0, g.Rows+1
	if e.corners == CornersReference {
		from, to = 1, g.Rows
	}
	n := to - from + 1

	e.sendCol = g.Column(1, from, to, e.sendCol)
	e.recvCol = sized(e.recvCol, n)
	if err := e.transfer(ctx, Transfer{Generation: gen, Tag: TagLeft, Dst: t.Left, Out: e.sendCol, Src: t.Right, In: e.recvCol}); err != nil {
		return err
	}
	if t.Right != topology.NoNeighbor {
		g.SetColumn(g.Cols+1, from, e.recvCol)
	} else {
		g.FillColumn(g.Cols+1, from, to, grid.Dead)
	}

	e.sendCol = g.Column(g.Cols, from, to, e.sendCol)
	if err := e.transfer(ctx, Transfer{Generation: gen, Tag: TagRight, Dst: t.Right, Out: e.sendCol, Src: t.Left, In: e.recvCol}); err != nil {
		return err
	}
	if t.Left != topology.NoNeighbor {
		g.SetColumn(0, from, e.recvCol)
	} else {
		g.FillColumn(0, from, to, grid.Dead)
	}

	if e.corners == CornersReference {
		g.Set(0, 0, grid.Dead)
		g.Set(0, g.Cols+1, grid.Dead)
		g.Set(g.Rows+1, 0, grid.Dead)
		g.Set(g.Rows+1, g.Cols+1, grid.Dead)
	}

	observability.RecordExchange(t.Rank, time.Since(start))
	e.logger.Debug().Int("generation", g.Generation).Dur("elapsed", time.Since(start)).Msg("halo exchanged")
	return nil
}

func (e *Exchanger) transfer(ctx context.Context, x Transfer) error {
	const op = "halo.Exchange"
	if x.Dst == topology.NoNeighbor && x.Src == topology.NoNeighbor {
		return nil
	}
	tctx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		tctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	err := e.transport.SendRecv(tctx, x)
	if err == nil {
		if x.Dst != topology.NoNeighbor {
			observability.RecordHaloBytes(e.topo.Rank, "sent", len(x.Out))
		}
		if x.Src != topology.NoNeighbor {
			observability.RecordHaloBytes(e.topo.Rank, "received", len(x.In))
		}
		return nil
	}

	switch {
	case ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded):
		observability.RecordExchangeFailure(e.topo.Rank, "timeout")
		e.logger.Error().Stringer("tag", x.Tag).Uint64("generation", x.Generation).Dur("timeout", e.timeout).Msg("halo transfer timed out")
		return fault.New(fault.KindCommunication, op,
			fmt.Errorf("%w: %s transfer for generation %d after %s", fault.ErrTimeout, x.Tag, x.Generation, e.timeout))
	case ctx.Err() != nil:
		observability.RecordExchangeFailure(e.topo.Rank, "cancelled")
		return fault.New(fault.KindCommunication, op, fmt.Errorf("%s transfer: %w", x.Tag, ctx.Err()))
	default:
		observability.RecordExchangeFailure(e.topo.Rank, "transport")
		e.logger.Error().Err(err).Stringer("tag", x.Tag).Uint64("generation", x.Generation).Msg("halo transfer failed")
		return fault.New(fault.KindCommunication, op, fmt.Errorf("%s transfer: %w", x.Tag, err))
	}
}

func sized(b []byte, n int) []byte {
	if cap(b) < n {
		return make([]byte, n)
	}
	return b[:n]
}
