// Package worker runs one rank of a coordinated multi-process run: register,
// receive the assignment, link to neighbours, compute, and join the barrier.
package worker

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/lifegrid/internal/cluster"
	"github.com/danmuck/lifegrid/internal/driver"
	"github.com/danmuck/lifegrid/internal/fault"
	"github.com/danmuck/lifegrid/internal/grid"
	"github.com/danmuck/lifegrid/internal/halo"
	"github.com/danmuck/lifegrid/internal/protocol/session"
	"github.com/danmuck/lifegrid/internal/snapshot"
	"github.com/rs/zerolog/log"
)

type Config struct {
	WorkerID        string
	CoordinatorAddr string
	// HaloListen is where neighbours connect. Defaults to an ephemeral
	// loopback port.
	HaloListen string
	// Advertise replaces the host part of the halo address sent to the
	// coordinator, for workers listening on a wildcard address.
	Advertise string
	Session   session.Config
	// ProgressEvery sends a progress report every n generations; 0 disables.
	ProgressEvery int
}

// Result is what one worker computed.
type Result struct {
	Rank  int
	Final *grid.Grid
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.HaloListen) == "" {
		c.HaloListen = "127.0.0.1:0"
	}
	c.Session = sessionDefaults(c.Session)
	return c
}

// sessionDefaults fills only the settings the caller left unset.
func sessionDefaults(s session.Config) session.Config {
	d := session.DefaultConfig()
	if s.ConnectTimeout <= 0 {
		s.ConnectTimeout = d.ConnectTimeout
	}
	if s.HandshakeTimeout <= 0 {
		s.HandshakeTimeout = d.HandshakeTimeout
	}
	if s.TransferTimeout <= 0 {
		s.TransferTimeout = d.TransferTimeout
	}
	if s.ControlTimeout <= 0 {
		s.ControlTimeout = d.ControlTimeout
	}
	if s.DialAttempts <= 0 {
		s.DialAttempts = d.DialAttempts
	}
	if s.Backoff.InitialDelay <= 0 {
		s.Backoff = d.Backoff
	}
	return s
}

// Run blocks until the run is finalized, aborted, or ctx ends.
func Run(ctx context.Context, cfg Config) (Result, error) {
	const op = "worker.Run"
	cfg = cfg.withDefaults()
	if strings.TrimSpace(cfg.WorkerID) == "" {
		return Result{Rank: -1}, fault.Newf(fault.KindArgument, op, "missing worker id")
	}

	ln, err := net.Listen("tcp", cfg.HaloListen)
	if err != nil {
		return Result{Rank: -1}, fault.New(fault.KindCommunication, op, err)
	}
	defer ln.Close()
	haloAddr := advertised(ln.Addr(), cfg.Advertise)

	conn, err := session.Dial(ctx, cfg.CoordinatorAddr, cfg.Session)
	if err != nil {
		return Result{Rank: -1}, fault.New(fault.KindCommunication, op, err)
	}
	defer conn.Close()
	ctrl := newControl(conn)

	reg := session.Control{Type: session.TypeRegister, Register: &session.Registration{WorkerID: cfg.WorkerID, HaloAddr: haloAddr}}
	if err := ctrl.write(reg); err != nil {
		return Result{Rank: -1}, fault.New(fault.KindCommunication, op, err)
	}
	log.Info().Str("worker_id", cfg.WorkerID).Str("coordinator", cfg.CoordinatorAddr).Str("halo_addr", haloAddr).Msg("worker registered")

	assign, err := ctrl.awaitAssignment(cfg.Session.ControlTimeout)
	if err != nil {
		return Result{Rank: -1}, fault.New(fault.KindCommunication, op, err)
	}
	rank := assign.Rank
	if err := checkAssignment(*assign); err != nil {
		_ = ctrl.write(session.Control{Type: session.TypeAbort, Abort: &session.Abort{Rank: rank, Reason: err.Error()}})
		return Result{Rank: rank}, err
	}
	topo := assign.Layout.Tiles[rank]
	logger := log.With().Str("worker_id", cfg.WorkerID).Int("rank", rank).Logger()
	logger.Info().
		Str("run_id", assign.Run.RunID).
		Int("rows", topo.Rows).
		Int("cols", topo.Cols).
		Int("steps", assign.Run.Steps).
		Msg("assignment received")

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go ctrl.readLoop(cancel)

	res, err := run(runCtx, cfg, ln, ctrl, *assign)
	if err != nil {
		if reason := ctrl.abortReason(); reason != "" {
			return Result{Rank: rank}, fault.Newf(fault.KindCommunication, op, "run aborted: %s", reason)
		}
		_ = ctrl.write(session.Control{Type: session.TypeAbort, Abort: &session.Abort{Rank: rank, Reason: err.Error()}})
		return Result{Rank: rank}, err
	}
	return res, nil
}

// checkAssignment rejects a layout that would leave a neighbour link
// unpaired before any halo connection is attempted.
func checkAssignment(a session.Assignment) error {
	if err := a.Layout.Validate(); err != nil {
		return err
	}
	if a.Rank < 0 || a.Rank >= len(a.Layout.Tiles) {
		return fault.Newf(fault.KindTopology, "worker.assignment", "rank %d outside %d tiles", a.Rank, len(a.Layout.Tiles))
	}
	return nil
}

func run(ctx context.Context, cfg Config, ln net.Listener, ctrl *control, a session.Assignment) (Result, error) {
	topo := a.Layout.Tiles[a.Rank]
	corners, err := halo.ParseCorners(a.Run.Corners)
	if err != nil {
		return Result{Rank: a.Rank}, err
	}
	sess := a.Run.Apply(cfg.Session)

	var global *grid.Grid
	if strings.TrimSpace(a.Run.Snapshot) != "" {
		if global, err = snapshot.Load(a.Run.Snapshot); err != nil {
			return Result{Rank: a.Rank}, err
		}
	}
	tile, err := cluster.InitialTile(topo, global, a.Run.Seed)
	if err != nil {
		return Result{Rank: a.Rank}, err
	}

	tr, err := halo.ConnectTCP(ctx, halo.TCPConfig{
		Topology: topo,
		RunID:    a.Run.RunID,
		Peers:    a.Peers,
		Listener: ln,
		Session:  sess,
	})
	if err != nil {
		return Result{Rank: a.Rank}, err
	}
	defer tr.Close()

	out := snapshot.FileSink{
		Prefix:  a.Run.OutputPrefix,
		PerRank: true,
		Every:   a.Run.Every,
		Last:    tile.Generation + a.Run.Steps,
	}
	progress := &progressSink{ctrl: ctrl, every: cfg.ProgressEvery}
	d, err := driver.New(driver.Config{
		Rank:      a.Rank,
		Steps:     a.Run.Steps,
		Exchanger: halo.NewExchanger(tr, topo, corners, sess.TransferTimeout),
		Sink:      driver.Sinks(out, progress),
		Finalizer: progress,
	})
	if err != nil {
		return Result{Rank: a.Rank}, err
	}
	final, err := d.Run(ctx, tile)
	if err != nil {
		return Result{Rank: a.Rank}, err
	}
	return Result{Rank: a.Rank, Final: final}, nil
}

func advertised(addr net.Addr, host string) string {
	host = strings.TrimSpace(host)
	if host == "" {
		return addr.String()
	}
	_, port, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return net.JoinHostPort(host, port)
}

// control is the worker end of the coordinator connection. Only the run
// goroutine writes; readLoop owns reads once the assignment has arrived.
type control struct {
	conn net.Conn
	r    *bufio.Reader

	finalized chan struct{}
	mu        sync.Mutex
	aborted   string
}

func newControl(conn net.Conn) *control {
	return &control{
		conn:      conn,
		r:         session.NewControlReader(conn),
		finalized: make(chan struct{}),
	}
}

func (c *control) write(msg session.Control) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return session.WriteControl(c.conn, msg)
}

func (c *control) awaitAssignment(timeout time.Duration) (*session.Assignment, error) {
	if timeout > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
	}
	msg, err := session.ReadControl(c.r)
	if err != nil {
		return nil, fmt.Errorf("waiting for assignment: %w", err)
	}
	_ = c.conn.SetReadDeadline(time.Time{})
	switch msg.Type {
	case session.TypeAssign:
		return msg.Assign, nil
	case session.TypeAbort:
		return nil, fmt.Errorf("coordinator refused registration: %s", msg.Abort.Reason)
	default:
		return nil, fmt.Errorf("expected %s, got %s", session.TypeAssign, msg.Type)
	}
}

// readLoop waits for finalize or abort. Abort, or losing the coordinator
// before finalize, cancels the run.
func (c *control) readLoop(cancel context.CancelFunc) {
	for {
		msg, err := session.ReadControl(c.r)
		if err != nil {
			select {
			case <-c.finalized:
			default:
				c.setAborted("coordinator connection lost")
				cancel()
			}
			return
		}
		switch msg.Type {
		case session.TypeFinalize:
			close(c.finalized)
			return
		case session.TypeAbort:
			c.setAborted(msg.Abort.Reason)
			cancel()
			return
		default:
			log.Warn().Str("type", msg.Type).Msg("unexpected control message")
		}
	}
}

func (c *control) setAborted(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.aborted == "" {
		c.aborted = reason
	}
}

func (c *control) abortReason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.aborted
}

// progressSink reports generations to the coordinator and, as the driver's
// finalizer, sends done and waits on the barrier.
type progressSink struct {
	ctrl  *control
	every int
	last  session.Progress
}

func (p *progressSink) Emit(_ context.Context, rank int, g *grid.Grid) error {
	p.last = session.Progress{Rank: rank, Generation: g.Generation, Alive: g.AliveCount}
	if p.every <= 0 || g.Generation%p.every != 0 {
		return nil
	}
	return p.ctrl.write(session.Control{Type: session.TypeProgress, Progress: &p.last})
}

func (p *progressSink) Finalize(ctx context.Context) error {
	const op = "worker.Finalize"
	last := p.last
	if err := p.ctrl.write(session.Control{Type: session.TypeDone, Progress: &last}); err != nil {
		return fault.New(fault.KindCommunication, op, err)
	}
	select {
	case <-p.ctrl.finalized:
		return nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.Canceled) && p.ctrl.abortReason() != "" {
			return fault.Newf(fault.KindCommunication, op, "run aborted: %s", p.ctrl.abortReason())
		}
		return fault.New(fault.KindCommunication, op, ctx.Err())
	}
}
