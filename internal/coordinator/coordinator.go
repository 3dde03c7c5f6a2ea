// Package coordinator assigns ranks to registering workers, hands out the
// decomposition, and runs the termination barrier and coordinated abort.
package coordinator

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/lifegrid/internal/config"
	"github.com/danmuck/lifegrid/internal/fault"
	"github.com/danmuck/lifegrid/internal/grid"
	"github.com/danmuck/lifegrid/internal/observability"
	"github.com/danmuck/lifegrid/internal/protocol/session"
	"github.com/danmuck/lifegrid/internal/snapshot"
	"github.com/danmuck/lifegrid/internal/topology"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

type Phase string

const (
	PhaseRegistering Phase = "registering"
	PhaseRunning     Phase = "running"
	PhaseFinalized   Phase = "finalized"
	PhaseAborted     Phase = "aborted"
)

type Config struct {
	ID          string
	RunID       string
	Addr        string
	HTTPAddr    string
	CorsOrigins []string
	Run         config.RunConfig
	Transport   config.TransportConfig
}

// FromCluster maps the cluster file onto a coordinator config.
func FromCluster(cfg config.ClusterConfig) Config {
	return Config{
		ID:          "lifecoord",
		Addr:        cfg.Coordinator.Addr,
		HTTPAddr:    cfg.Coordinator.HTTPAddr,
		CorsOrigins: cfg.Coordinator.CorsOrigins,
		Run:         cfg.Run,
		Transport:   cfg.Transport,
	}
}

// WorkerStatus is one rank's view in /status.
type WorkerStatus struct {
	Rank       int    `json:"rank"`
	WorkerID   string `json:"worker_id"`
	HaloAddr   string `json:"halo_addr"`
	Generation int    `json:"generation"`
	Alive      int    `json:"alive"`
	Done       bool   `json:"done"`
}

type Status struct {
	RunID      string          `json:"run_id"`
	Phase      Phase           `json:"phase"`
	Registered int             `json:"registered"`
	Expected   int             `json:"expected"`
	Steps      int             `json:"steps"`
	Layout     topology.Layout `json:"layout"`
	Workers    []WorkerStatus  `json:"workers"`
	Abort      string          `json:"abort,omitempty"`
}

type worker struct {
	status WorkerStatus
	conn   *controlConn
}

type Coordinator struct {
	cfg     Config
	layout  topology.Layout
	params  session.RunParams
	router  *gin.Engine
	started time.Time

	mu          sync.Mutex
	phase       Phase
	workers     []*worker
	doneCount   int
	abortReason string

	finished chan struct{}
	result   error
	once     sync.Once
}

// New decomposes the run up front so a bad worker count fails before any
// worker is accepted.
func New(cfg Config) (*Coordinator, error) {
	if strings.TrimSpace(cfg.ID) == "" {
		cfg.ID = "lifecoord"
	}
	if strings.TrimSpace(cfg.RunID) == "" {
		cfg.RunID = newRunID()
	}
	rows, cols := cfg.Run.Rows, cfg.Run.Cols
	if strings.TrimSpace(cfg.Run.Snapshot) != "" {
		g, err := snapshot.Load(cfg.Run.Snapshot)
		if err != nil {
			return nil, err
		}
		rows, cols = g.Rows, g.Cols
	} else if err := grid.CheckDims(rows, cols); err != nil {
		return nil, err
	}
	layout, err := topology.Decompose(rows, cols, cfg.Run.Workers, cfg.Run.Options())
	if err != nil {
		return nil, err
	}
	c := &Coordinator{
		cfg:      cfg,
		layout:   layout,
		params:   cfg.Run.Params(cfg.RunID, cfg.Transport.Session()),
		started:  time.Now(),
		phase:    PhaseRegistering,
		finished: make(chan struct{}),
	}
	c.router = c.newRouter()
	log.Info().
		Str("run_id", cfg.RunID).
		Int("n", layout.N).
		Int("m", layout.M).
		Int("px", layout.Px).
		Int("py", layout.Py).
		Msg("coordinator layout ready")
	return c, nil
}

func newRunID() string {
	var b [6]byte
	if _, err := rand.Read(b[:]); err != nil {
		return fmt.Sprintf("run-%d", time.Now().UnixNano())
	}
	return "run-" + hex.EncodeToString(b[:])
}

func (c *Coordinator) RunID() string           { return c.cfg.RunID }
func (c *Coordinator) Layout() topology.Layout { return c.layout }
func (c *Coordinator) HTTPRouter() *gin.Engine { return c.router }
func (c *Coordinator) Done() <-chan struct{}   { return c.finished }

// Wait blocks until the run is finalized or aborted, or ctx ends.
func (c *Coordinator) Wait(ctx context.Context) error {
	select {
	case <-c.finished:
		return c.result
	case <-ctx.Done():
		c.abort(-1, "coordinator cancelled")
		return fault.New(fault.KindCommunication, "coordinator.Wait", ctx.Err())
	}
}

func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := Status{
		RunID:      c.cfg.RunID,
		Phase:      c.phase,
		Registered: len(c.workers),
		Expected:   c.layout.Workers(),
		Steps:      c.params.Steps,
		Layout:     c.layout,
		Workers:    make([]WorkerStatus, 0, len(c.workers)),
		Abort:      c.abortReason,
	}
	for _, w := range c.workers {
		out.Workers = append(out.Workers, w.status)
	}
	return out
}

// register admits one worker. Rank is arrival order. When the last expected
// worker arrives every worker receives its assignment.
func (c *Coordinator) register(conn *controlConn, reg session.Registration) (int, error) {
	c.mu.Lock()
	if c.phase != PhaseRegistering {
		c.mu.Unlock()
		return -1, fmt.Errorf("coordinator: run %s is %s", c.cfg.RunID, c.phase)
	}
	rank := len(c.workers)
	c.workers = append(c.workers, &worker{
		status: WorkerStatus{Rank: rank, WorkerID: reg.WorkerID, HaloAddr: reg.HaloAddr},
		conn:   conn,
	})
	full := len(c.workers) == c.layout.Workers()
	if full {
		c.phase = PhaseRunning
	}
	workers := append([]*worker(nil), c.workers...)
	c.mu.Unlock()

	log.Info().Str("worker_id", reg.WorkerID).Str("halo_addr", reg.HaloAddr).Int("rank", rank).Msg("worker registered")
	if full {
		c.assign(workers)
	}
	return rank, nil
}

func (c *Coordinator) assign(workers []*worker) {
	peers := make(map[int]string, len(workers))
	for _, w := range workers {
		peers[w.status.Rank] = w.status.HaloAddr
	}
	for _, w := range workers {
		msg := session.Control{Type: session.TypeAssign, Assign: &session.Assignment{
			Rank:   w.status.Rank,
			Layout: c.layout,
			Peers:  peers,
			Run:    c.params,
		}}
		if err := w.conn.write(msg); err != nil {
			c.abort(w.status.Rank, fmt.Sprintf("assignment to rank %d failed: %v", w.status.Rank, err))
			return
		}
	}
	log.Info().Str("run_id", c.cfg.RunID).Int("workers", len(workers)).Msg("run assigned")
}

func (c *Coordinator) progress(rank int, p session.Progress, done bool) {
	c.mu.Lock()
	if rank < 0 || rank >= len(c.workers) || c.phase != PhaseRunning {
		c.mu.Unlock()
		return
	}
	w := c.workers[rank]
	w.status.Generation = p.Generation
	w.status.Alive = p.Alive
	finalize := false
	if done && !w.status.Done {
		w.status.Done = true
		c.doneCount++
		finalize = c.doneCount == len(c.workers)
		if finalize {
			c.phase = PhaseFinalized
		}
	}
	workers := append([]*worker(nil), c.workers...)
	c.mu.Unlock()

	if !finalize {
		return
	}
	for _, w := range workers {
		if err := w.conn.write(session.Control{Type: session.TypeFinalize}); err != nil {
			log.Warn().Err(err).Int("rank", w.status.Rank).Msg("finalize write failed")
		}
	}
	log.Info().Str("run_id", c.cfg.RunID).Msg("run finalized")
	c.finish(nil)
}

// abort broadcasts the failure to every worker and ends the run. Only the
// first abort is reported.
func (c *Coordinator) abort(rank int, reason string) {
	c.mu.Lock()
	if c.phase == PhaseFinalized || c.phase == PhaseAborted {
		c.mu.Unlock()
		return
	}
	c.phase = PhaseAborted
	c.abortReason = reason
	workers := append([]*worker(nil), c.workers...)
	c.mu.Unlock()

	observability.RecordExchangeFailure(rank, "abort")
	log.Error().Int("rank", rank).Str("reason", reason).Msg("run aborted")
	msg := session.Control{Type: session.TypeAbort, Abort: &session.Abort{Rank: rank, Reason: reason}}
	for _, w := range workers {
		if w.status.Rank == rank {
			continue
		}
		_ = w.conn.write(msg)
	}
	c.finish(fault.Newf(fault.KindCommunication, "coordinator", "rank %d: %s", rank, reason))
}

func (c *Coordinator) finish(err error) {
	c.once.Do(func() {
		c.result = err
		close(c.finished)
	})
}

func (c *Coordinator) phaseOf() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}
