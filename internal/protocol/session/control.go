package session

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/danmuck/lifegrid/internal/topology"
)

// Control message types carried on the coordinator socket.
const (
	TypeRegister = "worker.register"
	TypeAssign   = "worker.assign"
	TypeProgress = "worker.progress"
	TypeDone     = "worker.done"
	TypeFinalize = "run.finalize"
	TypeAbort    = "run.abort"
)

const maxControlLine = 4 << 20

var (
	ErrInvalidControl         = errors.New("session: invalid control message")
	ErrControlMessageTooLarge = errors.New("session: control message too large")
)

// Registration is the worker->coordinator join request. HaloAddr is where the
// worker already listens for neighbour links.
type Registration struct {
	WorkerID string `json:"worker_id"`
	HaloAddr string `json:"halo_addr"`
}

func (r Registration) Validate() error {
	if strings.TrimSpace(r.WorkerID) == "" {
		return fmt.Errorf("%w: missing worker_id", ErrInvalidControl)
	}
	if strings.TrimSpace(r.HaloAddr) == "" {
		return fmt.Errorf("%w: missing halo_addr", ErrInvalidControl)
	}
	return nil
}

// RunParams are the run settings every worker of one run shares.
type RunParams struct {
	RunID             string `json:"run_id"`
	Steps             int    `json:"steps"`
	Seed              int64  `json:"seed"`
	Snapshot          string `json:"snapshot,omitempty"`
	OutputPrefix      string `json:"output_prefix"`
	Corners           string `json:"corners"`
	TransferTimeoutMS int64  `json:"transfer_timeout_ms"`
	ConnectTimeoutMS  int64  `json:"connect_timeout_ms,omitempty"`
	DialAttempts      int    `json:"dial_attempts,omitempty"`
	// Every saves one generation in Every; zero or one saves all.
	Every int `json:"every,omitempty"`
}

// Apply overlays the run-wide transport settings on a worker's session config.
func (p RunParams) Apply(cfg Config) Config {
	if p.TransferTimeoutMS > 0 {
		cfg.TransferTimeout = time.Duration(p.TransferTimeoutMS) * time.Millisecond
	}
	if p.ConnectTimeoutMS > 0 {
		cfg.ConnectTimeout = time.Duration(p.ConnectTimeoutMS) * time.Millisecond
	}
	if p.DialAttempts > 0 {
		cfg.DialAttempts = p.DialAttempts
	}
	return cfg
}

// Assignment is the coordinator->worker reply once every worker registered.
type Assignment struct {
	Rank   int             `json:"rank"`
	Layout topology.Layout `json:"layout"`
	Peers  map[int]string  `json:"peers"`
	Run    RunParams       `json:"run"`
}

func (a Assignment) Validate() error {
	if a.Rank < 0 || a.Rank >= len(a.Layout.Tiles) {
		return fmt.Errorf("%w: rank %d outside layout of %d tiles", ErrInvalidControl, a.Rank, len(a.Layout.Tiles))
	}
	if strings.TrimSpace(a.Run.RunID) == "" {
		return fmt.Errorf("%w: missing run_id", ErrInvalidControl)
	}
	if a.Run.Steps < 0 {
		return fmt.Errorf("%w: negative steps", ErrInvalidControl)
	}
	for _, n := range a.Layout.Tiles[a.Rank].Neighbors() {
		if strings.TrimSpace(a.Peers[n]) == "" {
			return fmt.Errorf("%w: no address for neighbour rank %d", ErrInvalidControl, n)
		}
	}
	return nil
}

// Progress reports one worker's position; Done uses the same shape.
type Progress struct {
	Rank       int `json:"rank"`
	Generation int `json:"generation"`
	Alive      int `json:"alive"`
}

// Abort carries the failing rank and reason. Rank is -1 when the coordinator
// itself aborts.
type Abort struct {
	Rank   int    `json:"rank"`
	Reason string `json:"reason"`
}

// Control is one JSON line on the coordinator socket.
type Control struct {
	Type     string        `json:"type"`
	Register *Registration `json:"register,omitempty"`
	Assign   *Assignment   `json:"assign,omitempty"`
	Progress *Progress     `json:"progress,omitempty"`
	Abort    *Abort        `json:"abort,omitempty"`
}

func (c Control) Validate() error {
	switch c.Type {
	case TypeRegister:
		if c.Register == nil {
			return fmt.Errorf("%w: %s without body", ErrInvalidControl, c.Type)
		}
		return c.Register.Validate()
	case TypeAssign:
		if c.Assign == nil {
			return fmt.Errorf("%w: %s without body", ErrInvalidControl, c.Type)
		}
		return c.Assign.Validate()
	case TypeProgress, TypeDone:
		if c.Progress == nil {
			return fmt.Errorf("%w: %s without body", ErrInvalidControl, c.Type)
		}
		return nil
	case TypeAbort:
		if c.Abort == nil {
			return fmt.Errorf("%w: %s without body", ErrInvalidControl, c.Type)
		}
		return nil
	case TypeFinalize:
		return nil
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidControl, c.Type)
	}
}

func WriteControl(w io.Writer, c Control) error {
	if err := c.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(c)
	if err != nil {
		return err
	}
	payload = append(payload, '\n')
	_, err = w.Write(payload)
	return err
}

func ReadControl(r *bufio.Reader) (Control, error) {
	line, err := r.ReadSlice('\n')
	if errors.Is(err, bufio.ErrBufferFull) {
		return Control{}, ErrControlMessageTooLarge
	}
	if err != nil {
		return Control{}, err
	}
	var c Control
	if err := json.Unmarshal(line, &c); err != nil {
		return Control{}, fmt.Errorf("%w: %v", ErrInvalidControl, err)
	}
	if err := c.Validate(); err != nil {
		return Control{}, err
	}
	return c, nil
}

// NewControlReader sizes the buffer for the largest assignment line.
func NewControlReader(r io.Reader) *bufio.Reader {
	return bufio.NewReaderSize(r, maxControlLine)
}
