package halo

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/danmuck/lifegrid/internal/fault"
	"github.com/danmuck/lifegrid/internal/protocol/session"
	"github.com/danmuck/lifegrid/internal/topology"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// TCPConfig describes one rank's view of the run.
type TCPConfig struct {
	Topology topology.Topology
	RunID    string
	// Peers maps neighbour rank to its halo listen address.
	Peers map[int]string
	// Listener accepts links from lower-ranked neighbours. ConnectTCP closes
	// it if establishment fails.
	Listener net.Listener
	Session  session.Config
}

// TCPTransport carries strips over one connection per neighbour pair. The
// lower rank of each pair dials; the higher rank accepts.
type TCPTransport struct {
	rank  int
	links map[int]*tcpLink

	closing   chan struct{}
	closeOnce sync.Once
}

type tcpLink struct {
	peer  int
	conn  net.Conn
	wmu   sync.Mutex
	inbox map[Tag]chan session.Strip

	dead     chan struct{}
	deadOnce sync.Once
	err      error
}

// ConnectTCP establishes every neighbour link of cfg.Topology and starts one
// reader per link.
func ConnectTCP(ctx context.Context, cfg TCPConfig) (*TCPTransport, error) {
	const op = "halo.ConnectTCP"
	rank := cfg.Topology.Rank
	t := &TCPTransport{
		rank:    rank,
		links:   make(map[int]*tcpLink),
		closing: make(chan struct{}),
	}

	var higher []int
	lower := make(map[int]bool)
	for _, n := range cfg.Topology.Neighbors() {
		if n > rank {
			higher = append(higher, n)
		} else {
			lower[n] = true
		}
	}

	var mu sync.Mutex
	add := func(peer int, conn net.Conn) {
		mu.Lock()
		defer mu.Unlock()
		t.links[peer] = newLink(peer, conn)
	}

	for _, peer := range higher {
		if _, ok := cfg.Peers[peer]; !ok {
			return nil, fault.Newf(fault.KindTopology, op, "no address for neighbour rank %d", peer)
		}
	}
	if len(lower) > 0 && cfg.Listener == nil {
		return nil, fault.Newf(fault.KindArgument, op, "rank %d needs a listener for %d lower neighbours", rank, len(lower))
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, peer := range higher {
		peer := peer
		addr := cfg.Peers[peer]
		g.Go(func() error {
			conn, err := session.Dial(gctx, addr, cfg.Session)
			if err != nil {
				return err
			}
			_ = conn.SetWriteDeadline(time.Now().Add(cfg.Session.HandshakeTimeout))
			if err := session.WriteHello(conn, session.Hello{Rank: rank, RunID: cfg.RunID}); err != nil {
				conn.Close()
				return fmt.Errorf("hello to rank %d: %w", peer, err)
			}
			_ = conn.SetWriteDeadline(time.Time{})
			add(peer, conn)
			log.Debug().Int("rank", rank).Int("peer", peer).Str("addr", addr).Msg("halo link dialed")
			return nil
		})
	}
	if len(lower) > 0 {
		g.Go(func() error {
			return acceptLower(gctx, cfg, lower, add)
		})
	}
	if err := g.Wait(); err != nil {
		if cfg.Listener != nil {
			cfg.Listener.Close()
		}
		t.Close()
		return nil, fault.New(fault.KindCommunication, op, err)
	}

	for _, l := range t.links {
		go l.readLoop(t.closing)
	}
	log.Info().Int("rank", rank).Int("links", len(t.links)).Msg("halo links established")
	return t, nil
}

func acceptLower(ctx context.Context, cfg TCPConfig, want map[int]bool, add func(int, net.Conn)) error {
	ln := cfg.Listener
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			ln.Close()
		case <-stop:
		}
	}()

	for len(want) > 0 {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(cfg.Session.HandshakeTimeout))
		h, err := session.ReadHello(conn)
		if err != nil {
			log.Warn().Err(err).Str("remote", conn.RemoteAddr().String()).Msg("halo hello rejected")
			conn.Close()
			continue
		}
		if h.RunID != cfg.RunID || !want[h.Rank] {
			log.Warn().Int("peer", h.Rank).Str("run_id", h.RunID).Msg("halo hello from unexpected peer")
			conn.Close()
			continue
		}
		_ = conn.SetReadDeadline(time.Time{})
		delete(want, h.Rank)
		add(h.Rank, conn)
		log.Debug().Int("rank", cfg.Topology.Rank).Int("peer", h.Rank).Msg("halo link accepted")
	}
	return nil
}

func newLink(peer int, conn net.Conn) *tcpLink {
	inbox := make(map[Tag]chan session.Strip, 4)
	for _, tag := range []Tag{TagUp, TagDown, TagLeft, TagRight} {
		inbox[tag] = make(chan session.Strip, meshDepth)
	}
	return &tcpLink{peer: peer, conn: conn, inbox: inbox, dead: make(chan struct{})}
}

func (l *tcpLink) fail(err error) {
	l.deadOnce.Do(func() {
		l.err = err
		close(l.dead)
	})
}

func (l *tcpLink) readLoop(closing <-chan struct{}) {
	for {
		s, err := session.ReadStrip(l.conn)
		if err != nil {
			l.fail(fmt.Errorf("halo: link to rank %d: %w", l.peer, err))
			return
		}
		if s.Rank != l.peer {
			l.fail(fmt.Errorf("halo: link to rank %d carried strip from rank %d", l.peer, s.Rank))
			return
		}
		ch, ok := l.inbox[Tag(s.Tag)]
		if !ok {
			l.fail(fmt.Errorf("halo: link to rank %d carried unknown tag %d", l.peer, s.Tag))
			return
		}
		select {
		case ch <- s:
		case <-closing:
			return
		}
	}
}

func (l *tcpLink) send(ctx context.Context, s session.Strip) error {
	l.wmu.Lock()
	defer l.wmu.Unlock()
	dl, _ := ctx.Deadline()
	_ = l.conn.SetWriteDeadline(dl)
	if err := session.WriteStrip(l.conn, s); err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return fmt.Errorf("halo: write to rank %d: %w", l.peer, context.DeadlineExceeded)
		}
		return fmt.Errorf("halo: write to rank %d: %w", l.peer, err)
	}
	return nil
}

// SendRecv writes Out to Dst, then waits for the matching strip from Src.
// Each peer's reader drains its socket continuously, so the write never waits
// on the peer's own exchange.
func (t *TCPTransport) SendRecv(ctx context.Context, x Transfer) error {
	if x.Dst != topology.NoNeighbor {
		l, ok := t.links[x.Dst]
		if !ok {
			return fmt.Errorf("halo: rank %d has no link to rank %d", t.rank, x.Dst)
		}
		if err := l.send(ctx, session.Strip{Rank: t.rank, Generation: x.Generation, Tag: uint8(x.Tag), Cells: x.Out}); err != nil {
			return err
		}
	}
	if x.Src == topology.NoNeighbor {
		return nil
	}
	l, ok := t.links[x.Src]
	if !ok {
		return fmt.Errorf("halo: rank %d has no link to rank %d", t.rank, x.Src)
	}
	inbox := l.inbox[x.Tag]
	var s session.Strip
	select {
	case s = <-inbox:
	case <-l.dead:
		// Strips read before the link died are still delivered.
		select {
		case s = <-inbox:
		default:
			return l.err
		}
	case <-ctx.Done():
		return ctx.Err()
	case <-t.closing:
		return ErrClosed
	}
	if err := checkStrip(x, x.Src, s.Generation, len(s.Cells)); err != nil {
		return err
	}
	copy(x.In, s.Cells)
	return nil
}

func (t *TCPTransport) Close() error {
	t.closeOnce.Do(func() {
		close(t.closing)
		for _, l := range t.links {
			l.conn.Close()
		}
	})
	return nil
}
