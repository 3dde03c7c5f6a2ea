package coordinator

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/lifegrid/internal/protocol/session"
	"github.com/rs/zerolog/log"
)

type controlConn struct {
	conn net.Conn
	wmu  sync.Mutex
}

func (c *controlConn) write(msg session.Control) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return session.WriteControl(c.conn, msg)
}

// Start listens on the control address and, when configured, the HTTP status
// address. Both stop when ctx ends or the run finishes.
func (c *Coordinator) Start(ctx context.Context) (net.Addr, error) {
	ln, err := net.Listen("tcp", strings.TrimSpace(c.cfg.Addr))
	if err != nil {
		return nil, err
	}
	log.Info().Str("addr", ln.Addr().String()).Str("run_id", c.cfg.RunID).Msg("coordinator control listening")

	go func() {
		select {
		case <-ctx.Done():
		case <-c.finished:
		}
		_ = ln.Close()
	}()
	go c.acceptLoop(ctx, ln)

	if addr := strings.TrimSpace(c.cfg.HTTPAddr); addr != "" {
		srv := &http.Server{Addr: addr, Handler: c.router}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Warn().Err(err).Str("addr", addr).Msg("coordinator http stopped")
			}
		}()
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		log.Info().Str("addr", addr).Msg("coordinator http listening")
	}
	return ln.Addr(), nil
}

func (c *Coordinator) acceptLoop(ctx context.Context, ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() == nil && c.phaseOf() == PhaseRegistering {
				log.Warn().Err(err).Msg("coordinator accept failed")
			}
			return
		}
		go c.handleWorker(conn)
	}
}

// handleWorker owns one worker's control connection for the whole run.
func (c *Coordinator) handleWorker(raw net.Conn) {
	defer raw.Close()
	conn := &controlConn{conn: raw}
	remote := raw.RemoteAddr().String()
	r := session.NewControlReader(raw)

	_ = raw.SetReadDeadline(time.Now().Add(c.cfg.Transport.Session().HandshakeTimeout))
	msg, err := session.ReadControl(r)
	if err != nil || msg.Type != session.TypeRegister {
		log.Warn().Err(err).Str("remote", remote).Msg("worker registration rejected")
		return
	}
	_ = raw.SetReadDeadline(time.Time{})

	rank, err := c.register(conn, *msg.Register)
	if err != nil {
		_ = conn.write(session.Control{Type: session.TypeAbort, Abort: &session.Abort{Rank: -1, Reason: err.Error()}})
		log.Warn().Err(err).Str("worker_id", msg.Register.WorkerID).Msg("late registration rejected")
		return
	}

	for {
		msg, err := session.ReadControl(r)
		if err != nil {
			phase := c.phaseOf()
			if phase == PhaseRegistering || phase == PhaseRunning {
				reason := "control connection lost"
				if !errors.Is(err, io.EOF) {
					reason = reason + ": " + err.Error()
				}
				c.abort(rank, reason)
			}
			return
		}
		switch msg.Type {
		case session.TypeProgress:
			c.progress(rank, *msg.Progress, false)
		case session.TypeDone:
			c.progress(rank, *msg.Progress, true)
		case session.TypeAbort:
			c.abort(rank, msg.Abort.Reason)
		default:
			log.Warn().Str("type", msg.Type).Int("rank", rank).Msg("unexpected control message")
		}
	}
}
