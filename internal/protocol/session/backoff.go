package session

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"net"
	"time"

	"github.com/rs/zerolog/log"
)

// NextBackoffDelay returns the retry delay for attempt N (1-based).
func NextBackoffDelay(cfg BackoffConfig, attempt int, rng *rand.Rand) time.Duration {
	if attempt <= 1 {
		return cfg.InitialDelay
	}
	if cfg.InitialDelay <= 0 {
		return 0
	}
	if cfg.Multiplier < 1.0 {
		cfg.Multiplier = 1.0
	}
	delay := float64(cfg.InitialDelay) * math.Pow(cfg.Multiplier, float64(attempt-1))
	if cfg.MaxDelay > 0 && delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	if cfg.Jitter {
		f := 0.5
		if rng != nil {
			f = 0.5 + rng.Float64()
		}
		delay = delay * f
	}
	return time.Duration(delay)
}

// Dial connects to addr, retrying with backoff until cfg.DialAttempts is
// exhausted or ctx ends. Peers start in any order, so early refusals are normal.
func Dial(ctx context.Context, addr string, cfg Config) (net.Conn, error) {
	attempts := cfg.DialAttempts
	if attempts < 1 {
		attempts = 1
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	d := net.Dialer{Timeout: cfg.ConnectTimeout}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		delay := NextBackoffDelay(cfg.Backoff, attempt, rng)
		log.Debug().Str("addr", addr).Int("attempt", attempt).Dur("retry_in", delay).Err(err).Msg("dial failed")
		select {
		case <-ctx.Done():
		case <-time.After(delay):
		}
	}
	if ctx.Err() != nil {
		return nil, fmt.Errorf("session: dial %s: %w", addr, ctx.Err())
	}
	return nil, fmt.Errorf("session: dial %s after %d attempts: %w", addr, attempts, lastErr)
}
