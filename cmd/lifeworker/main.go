package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danmuck/lifegrid/internal/fault"
	"github.com/danmuck/lifegrid/internal/observability"
	"github.com/danmuck/lifegrid/internal/protocol/session"
	"github.com/danmuck/lifegrid/internal/worker"
	"github.com/rs/zerolog/log"
)

func main() {
	host, _ := os.Hostname()
	sess := session.DefaultConfig()

	id := flag.String("id", fmt.Sprintf("%s-%d", host, os.Getpid()), "worker id")
	coordinatorAddr := flag.String("coordinator", "127.0.0.1:7400", "coordinator control address")
	listen := flag.String("listen", ":0", "halo listen address")
	advertise := flag.String("advertise", "", "host neighbours should dial (default: listen host)")
	dialAttempts := flag.Int("dial-attempts", sess.DialAttempts, "dial attempts per peer")
	controlTimeout := flag.Duration("control-timeout", sess.ControlTimeout, "time to wait for the assignment")
	progressEvery := flag.Int("progress", 10, "report progress every n generations (0 disables)")
	flag.Parse()

	observability.InitLogger("lifeworker")
	sess.DialAttempts = *dialAttempts
	sess.ControlTimeout = *controlTimeout

	adv := *advertise
	if adv == "" && host != "" {
		adv = host
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	start := time.Now()
	res, err := worker.Run(ctx, worker.Config{
		WorkerID:        *id,
		CoordinatorAddr: *coordinatorAddr,
		HaloListen:      *listen,
		Advertise:       adv,
		Session:         sess,
		ProgressEvery:   *progressEvery,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "lifeworker: %v\n", err)
		stop()
		os.Exit(fault.ExitCode(err))
	}
	log.Info().
		Int("rank", res.Rank).
		Int("generation", res.Final.Generation).
		Int("alive", res.Final.AliveCount).
		Dur("elapsed", time.Since(start)).
		Msg("worker finished")
}
