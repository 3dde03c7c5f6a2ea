package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/danmuck/lifegrid/internal/config"
	"github.com/danmuck/lifegrid/internal/coordinator"
	"github.com/danmuck/lifegrid/internal/fault"
	"github.com/danmuck/lifegrid/internal/launch"
	"github.com/danmuck/lifegrid/internal/observability"
	"github.com/rs/zerolog/log"
)

func main() {
	configPath := flag.String("config", "lifegrid.toml", "cluster config file")
	writeTemplate := flag.Bool("init", false, "write a template config to -config and exit")
	runID := flag.String("run-id", "", "run id (default: random)")
	launchWorkers := flag.Bool("launch", false, "start the [[launch]] targets after listening")
	flag.Parse()

	observability.InitLogger("lifecoord")
	if *writeTemplate {
		if err := config.WriteTemplate(*configPath, false); err != nil {
			fail(fault.New(fault.KindIO, "lifecoord.init", err))
		}
		fmt.Printf("wrote %s\n", *configPath)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fail(err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ccfg := coordinator.FromCluster(cfg)
	ccfg.RunID = strings.TrimSpace(*runID)
	coord, err := coordinator.New(ccfg)
	if err != nil {
		fail(err)
	}
	if _, err := coord.Start(ctx); err != nil {
		fail(fault.New(fault.KindCommunication, "lifecoord.start", err))
	}

	if *launchWorkers && len(cfg.Launch) > 0 {
		timeout := cfg.Transport.Session().ConnectTimeout
		go func() {
			if err := launch.Workers(ctx, cfg.Launch, timeout, os.Stdout, os.Stderr); err != nil {
				log.Error().Err(err).Msg("worker launch failed")
			}
		}()
	}

	if err := coord.Wait(ctx); err != nil {
		fail(err)
	}
	log.Info().Str("run_id", coord.RunID()).Msg("run finished")
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "lifecoord: %v\n", err)
	os.Exit(fault.ExitCode(err))
}
