package launch

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/danmuck/lifegrid/internal/config"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Workers starts one worker per target and waits for all of them. The first
// failure cancels the others. Each target gets a distinct -id unless its args
// already name one.
func Workers(ctx context.Context, targets []config.LaunchTarget, timeout time.Duration, stdout, stderr io.Writer) error {
	eg, gctx := errgroup.WithContext(ctx)
	for i, target := range targets {
		i, target := i, target
		if err := config.ValidateLaunchTarget(target); err != nil {
			return fmt.Errorf("launch[%d]: %w", i, err)
		}
		args := workerArgs(target.Args, i)
		runner := ForTarget(target, timeout)
		where := target.Host
		if where == "" {
			where = "local"
		}
		eg.Go(func() error {
			log.Info().Int("target", i).Str("host", where).Str("command", joinCommand(target.Command, args)).Msg("launching worker")
			if err := runner.Run(gctx, target.Command, args, stdout, stderr); err != nil {
				return fmt.Errorf("worker %d on %s: %w", i, where, err)
			}
			return nil
		})
	}
	return eg.Wait()
}

func workerArgs(args []string, index int) []string {
	for _, a := range args {
		if a == "-id" || a == "--id" || strings.HasPrefix(a, "-id=") || strings.HasPrefix(a, "--id=") {
			return args
		}
	}
	out := append([]string(nil), args...)
	return append(out, "-id", fmt.Sprintf("worker-%d", index))
}
