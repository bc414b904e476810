package bootstrap

import (
	"context"
	"sync"
	"time"

	"github.com/Domenick1991/aimtravel/internal/logger"
)

// Sweep is a periodic maintenance job such as expiring unpaid tickets.
type Sweep struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// StartSweeps runs every sweep on its own ticker until ctx is done. The
// returned channel is closed once all of them have stopped.
func StartSweeps(ctx context.Context, sweeps ...Sweep) <-chan struct{} {
	var wg sync.WaitGroup
	for _, sw := range sweeps {
		if sw.Run == nil || sw.Interval <= 0 {
			continue
		}
		wg.Add(1)
		go func(sw Sweep) {
			defer wg.Done()
			runSweep(ctx, sw)
		}(sw)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	return done
}

func runSweep(ctx context.Context, sw Sweep) {
	log := logger.WithComponent("sweep").With().Str("sweep", sw.Name).Logger()
	ticker := time.NewTicker(sw.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := sw.Run(ctx); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("sweep failed")
			}
		}
	}
}
