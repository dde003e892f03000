/**
 * @description
 * Cron wiring for the escrow expiry sweep. The sweep runs on a fixed schedule,
 * refunding every pending escrow whose expiry has passed. Each run is bounded
 * by a timeout so a stuck database cannot pile up overlapping sweeps.
 *
 * @dependencies
 * - github.com/robfig/cron/v3: Cron scheduler with panic recovery.
 */

package app

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

const sweepRunTimeout = 2 * time.Minute

// Sweeper runs the escrow expiry sweep on a cron schedule.
type Sweeper struct {
	cron     *cron.Cron
	service  *Service
	schedule string
}

// NewSweeper creates a sweeper with the given cron schedule expression.
func NewSweeper(service *Service, schedule string) *Sweeper {
	cronLogger := cron.PrintfLogger(log.Default())
	c := cron.New(cron.WithChain(cron.Recover(cronLogger)))

	return &Sweeper{
		cron:     c,
		service:  service,
		schedule: schedule,
	}
}

// Start registers the sweep job and starts the scheduler.
func (s *Sweeper) Start() {
	if _, err := s.cron.AddFunc(s.schedule, s.runOnce); err != nil {
		log.Printf("level=error component=sweeper msg=\"failed to schedule escrow expiry sweep\" schedule=%q err=%v", s.schedule, err)
		return
	}
	log.Printf("level=info component=sweeper msg=\"scheduled escrow expiry sweep\" schedule=%q", s.schedule)
	s.cron.Start()
}

// Stop gracefully stops the scheduler and returns a context that is done once
// any in-flight sweep finishes.
func (s *Sweeper) Stop() context.Context {
	return s.cron.Stop()
}

func (s *Sweeper) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepRunTimeout)
	defer cancel()

	if _, err := s.service.ExpireDueEscrows(ctx); err != nil {
		log.Printf("level=error component=sweeper msg=\"escrow expiry sweep failed\" err=%v", err)
	}
}
