package scheduler

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/unclebandit/leadreach-backend/internal/repository"
)

// Timer is the recurring trigger: it enqueues an execution per active
// campaign and runs the no-show sweep.
type Timer struct {
	Campaigns repository.CampaignRepositoryInterface
	Enqueue   func(ctx context.Context, campaignID int) error
	Sweep     func(ctx context.Context, now time.Time) (int, error)

	cron *cron.Cron
}

func NewTimer(campaigns repository.CampaignRepositoryInterface, enqueue func(context.Context, int) error, sweep func(context.Context, time.Time) (int, error)) *Timer {
	return &Timer{
		Campaigns: campaigns,
		Enqueue:   enqueue,
		Sweep:     sweep,
		cron:      cron.New(),
	}
}

func (t *Timer) Start(executeSpec, noShowSpec string) error {
	if _, err := t.cron.AddFunc(executeSpec, func() { t.Tick(context.Background()) }); err != nil {
		return fmt.Errorf("execute schedule %q: %w", executeSpec, err)
	}
	if t.Sweep != nil {
		if _, err := t.cron.AddFunc(noShowSpec, func() { t.SweepNow(context.Background(), time.Now()) }); err != nil {
			return fmt.Errorf("no-show schedule %q: %w", noShowSpec, err)
		}
	}
	t.cron.Start()
	log.Printf("⏰ Scheduler timer started (execute %q, no-show %q)", executeSpec, noShowSpec)
	return nil
}

// Stop waits for running jobs.
func (t *Timer) Stop() {
	<-t.cron.Stop().Done()
}

// Tick enqueues every active campaign and returns how many were queued.
func (t *Timer) Tick(ctx context.Context) int {
	campaigns, err := t.Campaigns.ListActive(ctx)
	if err != nil {
		log.Printf("⚠️ list active campaigns: %v", err)
		return 0
	}
	queued := 0
	for _, c := range campaigns {
		if err := t.Enqueue(ctx, c.ID); err != nil {
			log.Printf("⚠️ enqueue campaign %d: %v", c.ID, err)
			continue
		}
		queued++
	}
	return queued
}

func (t *Timer) SweepNow(ctx context.Context, now time.Time) {
	n, err := t.Sweep(ctx, now)
	if err != nil {
		log.Printf("⚠️ no-show sweep: %v", err)
	}
	if n > 0 {
		log.Printf("📅 Marked %d appointments as no-show", n)
	}
}
