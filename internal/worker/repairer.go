// Package worker runs background maintenance jobs.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"tunnel-billing/internal/lipstick"
	"tunnel-billing/internal/metrics"
	"tunnel-billing/internal/models"
	"tunnel-billing/internal/tunnel"
)

const pageSize = 100

const (
	OutcomeRepaired = "repaired"
	OutcomeFailed   = "failed"
)

type TunnelSource interface {
	ListTunnelsAfter(ctx context.Context, afterID uint, limit int) ([]models.Tunnel, error)
}

type Provider interface {
	FetchDomain(ctx context.Context, domain string) (*lipstick.Domain, error)
	CreateDomain(ctx context.Context, domain, apiKey string) error
}

type RepairerOptions struct {
	Schedule   string
	Window     time.Duration
	Metrics    *metrics.Metrics
	Logger     logrus.FieldLogger
	APIKeyFunc func() (string, error)
}

// Repairer re-registers tunnels whose domain is missing at the tunneling
// provider. Tunnels that still have a provider record are never touched.
type Repairer struct {
	tunnels   TunnelSource
	provider  Provider
	redis     *redis.Client
	metrics   *metrics.Metrics
	log       logrus.FieldLogger
	schedule  string
	window    time.Duration
	newAPIKey func() (string, error)
	cron      *cron.Cron
}

// RunStats summarizes one pass.
type RunStats struct {
	Checked  int
	Repaired int
	Failed   int
	Skipped  int
}

func NewRepairer(tunnels TunnelSource, provider Provider, rdb *redis.Client, opts RepairerOptions) *Repairer {
	r := &Repairer{
		tunnels:   tunnels,
		provider:  provider,
		redis:     rdb,
		metrics:   opts.Metrics,
		log:       opts.Logger,
		schedule:  opts.Schedule,
		window:    opts.Window,
		newAPIKey: opts.APIKeyFunc,
	}
	if r.log == nil {
		r.log = logrus.StandardLogger()
	}
	r.log = r.log.WithField("component", "repairer")
	if r.schedule == "" {
		r.schedule = "@every 1h"
	}
	if r.window <= 0 {
		r.window = 6 * time.Hour
	}
	if r.newAPIKey == nil {
		r.newAPIKey = tunnel.GenerateAPIKey
	}
	return r
}

// Start schedules the job and runs it once right away.
func (r *Repairer) Start(ctx context.Context) error {
	r.cron = cron.New(cron.WithChain(cron.Recover(cron.PrintfLogger(r.log))))
	if _, err := r.cron.AddFunc(r.schedule, func() { r.run(ctx) }); err != nil {
		return fmt.Errorf("schedule tunnel repair %q: %w", r.schedule, err)
	}
	r.cron.Start()
	r.log.WithField("schedule", r.schedule).Info("tunnel repair worker started")

	go r.run(ctx)
	return nil
}

// Stop waits for a running pass to finish or ctx to expire.
func (r *Repairer) Stop(ctx context.Context) {
	if r.cron == nil {
		return
	}
	select {
	case <-r.cron.Stop().Done():
	case <-ctx.Done():
	}
}

func (r *Repairer) run(ctx context.Context) {
	stats, err := r.RunOnce(ctx)
	entry := r.log.WithFields(logrus.Fields{
		"checked":  stats.Checked,
		"repaired": stats.Repaired,
		"failed":   stats.Failed,
		"skipped":  stats.Skipped,
	})
	if err != nil {
		entry.WithError(err).Error("tunnel repair pass aborted")
		return
	}
	entry.Info("tunnel repair pass finished")
}

// RunOnce walks every tunnel in id order and repairs the ones the provider
// no longer knows about.
func (r *Repairer) RunOnce(ctx context.Context) (RunStats, error) {
	var stats RunStats
	var afterID uint

	for {
		page, err := r.tunnels.ListTunnelsAfter(ctx, afterID, pageSize)
		if err != nil {
			return stats, fmt.Errorf("list tunnels after %d: %w", afterID, err)
		}
		for i := range page {
			if err := ctx.Err(); err != nil {
				return stats, err
			}
			r.check(ctx, &page[i], &stats)
		}
		if len(page) < pageSize {
			return stats, nil
		}
		afterID = page[len(page)-1].ID
	}
}

func (r *Repairer) check(ctx context.Context, t *models.Tunnel, stats *RunStats) {
	stats.Checked++
	log := r.log.WithFields(logrus.Fields{"tunnel_id": t.ID, "domain": t.Domain})

	_, err := r.provider.FetchDomain(ctx, t.Domain)
	if err == nil {
		return
	}
	if !errors.Is(err, lipstick.ErrDomainNotFound) {
		log.WithError(err).Warn("could not check tunnel at provider")
		stats.Skipped++
		return
	}

	key := fmt.Sprintf("tunnel_repair:%d", t.ID)
	claimed, err := r.redis.SetNX(ctx, key, time.Now().Unix(), r.window).Result()
	if err != nil {
		log.WithError(err).Warn("could not claim tunnel repair")
		stats.Skipped++
		return
	}
	if !claimed {
		stats.Skipped++
		return
	}

	apiKey, err := r.newAPIKey()
	if err == nil {
		err = r.provider.CreateDomain(ctx, t.Domain, apiKey)
	}
	if err != nil {
		log.WithError(err).Error("tunnel repair failed")
		if delErr := r.redis.Del(ctx, key).Err(); delErr != nil {
			log.WithError(delErr).Warn("could not release tunnel repair claim")
		}
		r.metrics.ObserveRepair(OutcomeFailed)
		stats.Failed++
		return
	}

	log.Info("tunnel re-registered at provider")
	r.metrics.ObserveRepair(OutcomeRepaired)
	stats.Repaired++
}
