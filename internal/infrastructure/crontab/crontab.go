// Package crontab runs the periodic recovery sweep for orphaned jobs.
package crontab

import (
	"context"
	"fmt"
	"time"

	"github.com/mileusna/crontab"
	"github.com/rs/zerolog"

	"jan-server/services/research-api/internal/domain/conversation"
	"jan-server/services/research-api/internal/domain/liveness"
	"jan-server/services/research-api/internal/utils/platformerrors"
)

const (
	DefaultSweepInterval = 5                // in minutes
	CronJobTimeout       = 2 * time.Minute // Timeout for each sweep
)

// Candidates lists conversations that may have an orphaned job.
type Candidates interface {
	ListAwaitingAnswer(ctx context.Context, since time.Time) ([]*conversation.Conversation, error)
}

// Recovery checks and recovers one conversation.
type Recovery interface {
	CheckHealth(ctx context.Context, conversationID string) (liveness.Health, error)
	Recover(ctx context.Context, conversationID string) (liveness.RecoveryResult, error)
}

// SweepResult summarizes one sweep.
type SweepResult struct {
	Checked   int
	Recovered int
	Failed    int
}

type Crontab struct {
	ctab       *crontab.Crontab
	candidates Candidates
	recovery   Recovery
	window     time.Duration
	interval   int
	log        zerolog.Logger
}

// NewCrontab builds the scheduler. window bounds how far back conversations are considered.
func NewCrontab(candidates Candidates, recovery Recovery, window time.Duration, intervalMinutes int, log zerolog.Logger) *Crontab {
	if intervalMinutes <= 0 {
		intervalMinutes = DefaultSweepInterval
	}
	return &Crontab{
		ctab:       crontab.New(),
		candidates: candidates,
		recovery:   recovery,
		window:     window,
		interval:   intervalMinutes,
		log:        log.With().Str("component", "recovery-sweep").Logger(),
	}
}

// Run schedules the sweep and blocks until ctx is done.
func (c *Crontab) Run(ctx context.Context) error {
	cronExpr := fmt.Sprintf("*/%d * * * *", c.interval)
	if err := c.ctab.AddJob(cronExpr, func() {
		jobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), CronJobTimeout)
		defer cancel()
		c.Sweep(jobCtx)
	}); err != nil {
		return platformerrors.AsError(ctx, platformerrors.LayerInfrastructure, err, "failed to add recovery sweep job")
	}
	c.log.Info().Msgf("Recovery sweep scheduled: every %d minute(s)", c.interval)

	<-ctx.Done()
	c.ctab.Shutdown()
	return nil
}

// Sweep recovers every recently active conversation whose job lost its tracker.
func (c *Crontab) Sweep(ctx context.Context) SweepResult {
	var result SweepResult

	convs, err := c.candidates.ListAwaitingAnswer(ctx, time.Now().Add(-c.window))
	if err != nil {
		c.log.Error().Err(err).Msg("Failed to list conversations for recovery")
		return result
	}

	for _, conv := range convs {
		if ctx.Err() != nil {
			break
		}
		result.Checked++

		health, err := c.recovery.CheckHealth(ctx, conv.PublicID)
		if err != nil {
			result.Failed++
			c.log.Warn().Err(err).Str("conversation_id", conv.PublicID).Msg("health check failed")
			continue
		}
		if !health.NeedsRecovery {
			continue
		}

		res, err := c.recovery.Recover(ctx, conv.PublicID)
		if err != nil {
			result.Failed++
			c.log.Warn().Err(err).Str("conversation_id", conv.PublicID).Msg("recovery failed")
			continue
		}
		result.Recovered++
		c.log.Info().Str("conversation_id", conv.PublicID).Str("status", string(res.Status)).Msg("conversation recovered")
	}

	if result.Checked > 0 {
		c.log.Info().Int("checked", result.Checked).Int("recovered", result.Recovered).Int("failed", result.Failed).Msg("recovery sweep finished")
	}
	return result
}
