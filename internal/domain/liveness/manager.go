package liveness

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	domainerrors "jan-server/services/research-api/internal/domain/errors"
	"jan-server/services/research-api/internal/domain/job"
	"jan-server/services/research-api/internal/infrastructure/kvstore"
	"jan-server/services/research-api/internal/infrastructure/metrics"
	"jan-server/services/research-api/internal/infrastructure/observability"
)

const (
	recoverLockPrefix = "lock:recover:"
	recoverLockTTL    = 60 * time.Second
)

// StatusChecker asks the inference service for a job status. Unreachable maps to job.StatusConnectionError.
type StatusChecker interface {
	JobStatus(ctx context.Context, jobID string) job.Status
}

// Conversations is what recovery needs from the conversation store.
type Conversations interface {
	LatestJobID(ctx context.Context, conversationID string) (string, error)
	FinalizeFromStatus(ctx context.Context, conversationID string) error
}

// Resumer restarts a detached tracking task for an existing job.
type Resumer interface {
	Resume(ctx context.Context, conversationID, jobID string) error
}

// Locker serializes recoveries of the same conversation across instances.
type Locker interface {
	WithLock(ctx context.Context, name string, ttl time.Duration, fn func(ctx context.Context) error) error
}

// Health is the liveness view of a conversation's latest job.
type Health struct {
	AIStatus            job.Status `json:"ai_status"`
	IsBackgroundRunning bool       `json:"is_background_running"`
	NeedsRecovery       bool       `json:"needs_recovery"`
}

// RecoveryStatus is the outcome of a successful Recover call.
type RecoveryStatus string

const (
	RecoveryRestarted RecoveryStatus = "restarted"
	RecoveryCompleted RecoveryStatus = "already completed"
)

// RecoveryResult is returned by Recover.
type RecoveryResult struct {
	Status RecoveryStatus `json:"status"`
	JobID  string         `json:"job_id,omitempty"`
}

// Manager compares external job status with heartbeat presence and resumes orphaned jobs.
// It never submits a new job.
type Manager struct {
	tracker       *Tracker
	statuses      StatusChecker
	conversations Conversations
	resumer       Resumer
	locker        Locker
	log           zerolog.Logger
}

// NewManager builds a recovery manager.
func NewManager(tracker *Tracker, statuses StatusChecker, conversations Conversations, resumer Resumer, locker Locker, log zerolog.Logger) *Manager {
	return &Manager{
		tracker:       tracker,
		statuses:      statuses,
		conversations: conversations,
		resumer:       resumer,
		locker:        locker,
		log:           log.With().Str("component", "recovery-manager").Logger(),
	}
}

// NeedsRecovery is true when the job is running without a tracker, or its status could not be read.
func NeedsRecovery(status job.Status, running bool) bool {
	return (status == job.StatusProgress && !running) || status == job.StatusConnectionError
}

// CheckHealth reports the job status, whether a tracker is alive and whether recovery is needed.
// A conversation without a job reports success.
func (m *Manager) CheckHealth(ctx context.Context, conversationID string) (Health, error) {
	jobID, err := m.conversations.LatestJobID(ctx, conversationID)
	if err != nil {
		return Health{}, err
	}

	running, err := m.tracker.Alive(ctx, conversationID)
	if err != nil {
		return Health{}, err
	}

	if jobID == "" {
		return Health{AIStatus: job.StatusSuccess, IsBackgroundRunning: running}, nil
	}

	status := m.statuses.JobStatus(ctx, jobID)
	return Health{
		AIStatus:            status,
		IsBackgroundRunning: running,
		NeedsRecovery:       NeedsRecovery(status, running),
	}, nil
}

// Recover re-reads the job status under a per-conversation lock. An in-progress job without
// a heartbeat gets a fresh tracking task; a finished job has its final messages written.
func (m *Manager) Recover(ctx context.Context, conversationID string) (result RecoveryResult, err error) {
	ctx, span := observability.StartRecoverySpan(ctx, conversationID)
	defer func() {
		observability.EndSpan(span, err)
		if err != nil {
			metrics.RecordRecovery("failed")
		} else {
			metrics.RecordRecovery(string(result.Status))
		}
	}()

	jobID, err := m.conversations.LatestJobID(ctx, conversationID)
	if err != nil {
		return RecoveryResult{}, err
	}
	if jobID == "" {
		return RecoveryResult{Status: RecoveryCompleted}, nil
	}

	result = RecoveryResult{JobID: jobID}
	err = m.locker.WithLock(ctx, recoverLockPrefix+conversationID, recoverLockTTL, func(ctx context.Context) error {
		status := m.statuses.JobStatus(ctx, jobID)

		switch status {
		case job.StatusProgress:
			running, err := m.tracker.Alive(ctx, conversationID)
			if err != nil {
				return domainerrors.Wrap(err, domainerrors.KindRecoveryFailure, "could not read heartbeat").WithJob(jobID)
			}
			if running {
				m.log.Info().Str("conversation_id", conversationID).Str("job_id", jobID).Msg("tracker already running")
				result.Status = RecoveryRestarted
				return nil
			}
			if err := m.resumer.Resume(ctx, conversationID, jobID); err != nil {
				return domainerrors.Wrap(err, domainerrors.KindRecoveryFailure, "could not resume tracking").WithJob(jobID)
			}
			m.log.Info().Str("conversation_id", conversationID).Str("job_id", jobID).Msg("orphaned job resumed")
			result.Status = RecoveryRestarted
			return nil

		case job.StatusSuccess:
			if err := m.conversations.FinalizeFromStatus(ctx, conversationID); err != nil {
				m.log.Warn().Err(err).Str("conversation_id", conversationID).Msg("finalize after recovery failed")
			}
			result.Status = RecoveryCompleted
			return nil

		default:
			return domainerrors.New(domainerrors.KindRecoveryFailure, fmt.Sprintf("job status is %s", status)).WithJob(jobID)
		}
	})

	if errors.Is(err, kvstore.ErrLockTaken) {
		m.log.Info().Str("conversation_id", conversationID).Msg("recovery already running elsewhere")
		return RecoveryResult{Status: RecoveryRestarted, JobID: jobID}, nil
	}
	if err != nil {
		return RecoveryResult{}, err
	}
	return result, nil
}
