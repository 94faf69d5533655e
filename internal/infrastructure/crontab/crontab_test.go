package crontab_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jan-server/services/research-api/internal/domain/conversation"
	"jan-server/services/research-api/internal/domain/job"
	"jan-server/services/research-api/internal/domain/liveness"
	"jan-server/services/research-api/internal/infrastructure/crontab"
)

type fixedCandidates struct {
	convs []*conversation.Conversation
	since time.Time
	err   error
}

func (f *fixedCandidates) ListAwaitingAnswer(_ context.Context, since time.Time) ([]*conversation.Conversation, error) {
	f.since = since
	return f.convs, f.err
}

type fakeRecovery struct {
	health    map[string]liveness.Health
	failing   map[string]bool
	recovered []string
}

func (f *fakeRecovery) CheckHealth(_ context.Context, id string) (liveness.Health, error) {
	h, ok := f.health[id]
	if !ok {
		return liveness.Health{}, errors.New("not found")
	}
	return h, nil
}

func (f *fakeRecovery) Recover(_ context.Context, id string) (liveness.RecoveryResult, error) {
	if f.failing[id] {
		return liveness.RecoveryResult{}, errors.New("job status is error")
	}
	f.recovered = append(f.recovered, id)
	return liveness.RecoveryResult{Status: liveness.RecoveryRestarted}, nil
}

func TestSweep(t *testing.T) {
	candidates := &fixedCandidates{convs: []*conversation.Conversation{
		{PublicID: "conv_orphan"},
		{PublicID: "conv_running"},
		{PublicID: "conv_broken"},
		{PublicID: "conv_missing"},
	}}
	recovery := &fakeRecovery{
		health: map[string]liveness.Health{
			"conv_orphan":  {AIStatus: job.StatusProgress, NeedsRecovery: true},
			"conv_running": {AIStatus: job.StatusProgress, IsBackgroundRunning: true},
			"conv_broken":  {AIStatus: job.StatusConnectionError, NeedsRecovery: true},
		},
		failing: map[string]bool{"conv_broken": true},
	}

	c := crontab.NewCrontab(candidates, recovery, 10*time.Minute, 0, zerolog.Nop())
	before := time.Now()
	result := c.Sweep(context.Background())

	assert.Equal(t, crontab.SweepResult{Checked: 4, Recovered: 1, Failed: 2}, result)
	assert.Equal(t, []string{"conv_orphan"}, recovery.recovered)
	assert.WithinDuration(t, before.Add(-10*time.Minute), candidates.since, time.Second)
}

func TestSweep_ListFailure(t *testing.T) {
	candidates := &fixedCandidates{err: errors.New("db down")}
	c := crontab.NewCrontab(candidates, &fakeRecovery{}, time.Minute, 1, zerolog.Nop())

	assert.Equal(t, crontab.SweepResult{}, c.Sweep(context.Background()))
}

func TestRun_StopsWithContext(t *testing.T) {
	c := crontab.NewCrontab(&fixedCandidates{}, &fakeRecovery{}, time.Minute, 1, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("crontab did not stop")
	}
}
