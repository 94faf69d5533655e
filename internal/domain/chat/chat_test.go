package chat_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jan-server/services/research-api/internal/domain/chat"
	"jan-server/services/research-api/internal/domain/conversation"
	"jan-server/services/research-api/internal/domain/delivery"
	domainerrors "jan-server/services/research-api/internal/domain/errors"
	"jan-server/services/research-api/internal/domain/job"
	"jan-server/services/research-api/internal/domain/liveness"
	"jan-server/services/research-api/internal/domain/ratelimit"
	"jan-server/services/research-api/internal/infrastructure/database/testdb"
	"jan-server/services/research-api/internal/infrastructure/inference"
	"jan-server/services/research-api/internal/infrastructure/kvstore"
	repo "jan-server/services/research-api/internal/infrastructure/repository/conversation"
	"jan-server/services/research-api/internal/utils/platformerrors"
)

type scriptedGateway struct {
	mu      sync.Mutex
	script  []job.Event
	tracked []string
	resumed []string
	// hold, when set, keeps the job inside submit until it is closed.
	hold chan struct{}
}

func (g *scriptedGateway) Track(ctx context.Context, query, _ string, onTick ...inference.Tick) <-chan job.Event {
	g.mu.Lock()
	g.tracked = append(g.tracked, query)
	g.mu.Unlock()
	return g.play(ctx, "J1", onTick)
}

func (g *scriptedGateway) Resume(ctx context.Context, jobID string, onTick ...inference.Tick) <-chan job.Event {
	g.mu.Lock()
	g.resumed = append(g.resumed, jobID)
	g.mu.Unlock()
	return g.play(ctx, jobID, onTick)
}

func (g *scriptedGateway) play(ctx context.Context, jobID string, onTick []inference.Tick) <-chan job.Event {
	events := make(chan job.Event)
	go func() {
		defer close(events)
		if g.hold != nil {
			<-g.hold
		}
		for _, ev := range g.script {
			for _, tick := range onTick {
				tick(ctx, jobID)
			}
			events <- ev
		}
	}()
	return events
}

type stubStatuses struct {
	mu       sync.Mutex
	statuses map[string]job.Status
	results  map[string]string
}

func (s *stubStatuses) Status(_ context.Context, jobID string) (job.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.statuses[jobID]
	if !ok {
		st = job.StatusProgress
	}
	return job.Report{JobID: jobID, Status: st, Result: s.results[jobID]}, nil
}

func (s *stubStatuses) finish(jobID, result string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[jobID] = job.StatusSuccess
	s.results[jobID] = result
}

func (s *stubStatuses) JobStatus(ctx context.Context, jobID string) job.Status {
	r, _ := s.Status(ctx, jobID)
	return r.Status
}

type recordingPublisher struct {
	mu      sync.Mutex
	jobs    []any
	results []chat.JobResult
	err     error
}

func (p *recordingPublisher) Publish(_ context.Context, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	p.jobs = append(p.jobs, payload)
	return "msg-1", nil
}

func (p *recordingPublisher) PublishResult(_ context.Context, _ string, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.results = append(p.results, payload.(chat.JobResult))
	return nil
}

type recordingMailer struct {
	mu   sync.Mutex
	sent []delivery.Message
}

func (m *recordingMailer) Send(_ context.Context, msg delivery.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return nil
}

type fixture struct {
	mr         *miniredis.Miniredis
	gateway    *scriptedGateway
	statuses   *stubStatuses
	convs      *conversation.Service
	limiter    *ratelimit.Limiter
	queue      *delivery.Queue
	mailer     *recordingMailer
	publisher  *recordingPublisher
	dispatcher *delivery.Dispatcher
	runner     *chat.Runner
	service    *chat.Service
}

func newFixture(t *testing.T, script ...job.Event) *fixture {
	t.Helper()

	mr := miniredis.RunT(t)
	store := kvstore.NewFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), zerolog.Nop())
	db := testdb.New(t)

	f := &fixture{
		mr:        mr,
		gateway:   &scriptedGateway{script: script},
		statuses:  &stubStatuses{statuses: map[string]job.Status{}, results: map[string]string{}},
		limiter:   ratelimit.NewLimiter(store, 3, zerolog.Nop()),
		queue:     delivery.NewQueue(store, zerolog.Nop()),
		mailer:    &recordingMailer{},
		publisher: &recordingPublisher{},
	}
	f.convs = conversation.NewService(repo.NewRepository(db), repo.NewMessageRepository(db), f.statuses, zerolog.Nop())
	f.dispatcher = delivery.NewDispatcher(f.queue, f.mailer, zerolog.Nop())
	tracker := liveness.NewTracker(store, 30*time.Second, zerolog.Nop())

	f.runner = chat.NewRunner(f.gateway, f.convs, tracker, f.limiter, f.publisher, f.dispatcher, time.Second, zerolog.Nop())
	f.service = chat.NewService(f.convs, f.limiter, f.runner, f.publisher, f.dispatcher, "gpt4mi", zerolog.Nop())
	return f
}

// answered returns a conversation whose first question was answered by job J1, the way a
// finished runner leaves it.
func (f *fixture) answered(t *testing.T, query, answer string) (*conversation.Conversation, *conversation.Message) {
	t.Helper()
	ctx := context.Background()
	conv := f.conversation(t, query, "user-1")
	root := conv.Messages[0]
	f.recordJob(t, conv.PublicID, "J1", root.ID)
	f.statuses.finish("J1", answer)
	_, err := f.convs.Finalize(ctx, conv.ID, root.ID, answer, nil)
	require.NoError(t, err)
	return conv, root
}

func (f *fixture) recordJob(t *testing.T, publicID, jobID string, root uint) {
	t.Helper()
	_, err := f.convs.UpdateConversation(context.Background(), publicID, conversation.Patch{
		LatestJobID:     &jobID,
		LatestJobRootID: &root,
	})
	require.NoError(t, err)
}

func answerTo(conv *conversation.Conversation, root uint) *conversation.Message {
	for _, m := range conv.Messages {
		if m.Role == conversation.RoleAssistant && m.RootMessageID != nil && *m.RootMessageID == root {
			return m
		}
	}
	return nil
}

func (f *fixture) conversation(t *testing.T, query, userID string) *conversation.Conversation {
	t.Helper()
	conv, err := f.convs.CreateConversation(context.Background(), query, userID)
	require.NoError(t, err)
	return conv
}

func (f *fixture) counter(t *testing.T, userID string) string {
	t.Helper()
	v, err := f.mr.Get(f.limiter.Key(userID))
	if errors.Is(err, miniredis.ErrKeyNotFound) {
		return ""
	}
	require.NoError(t, err)
	return v
}

func (f *fixture) wait(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.runner.Wait(ctx))
}

func drain(stream *chat.Stream) []chat.StreamEvent {
	var out []chat.StreamEvent
	for ev := range stream.Events() {
		out = append(out, ev)
	}
	return out
}

func statusesOf(events []chat.StreamEvent) []string {
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = ev.Status
	}
	return out
}

func messagesWithRole(conv *conversation.Conversation, role conversation.Role) []*conversation.Message {
	var out []*conversation.Message
	for _, m := range conv.Messages {
		if m.Role == role {
			out = append(out, m)
		}
	}
	return out
}

func TestStream_Success(t *testing.T) {
	f := newFixture(t,
		job.Submitted{JobID: "J1"},
		job.Progress{Message: inference.ThinkingMessage, Transient: true},
		job.Progress{Message: "searching"},
		job.Success{Result: "hi there"},
	)
	ctx := context.Background()
	conv := f.conversation(t, "hello", "user-1")

	stream, err := f.service.Stream(ctx, chat.StreamRequest{ConversationID: conv.PublicID, Query: "hello", UserID: "user-1"})
	require.NoError(t, err)
	events := drain(stream)

	assert.Equal(t, []string{"submitted", "progress", "progress", "success"}, statusesOf(events))
	assert.Equal(t, "J1", events[0].JobID)
	assert.Equal(t, "hi there", events[3].Content)

	loaded, err := f.convs.LoadConversation(ctx, conv.PublicID)
	require.NoError(t, err)

	assert.Len(t, messagesWithRole(loaded, conversation.RoleUser), 1, "the matching user message is reused")
	system := messagesWithRole(loaded, conversation.RoleSystem)
	require.Len(t, system, 1)
	assert.Equal(t, "searching", system[0].Content)
	answers := messagesWithRole(loaded, conversation.RoleAssistant)
	require.Len(t, answers, 1)
	assert.Equal(t, "hi there", answers[0].Content)

	require.NotNil(t, loaded.Preview)
	assert.Equal(t, "hi there", *loaded.Preview)
	assert.Equal(t, "J1", loaded.JobID())
	assert.False(t, f.mr.Exists(liveness.Key(conv.PublicID)))
	assert.Equal(t, "1", f.counter(t, "user-1"))

	require.Len(t, f.publisher.results, 1)
	assert.Equal(t, job.StatusSuccess, f.publisher.results[0].Status)
	assert.Equal(t, answers[0].ID, f.publisher.results[0].MessageID)
}

func TestStream_FailureRefundsQuota(t *testing.T) {
	tests := []struct {
		name    string
		final   job.Event
		content string
	}{
		{name: "external error", final: job.Failed{Message: "rate limited"}, content: "rate limited"},
		{name: "timeout", final: job.TimedOut{Elapsed: time.Second}, content: chat.TimeoutMessage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, job.Submitted{JobID: "J1"}, job.Progress{Message: "searching"}, tt.final)
			ctx := context.Background()
			conv := f.conversation(t, "hello", "user-1")

			stream, err := f.service.Stream(ctx, chat.StreamRequest{ConversationID: conv.PublicID, Query: "hello", UserID: "user-1"})
			require.NoError(t, err)
			events := drain(stream)

			last := events[len(events)-1]
			assert.Equal(t, chat.EventError, last.Status)
			assert.Contains(t, last.Content, tt.content)

			loaded, err := f.convs.LoadConversation(ctx, conv.PublicID)
			require.NoError(t, err)
			assert.Empty(t, messagesWithRole(loaded, conversation.RoleAssistant))
			assert.Nil(t, loaded.Preview)
			assert.Equal(t, "0", f.counter(t, "user-1"))
			assert.False(t, f.mr.Exists(liveness.Key(conv.PublicID)))

			require.Len(t, f.publisher.results, 1)
			assert.Equal(t, job.StatusError, f.publisher.results[0].Status)
		})
	}
}

func TestStream_StaffIsNotCounted(t *testing.T) {
	f := newFixture(t, job.Submitted{JobID: "J1"}, job.Failed{Message: "boom"})
	conv := f.conversation(t, "hello", "staff-1")

	stream, err := f.service.Stream(context.Background(), chat.StreamRequest{
		ConversationID: conv.PublicID, Query: "hello", UserID: "staff-1", IsStaff: true,
	})
	require.NoError(t, err)
	drain(stream)

	assert.Empty(t, f.counter(t, "staff-1"))
}

func TestStream_AppendsNewQuery(t *testing.T) {
	f := newFixture(t, job.Submitted{JobID: "J1"}, job.Success{Result: "second answer"})
	ctx := context.Background()
	conv := f.conversation(t, "first question", "user-1")

	stream, err := f.service.Stream(ctx, chat.StreamRequest{ConversationID: conv.PublicID, Query: "second question", UserID: "user-1"})
	require.NoError(t, err)
	drain(stream)

	loaded, err := f.convs.LoadConversation(ctx, conv.PublicID)
	require.NoError(t, err)
	users := messagesWithRole(loaded, conversation.RoleUser)
	require.Len(t, users, 2)
	assert.Equal(t, "second question", users[1].Content)

	answer := loaded.LastMessageWithRole(conversation.RoleAssistant)
	require.NotNil(t, answer)
	assert.Equal(t, users[1].ID, *answer.RootMessageID)
	assert.Equal(t, []string{"second question"}, f.gateway.tracked)
}

func TestStream_Gates(t *testing.T) {
	t.Run("quota exceeded", func(t *testing.T) {
		f := newFixture(t)
		conv := f.conversation(t, "hello", "user-1")
		f.mr.Set(f.limiter.Key("user-1"), "3")

		_, err := f.service.Stream(context.Background(), chat.StreamRequest{ConversationID: conv.PublicID, Query: "hello", UserID: "user-1"})
		assert.ErrorIs(t, err, domainerrors.ErrQuotaExceeded)
		assert.Empty(t, f.gateway.tracked)
	})

	t.Run("job in progress", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		conv := f.conversation(t, "hello", "user-1")
		jobID := "J0"
		_, err := f.convs.UpdateConversation(ctx, conv.PublicID, conversation.Patch{LatestJobID: &jobID})
		require.NoError(t, err)

		_, err = f.service.Stream(ctx, chat.StreamRequest{ConversationID: conv.PublicID, Query: "hello", UserID: "user-1"})
		assert.True(t, domainerrors.IsKind(err, domainerrors.KindConflict))
		assert.Empty(t, f.counter(t, "user-1"))
	})

	t.Run("other user", func(t *testing.T) {
		f := newFixture(t)
		conv := f.conversation(t, "hello", "user-1")

		_, err := f.service.Stream(context.Background(), chat.StreamRequest{ConversationID: conv.PublicID, Query: "hello", UserID: "user-2"})
		assert.True(t, platformerrors.IsErrorType(err, platformerrors.ErrorTypeForbidden))
		assert.Empty(t, f.counter(t, "user-2"))
	})

	t.Run("empty query", func(t *testing.T) {
		f := newFixture(t)
		conv := f.conversation(t, "hello", "user-1")

		_, err := f.service.Stream(context.Background(), chat.StreamRequest{ConversationID: conv.PublicID, Query: "  ", UserID: "user-1"})
		assert.True(t, platformerrors.IsErrorType(err, platformerrors.ErrorTypeValidation))
	})
}

func TestStream_DetachedClientDoesNotStopJob(t *testing.T) {
	f := newFixture(t,
		job.Submitted{JobID: "J1"},
		job.Progress{Message: "one"},
		job.Progress{Message: "two"},
		job.Success{Result: "done"},
	)
	ctx, cancel := context.WithCancel(context.Background())
	conv := f.conversation(t, "hello", "user-1")

	stream, err := f.service.Stream(ctx, chat.StreamRequest{ConversationID: conv.PublicID, Query: "hello", UserID: "user-1"})
	require.NoError(t, err)
	stream.Detach()
	cancel()
	f.wait(t)

	loaded, err := f.convs.LoadConversation(context.Background(), conv.PublicID)
	require.NoError(t, err)
	assert.Len(t, messagesWithRole(loaded, conversation.RoleSystem), 2)
	answer := loaded.LastMessageWithRole(conversation.RoleAssistant)
	require.NotNil(t, answer)
	assert.Equal(t, "done", answer.Content)
}

func TestRunner_ResumeFlushesQueuedEmail(t *testing.T) {
	f := newFixture(t, job.Progress{Message: "still going"}, job.Success{Result: "final **answer**"})
	ctx := context.Background()
	conv := f.conversation(t, "what happened?", "user-1")
	jobID := "J0"
	f.recordJob(t, conv.PublicID, jobID, conv.Messages[0].ID)

	queued, err := f.service.SendToEmail(ctx, conv.PublicID, "a@example.com", "user-1")
	require.NoError(t, err)
	assert.Equal(t, chat.EmailQueued, queued.Status)
	req, err := f.queue.Get(ctx, queued.QueueID)
	require.NoError(t, err)
	assert.Equal(t, delivery.StatusPending, req.Status)

	require.NoError(t, f.runner.Resume(ctx, conv.PublicID, jobID))
	f.wait(t)

	assert.Equal(t, []string{"J0"}, f.gateway.resumed)
	require.Len(t, f.mailer.sent, 1)
	assert.Equal(t, "a@example.com", f.mailer.sent[0].To)
	assert.Equal(t, "what happened?", f.mailer.sent[0].Subject)
	assert.Equal(t, "final **answer**", f.mailer.sent[0].Text)

	req, err = f.queue.Get(ctx, queued.QueueID)
	require.NoError(t, err)
	assert.Equal(t, delivery.StatusSent, req.Status)
	assert.False(t, f.mr.Exists(liveness.Key(conv.PublicID)))
}

func TestSendToEmail(t *testing.T) {
	t.Run("finished job sends now", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		conv := f.conversation(t, "question", "user-1")
		_, err := f.convs.Finalize(ctx, conv.ID, conv.Messages[0].ID, "answer", nil)
		require.NoError(t, err)

		res, err := f.service.SendToEmail(ctx, conv.PublicID, "a@example.com", "user-1")
		require.NoError(t, err)
		assert.Equal(t, chat.EmailSent, res.Status)
		require.Len(t, f.mailer.sent, 1)
		assert.Equal(t, "question", f.mailer.sent[0].Subject)
		assert.Equal(t, "answer", f.mailer.sent[0].Text)
	})

	t.Run("failed job is rejected", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		conv := f.conversation(t, "question", "user-1")
		jobID := "J9"
		f.statuses.statuses[jobID] = job.StatusError
		_, err := f.convs.UpdateConversation(ctx, conv.PublicID, conversation.Patch{LatestJobID: &jobID})
		require.NoError(t, err)

		_, err = f.service.SendToEmail(ctx, conv.PublicID, "a@example.com", "user-1")
		assert.True(t, platformerrors.IsErrorType(err, platformerrors.ErrorTypeValidation))
	})

	t.Run("invalid address", func(t *testing.T) {
		f := newFixture(t)
		conv := f.conversation(t, "question", "user-1")

		_, err := f.service.SendToEmail(context.Background(), conv.PublicID, "not-an-email", "user-1")
		assert.True(t, platformerrors.IsErrorType(err, platformerrors.ErrorTypeValidation))
	})
}

func TestEnqueue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := f.conversation(t, "hello", "user-1")

	res, err := f.service.Enqueue(ctx, chat.StreamRequest{ConversationID: conv.PublicID, Query: "hello", UserID: "user-1"})
	require.NoError(t, err)
	assert.Equal(t, "msg-1", res.MessageID)
	assert.Equal(t, conv.Messages[0].ID, res.RootMessageID)

	require.Len(t, f.publisher.jobs, 1)
	published := f.publisher.jobs[0].(chat.ChatJob)
	assert.Equal(t, "gpt4mi", published.Model)
	assert.Equal(t, conv.PublicID, published.ConversationID)
	assert.Equal(t, "1", f.counter(t, "user-1"))

	f.publisher.err = errors.New("broker down")
	_, err = f.service.Enqueue(ctx, chat.StreamRequest{ConversationID: conv.PublicID, Query: "hello", UserID: "user-1"})
	assert.True(t, platformerrors.IsErrorType(err, platformerrors.ErrorTypeUnavailable))
	assert.Equal(t, "1", f.counter(t, "user-1"))
}

func TestStream_ReloadDuringSubmitKeepsNewAnswer(t *testing.T) {
	f := newFixture(t, job.Submitted{JobID: "J2"}, job.Success{Result: "new answer"})
	ctx := context.Background()
	conv, first := f.answered(t, "first question", "old answer")
	f.gateway.hold = make(chan struct{})

	stream, err := f.service.Stream(ctx, chat.StreamRequest{ConversationID: conv.PublicID, Query: "second question", UserID: "user-1"})
	require.NoError(t, err)

	reloaded, err := f.convs.GetConversation(ctx, conv.PublicID)
	require.NoError(t, err)
	second := reloaded.LastMessage()
	require.Equal(t, conversation.RoleUser, second.Role)
	assert.Equal(t, "second question", second.Content)
	assert.Nil(t, answerTo(reloaded, second.ID), "job J1 answered the second question")

	close(f.gateway.hold)
	events := drain(stream)
	require.NotEmpty(t, events)
	assert.Equal(t, "new answer", events[len(events)-1].Content)

	loaded, err := f.convs.LoadConversation(ctx, conv.PublicID)
	require.NoError(t, err)
	answer := answerTo(loaded, second.ID)
	require.NotNil(t, answer)
	assert.Equal(t, "new answer", answer.Content)
	assert.Equal(t, "old answer", answerTo(loaded, first.ID).Content)
	assert.Equal(t, "J2", loaded.JobID())
	require.NotNil(t, loaded.LatestJobRootID)
	assert.Equal(t, second.ID, *loaded.LatestJobRootID)
}

func TestStream_FailedSubmitOfFollowUp(t *testing.T) {
	f := newFixture(t, job.Failed{Message: "inference unavailable"})
	ctx := context.Background()
	conv, first := f.answered(t, "first question", "old answer")

	for attempt := 1; attempt <= 2; attempt++ {
		stream, err := f.service.Stream(ctx, chat.StreamRequest{ConversationID: conv.PublicID, Query: "second question", UserID: "user-1"})
		require.NoError(t, err)
		events := drain(stream)
		assert.Equal(t, chat.EventError, events[len(events)-1].Status)

		loaded, err := f.convs.GetConversation(ctx, conv.PublicID)
		require.NoError(t, err)
		users := messagesWithRole(loaded, conversation.RoleUser)
		require.Len(t, users, 2, "a retried question is not stored twice")
		assert.Nil(t, answerTo(loaded, users[1].ID))
		assert.Len(t, messagesWithRole(loaded, conversation.RoleAssistant), 1)
		assert.Equal(t, "J1", loaded.JobID())
		assert.Equal(t, first.ID, *loaded.LatestJobRootID)
		assert.Equal(t, "0", f.counter(t, "user-1"))
	}
	assert.Equal(t, []string{"second question", "second question"}, f.gateway.tracked)
}

func TestRunner_ResumeOnlyTracksLatestJob(t *testing.T) {
	f := newFixture(t, job.Success{Result: "second answer"})
	ctx := context.Background()
	conv, first := f.answered(t, "first question", "old answer")

	second, err := f.convs.AddMessage(ctx, conv.ID, "second question", conversation.RoleUser, nil, nil)
	require.NoError(t, err)
	f.recordJob(t, conv.PublicID, "J2", second.ID)

	err = f.runner.Resume(ctx, conv.PublicID, "J1")
	require.Error(t, err)
	assert.Empty(t, f.gateway.resumed)
	assert.False(t, f.mr.Exists(liveness.Key(conv.PublicID)))

	require.NoError(t, f.runner.Resume(ctx, conv.PublicID, "J2"))
	f.wait(t)

	assert.Equal(t, []string{"J2"}, f.gateway.resumed)
	loaded, err := f.convs.LoadConversation(ctx, conv.PublicID)
	require.NoError(t, err)
	answer := answerTo(loaded, second.ID)
	require.NotNil(t, answer)
	assert.Equal(t, "second answer", answer.Content)
	assert.Equal(t, "old answer", answerTo(loaded, first.ID).Content)
}

// finishingConversations reports the job as still running for the first stale status
// reads, as if it finished right after they were made.
type finishingConversations struct {
	*conversation.Service
	mu    sync.Mutex
	stale int
}

func (c *finishingConversations) Status(ctx context.Context, publicID string) (job.Status, error) {
	c.mu.Lock()
	if c.stale > 0 {
		c.stale--
		c.mu.Unlock()
		return job.StatusProgress, nil
	}
	c.mu.Unlock()
	return c.Service.Status(ctx, publicID)
}

func TestSendToEmail_JobFinishesWhileQueueing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv, _ := f.answered(t, "question", "answer")
	convs := &finishingConversations{Service: f.convs, stale: 1}
	service := chat.NewService(convs, f.limiter, f.runner, f.publisher, f.dispatcher, "gpt4mi", zerolog.Nop())

	res, err := service.SendToEmail(ctx, conv.PublicID, "a@example.com", "user-1")
	require.NoError(t, err)
	assert.Equal(t, chat.EmailQueued, res.Status)

	require.Len(t, f.mailer.sent, 1)
	assert.Equal(t, "a@example.com", f.mailer.sent[0].To)
	assert.Equal(t, "question", f.mailer.sent[0].Subject)
	assert.Equal(t, "answer", f.mailer.sent[0].Text)

	req, err := f.queue.Get(ctx, res.QueueID)
	require.NoError(t, err)
	assert.Equal(t, delivery.StatusSent, req.Status)
}

func TestSendToEmail_RunningJobStaysQueued(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := f.conversation(t, "question", "user-1")
	f.recordJob(t, conv.PublicID, "J1", conv.Messages[0].ID)

	res, err := f.service.SendToEmail(ctx, conv.PublicID, "a@example.com", "user-1")
	require.NoError(t, err)
	assert.Equal(t, chat.EmailQueued, res.Status)
	assert.Empty(t, f.mailer.sent)

	req, err := f.queue.Get(ctx, res.QueueID)
	require.NoError(t, err)
	assert.Equal(t, delivery.StatusPending, req.Status)
}
