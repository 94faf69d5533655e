package conversation_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jan-server/services/research-api/internal/domain/conversation"
	"jan-server/services/research-api/internal/domain/job"
	"jan-server/services/research-api/internal/infrastructure/database/testdb"
	repo "jan-server/services/research-api/internal/infrastructure/repository/conversation"
	"jan-server/services/research-api/internal/utils/platformerrors"
)

type stubStatusSource struct {
	reports map[string]job.Report
	calls   int
}

func (s *stubStatusSource) Status(_ context.Context, jobID string) (job.Report, error) {
	s.calls++
	if r, ok := s.reports[jobID]; ok {
		return r, nil
	}
	return job.Report{JobID: jobID, Status: job.StatusPending}, nil
}

func (s *stubStatusSource) JobStatus(ctx context.Context, jobID string) job.Status {
	r, _ := s.Status(ctx, jobID)
	return r.Status
}

func newService(t *testing.T) (*conversation.Service, *stubStatusSource) {
	t.Helper()
	db := testdb.New(t)
	statuses := &stubStatusSource{reports: map[string]job.Report{}}
	svc := conversation.NewService(repo.NewRepository(db), repo.NewMessageRepository(db), statuses, zerolog.Nop())
	return svc, statuses
}

// setJob records jobID as submitted for the user message root, as the job runner does.
func setJob(t *testing.T, svc *conversation.Service, publicID, jobID string, root uint) {
	t.Helper()
	_, err := svc.UpdateConversation(context.Background(), publicID, conversation.Patch{
		LatestJobID:     &jobID,
		LatestJobRootID: &root,
	})
	require.NoError(t, err)
}

func TestCreateConversation(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	conv, err := svc.CreateConversation(ctx, "  What is the tallest mountain?  ", "user-1")
	require.NoError(t, err)
	assert.Regexp(t, `^conv_[0-9a-f]{32}$`, conv.PublicID)
	assert.Equal(t, "What is the tallest mountain?", conv.Title)
	require.Len(t, conv.Messages, 1)
	assert.Equal(t, conversation.RoleUser, conv.Messages[0].Role)

	_, err = svc.CreateConversation(ctx, "   ", "user-1")
	assert.True(t, platformerrors.IsErrorType(err, platformerrors.ErrorTypeValidation))
}

func TestGetConversation_FinalizesFinishedJob(t *testing.T) {
	svc, statuses := newService(t)
	ctx := context.Background()

	conv, err := svc.CreateConversation(ctx, "question", "user-1")
	require.NoError(t, err)
	setJob(t, svc, conv.PublicID, "job-1", conv.Messages[0].ID)
	statuses.reports["job-1"] = job.Report{
		JobID:   "job-1",
		Status:  job.StatusSuccess,
		Result:  "the answer",
		History: []string{"looked up", "compared"},
	}

	loaded, err := svc.GetConversation(ctx, conv.PublicID)
	require.NoError(t, err)
	require.Len(t, loaded.Messages, 3)
	answer := loaded.LastMessageWithRole(conversation.RoleAssistant)
	require.NotNil(t, answer)
	assert.Equal(t, "the answer", answer.Content)
	require.NotNil(t, answer.RootMessageID)
	assert.Equal(t, conv.Messages[0].ID, *answer.RootMessageID)
	history := loaded.LastMessageWithRole(conversation.RoleHistory)
	require.NotNil(t, history)
	assert.Equal(t, "looked up\ncompared", history.Content)
	require.NotNil(t, loaded.Preview)
	assert.Equal(t, "the answer", *loaded.Preview)

	again, err := svc.GetConversation(ctx, conv.PublicID)
	require.NoError(t, err)
	assert.Len(t, again.Messages, 3)
}

func TestGetConversation_LeavesRunningJobAlone(t *testing.T) {
	tests := []struct {
		name   string
		report job.Report
	}{
		{name: "pending", report: job.Report{Status: job.StatusPending}},
		{name: "error", report: job.Report{Status: job.StatusError, Error: "boom"}},
		{name: "empty result", report: job.Report{Status: job.StatusSuccess, Result: "  "}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, statuses := newService(t)
			ctx := context.Background()

			conv, err := svc.CreateConversation(ctx, "question", "user-1")
			require.NoError(t, err)
			setJob(t, svc, conv.PublicID, "job-1", conv.Messages[0].ID)
			statuses.reports["job-1"] = tt.report

			loaded, err := svc.GetConversation(ctx, conv.PublicID)
			require.NoError(t, err)
			assert.Len(t, loaded.Messages, 1)
			assert.Nil(t, loaded.Preview)
		})
	}
}

func TestGetConversation_NoJobSkipsStatusLookup(t *testing.T) {
	svc, statuses := newService(t)
	ctx := context.Background()

	conv, err := svc.CreateConversation(ctx, "question", "user-1")
	require.NoError(t, err)

	_, err = svc.GetConversation(ctx, conv.PublicID)
	require.NoError(t, err)
	assert.Zero(t, statuses.calls)
}

// answeredConversation returns a conversation whose first question was answered by job-1.
func answeredConversation(t *testing.T, svc *conversation.Service, statuses *stubStatusSource) *conversation.Conversation {
	t.Helper()
	ctx := context.Background()

	conv, err := svc.CreateConversation(ctx, "first question", "user-1")
	require.NoError(t, err)
	setJob(t, svc, conv.PublicID, "job-1", conv.Messages[0].ID)
	statuses.reports["job-1"] = job.Report{JobID: "job-1", Status: job.StatusSuccess, Result: "answer to the first question"}

	loaded, err := svc.GetConversation(ctx, conv.PublicID)
	require.NoError(t, err)
	require.NotNil(t, loaded.LastMessageWithRole(conversation.RoleAssistant))
	return loaded
}

func TestGetConversation_FollowUpQuestionIsNotAnsweredByPreviousJob(t *testing.T) {
	tests := []struct {
		name string
		// after runs once the second question is stored.
		after func(t *testing.T, svc *conversation.Service, conv *conversation.Conversation)
	}{
		{
			name:  "reload while the new job is being submitted",
			after: func(*testing.T, *conversation.Service, *conversation.Conversation) {},
		},
		{
			name: "recovery finalize while the new job is being submitted",
			after: func(t *testing.T, svc *conversation.Service, conv *conversation.Conversation) {
				require.NoError(t, svc.FinalizeFromStatus(context.Background(), conv.PublicID))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, statuses := newService(t)
			ctx := context.Background()
			conv := answeredConversation(t, svc, statuses)

			second, err := svc.AddMessage(ctx, conv.ID, "second question", conversation.RoleUser, nil, nil)
			require.NoError(t, err)
			tt.after(t, svc, conv)

			loaded, err := svc.GetConversation(ctx, conv.PublicID)
			require.NoError(t, err)
			assert.Equal(t, second.ID, loaded.LastMessage().ID, "second question answered with stale job-1 result")
			answers, err := svc.GetFinalResponseMessage(ctx, conv.PublicID)
			require.NoError(t, err)
			assert.Equal(t, conv.Messages[0].ID, *answers.RootMessageID)

			// Once job-2 is recorded for the second question its own result is stored.
			setJob(t, svc, conv.PublicID, "job-2", second.ID)
			statuses.reports["job-2"] = job.Report{JobID: "job-2", Status: job.StatusSuccess, Result: "answer to the second question"}

			loaded, err = svc.GetConversation(ctx, conv.PublicID)
			require.NoError(t, err)
			answer := loaded.LastMessageWithRole(conversation.RoleAssistant)
			require.NotNil(t, answer)
			assert.Equal(t, "answer to the second question", answer.Content)
			assert.Equal(t, second.ID, *answer.RootMessageID)
		})
	}
}

func TestGetConversation_FailedSubmitLeavesFollowUpUnanswered(t *testing.T) {
	svc, statuses := newService(t)
	ctx := context.Background()
	conv := answeredConversation(t, svc, statuses)

	// The submit for the second question failed, so job-1 is still the latest job.
	second, err := svc.AddMessage(ctx, conv.ID, "second question", conversation.RoleUser, nil, nil)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		loaded, err := svc.GetConversation(ctx, conv.PublicID)
		require.NoError(t, err)
		assert.Equal(t, second.ID, loaded.LastMessage().ID)
		assert.Equal(t, "job-1", loaded.JobID())
	}

	status, err := svc.Status(ctx, conv.PublicID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusSuccess, status, "the question can be submitted again")

	awaiting, err := svc.ListAwaitingAnswer(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, awaiting)
}

func TestGetConversation_JobWithoutRecordedQuestionIsNotFinalized(t *testing.T) {
	svc, statuses := newService(t)
	ctx := context.Background()

	conv, err := svc.CreateConversation(ctx, "question", "user-1")
	require.NoError(t, err)
	jobID := "job-1"
	_, err = svc.UpdateConversation(ctx, conv.PublicID, conversation.Patch{LatestJobID: &jobID})
	require.NoError(t, err)
	statuses.reports[jobID] = job.Report{JobID: jobID, Status: job.StatusSuccess, Result: "answer"}

	loaded, err := svc.GetConversation(ctx, conv.PublicID)
	require.NoError(t, err)
	assert.Len(t, loaded.Messages, 1)
}

func TestFinalize_IsIdempotent(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	conv, err := svc.CreateConversation(ctx, "question", "user-1")
	require.NoError(t, err)
	root := conv.Messages[0].ID

	first, err := svc.Finalize(ctx, conv.ID, root, "first answer", nil)
	require.NoError(t, err)
	second, err := svc.Finalize(ctx, conv.ID, root, "second answer", nil)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "first answer", second.Content)

	loaded, err := svc.LoadConversation(ctx, conv.PublicID)
	require.NoError(t, err)
	assert.Len(t, loaded.Messages, 2)
}

func TestGetOwnedConversation_Forbidden(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	conv, err := svc.CreateConversation(ctx, "question", "user-1")
	require.NoError(t, err)

	_, err = svc.GetOwnedConversation(ctx, conv.PublicID, "user-2")
	assert.True(t, platformerrors.IsErrorType(err, platformerrors.ErrorTypeForbidden))

	owned, err := svc.GetOwnedConversation(ctx, conv.PublicID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, conv.PublicID, owned.PublicID)
}

func TestProgressAndTasks(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	conv, err := svc.CreateConversation(ctx, "question", "user-1")
	require.NoError(t, err)
	root := conv.Messages[0].ID

	for _, step := range []string{"[Search] first", "[Read] second\n[Read] third", ""} {
		_, err := svc.AddMessage(ctx, conv.ID, step, conversation.RoleSystem, &root, nil)
		require.NoError(t, err)
	}

	tasks, err := svc.GetTasks(ctx, root)
	require.NoError(t, err)
	assert.Equal(t, []string{"[Search] first", "[Read] second", "[Read] third"}, tasks)

	progress, err := svc.GetProgressMessages(ctx, conv.PublicID, 1)
	require.NoError(t, err)
	require.Len(t, progress, 2)
	assert.Equal(t, "[Read] second\n[Read] third", progress[0].Content)

	progress, err = svc.GetProgressMessages(ctx, conv.PublicID, 10)
	require.NoError(t, err)
	assert.Empty(t, progress)

	tasks, err = svc.GetTasks(ctx, root+100)
	require.NoError(t, err)
	assert.Equal(t, []string{}, tasks)
}

func TestAddMessage_RejectsUnknownRole(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	conv, err := svc.CreateConversation(ctx, "question", "user-1")
	require.NoError(t, err)

	_, err = svc.AddMessage(ctx, conv.ID, "hi", conversation.Role("tool"), nil, nil)
	assert.True(t, platformerrors.IsErrorType(err, platformerrors.ErrorTypeValidation))
}

func TestSubmitFeedback(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	conv, err := svc.CreateConversation(ctx, "question", "user-1")
	require.NoError(t, err)
	root := conv.Messages[0].ID
	answer, err := svc.Finalize(ctx, conv.ID, root, "answer", nil)
	require.NoError(t, err)

	_, err = svc.SubmitFeedback(ctx, root, "user-1", true, nil)
	assert.True(t, platformerrors.IsErrorType(err, platformerrors.ErrorTypeValidation))

	_, err = svc.SubmitFeedback(ctx, answer.ID, "user-1", true, nil)
	require.NoError(t, err)
	text := "missed a source"
	updated, err := svc.SubmitFeedback(ctx, answer.ID, "user-1", false, &text)
	require.NoError(t, err)
	assert.False(t, updated.IsLiked)

	stored, err := svc.GetFeedback(ctx, answer.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsLiked)
	assert.Equal(t, "missed a source", *stored.Feedback)
}

func TestStatus(t *testing.T) {
	svc, statuses := newService(t)
	ctx := context.Background()

	conv, err := svc.CreateConversation(ctx, "question", "user-1")
	require.NoError(t, err)

	status, err := svc.Status(ctx, conv.PublicID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusSuccess, status)

	setJob(t, svc, conv.PublicID, "job-1", conv.Messages[0].ID)
	statuses.reports["job-1"] = job.Report{Status: job.StatusProgress}
	status, err = svc.Status(ctx, conv.PublicID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusProgress, status)

	_, err = svc.Status(ctx, "conv_missing")
	assert.True(t, platformerrors.IsErrorType(err, platformerrors.ErrorTypeNotFound))
}

func TestDeleteConversation(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	conv, err := svc.CreateConversation(ctx, "question", "user-1")
	require.NoError(t, err)
	require.NoError(t, svc.DeleteConversation(ctx, conv.PublicID))

	list, err := svc.ListConversations(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestOwnedMessage(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	conv, err := svc.CreateConversation(ctx, "question", "user-1")
	require.NoError(t, err)
	msgID := conv.Messages[0].ID

	msg, err := svc.OwnedMessage(ctx, msgID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "question", msg.Content)

	_, err = svc.OwnedMessage(ctx, msgID, "user-2")
	assert.True(t, platformerrors.IsErrorType(err, platformerrors.ErrorTypeForbidden))

	_, err = svc.OwnedMessage(ctx, msgID+100, "user-1")
	assert.True(t, platformerrors.IsErrorType(err, platformerrors.ErrorTypeNotFound))
}
