package conversation

import (
	"context"
	"time"
)

type freshReadsKey struct{}

// WithFreshReads marks ctx so repositories read from the primary database instead of a
// replica. Reads that must observe a write made moments before use it.
func WithFreshReads(ctx context.Context) context.Context {
	return context.WithValue(ctx, freshReadsKey{}, true)
}

// FreshReads reports whether ctx was marked by WithFreshReads.
func FreshReads(ctx context.Context) bool {
	fresh, _ := ctx.Value(freshReadsKey{}).(bool)
	return fresh
}

// Repository persists conversation metadata.
type Repository interface {
	Create(ctx context.Context, conversation *Conversation) error
	FindByPublicID(ctx context.Context, publicID string) (*Conversation, error)
	FindByID(ctx context.Context, id uint) (*Conversation, error)
	ListByUser(ctx context.Context, userID string) ([]*Conversation, error)
	// Update writes the title, latest job id and its root message when set. The preview is written only while it is still empty.
	Update(ctx context.Context, id uint, patch Patch) error
	Delete(ctx context.Context, id uint) error
	// ListAwaitingAnswer returns conversations updated since the given time whose newest
	// message is the user message their latest job was submitted for.
	ListAwaitingAnswer(ctx context.Context, since time.Time) ([]*Conversation, error)
}

// MessageRepository persists conversation messages and their feedback.
type MessageRepository interface {
	Create(ctx context.Context, message *Message) error
	// CreateFinal inserts an assistant or history message at most once per root. When one
	// already exists it is returned with created=false.
	CreateFinal(ctx context.Context, message *Message) (stored *Message, created bool, err error)
	FindByID(ctx context.Context, id uint) (*Message, error)
	ListByConversation(ctx context.Context, conversationID uint) ([]*Message, error)
	ListByRoot(ctx context.Context, rootMessageID uint, role Role) ([]*Message, error)

	UpsertFeedback(ctx context.Context, feedback *Feedback) error
	FindFeedback(ctx context.Context, messageID uint) (*Feedback, error)
}
