package conversation

import (
	"strings"
	"time"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	// RoleSystem messages hold persisted progress steps.
	RoleSystem Role = "system"
	// RoleHistory holds the analysis trail of a final answer.
	RoleHistory Role = "history"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem, RoleHistory:
		return true
	}
	return false
}

const (
	maxTitleLength   = 255
	maxPreviewLength = 100
)

// Conversation is a chat thread owned by one user. LatestJobRootID is the user message the
// latest job was submitted for.
type Conversation struct {
	ID              uint       `json:"-"`
	PublicID        string     `json:"id"`
	UserID          string     `json:"user_id"`
	Title           string     `json:"title"`
	LatestJobID     *string    `json:"latest_job_id,omitempty"`
	LatestJobRootID *uint      `json:"-"`
	Preview         *string    `json:"preview,omitempty"`
	Messages        []*Message `json:"messages,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// JobID returns the latest job id or "".
func (c *Conversation) JobID() string {
	if c.LatestJobID == nil {
		return ""
	}
	return *c.LatestJobID
}

// JobRoot returns the loaded user message the latest job was submitted for, or nil.
func (c *Conversation) JobRoot() *Message {
	if c.LatestJobRootID == nil {
		return nil
	}
	for _, m := range c.Messages {
		if m.ID == *c.LatestJobRootID && m.Role == RoleUser {
			return m
		}
	}
	return nil
}

// AwaitingJobAnswer returns the newest message when it is an unanswered user message that the
// latest job belongs to. A user message appended after the job was submitted yields nil.
func (c *Conversation) AwaitingJobAnswer() *Message {
	last := c.LastMessage()
	root := c.JobRoot()
	if last == nil || root == nil || last.ID != root.ID {
		return nil
	}
	return last
}

// LastMessage returns the newest loaded message, or nil.
func (c *Conversation) LastMessage() *Message {
	if len(c.Messages) == 0 {
		return nil
	}
	return c.Messages[len(c.Messages)-1]
}

// LastMessageWithRole returns the newest loaded message with the given role, or nil.
func (c *Conversation) LastMessageWithRole(role Role) *Message {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].Role == role {
			return c.Messages[i]
		}
	}
	return nil
}

// OwnedBy reports whether userID owns the conversation.
func (c *Conversation) OwnedBy(userID string) bool {
	return c.UserID == userID
}

// Message is one entry of a conversation. Outputs point at the user message that triggered them.
type Message struct {
	ID             uint           `json:"id"`
	ConversationID uint           `json:"-"`
	Role           Role           `json:"role"`
	Content        string         `json:"content"`
	RootMessageID  *uint          `json:"root_message_id,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Feedback is a like/dislike on an assistant message.
type Feedback struct {
	ID        uint      `json:"id"`
	MessageID uint      `json:"message_id"`
	UserID    string    `json:"user_id"`
	IsLiked   bool      `json:"is_liked"`
	Feedback  *string   `json:"feedback,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Patch holds optional conversation updates.
type Patch struct {
	Title           *string
	LatestJobID     *string
	LatestJobRootID *uint
	Preview         *string
}

// TruncateTitle shortens a first message so it fits the title column.
func TruncateTitle(s string) string {
	return truncateRunes(strings.TrimSpace(s), maxTitleLength)
}

// PreviewOf returns the preview stored for a final answer.
func PreviewOf(result string) string {
	return truncateRunes(result, maxPreviewLength)
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
