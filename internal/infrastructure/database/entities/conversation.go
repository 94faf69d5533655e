package entities

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"jan-server/services/research-api/internal/domain/conversation"
)

// Conversation is the persisted chat thread.
type Conversation struct {
	ID                     uint           `gorm:"primaryKey"`
	PublicID               string         `gorm:"type:varchar(64);uniqueIndex;not null"`
	UserID                 string         `gorm:"type:varchar(64);index;not null"`
	Title                  string         `gorm:"type:text"`
	LatestJobID            *string        `gorm:"type:varchar(128)"`
	LatestJobRootMessageID *uint
	Preview                *string        `gorm:"type:varchar(100)"`
	CreatedAt              time.Time      `gorm:"autoCreateTime"`
	UpdatedAt              time.Time      `gorm:"autoUpdateTime;index"`
	DeletedAt              gorm.DeletedAt `gorm:"index"`
}

func (Conversation) TableName() string {
	return "conversation"
}

// ConversationMessage stores each message. At most one assistant and one history message exist per root.
type ConversationMessage struct {
	ID             uint           `gorm:"primaryKey"`
	ConversationID uint           `gorm:"index;not null"`
	Role           string         `gorm:"type:varchar(16);not null;uniqueIndex:idx_message_root_final,where:role <> 'user' AND role <> 'system'"`
	Content        string         `gorm:"type:text"`
	RootMessageID  *uint          `gorm:"index;uniqueIndex:idx_message_root_final,where:role <> 'user' AND role <> 'system'"`
	Metadata       datatypes.JSON
	CreatedAt      time.Time `gorm:"autoCreateTime"`
}

func (ConversationMessage) TableName() string {
	return "conversation_message"
}

// MessageFeedback is a single like/dislike per message.
type MessageFeedback struct {
	ID        uint      `gorm:"primaryKey"`
	MessageID uint      `gorm:"uniqueIndex;not null"`
	UserID    string    `gorm:"type:varchar(64);not null"`
	IsLiked   bool      `gorm:"not null"`
	Feedback  *string   `gorm:"type:text"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (MessageFeedback) TableName() string {
	return "message_feedback"
}

// NewSchemaConversation converts a domain conversation.
func NewSchemaConversation(c *conversation.Conversation) *Conversation {
	return &Conversation{
		ID:                     c.ID,
		PublicID:               c.PublicID,
		UserID:                 c.UserID,
		Title:                  c.Title,
		LatestJobID:            c.LatestJobID,
		LatestJobRootMessageID: c.LatestJobRootID,
		Preview:                c.Preview,
	}
}

// EtoD converts to the domain model.
func (e *Conversation) EtoD() *conversation.Conversation {
	return &conversation.Conversation{
		ID:              e.ID,
		PublicID:        e.PublicID,
		UserID:          e.UserID,
		Title:           e.Title,
		LatestJobID:     e.LatestJobID,
		LatestJobRootID: e.LatestJobRootMessageID,
		Preview:         e.Preview,
		CreatedAt:       e.CreatedAt,
		UpdatedAt:       e.UpdatedAt,
	}
}

// NewSchemaMessage converts a domain message.
func NewSchemaMessage(m *conversation.Message) (*ConversationMessage, error) {
	var metadata datatypes.JSON
	if len(m.Metadata) > 0 {
		raw, err := json.Marshal(m.Metadata)
		if err != nil {
			return nil, err
		}
		metadata = datatypes.JSON(raw)
	}
	return &ConversationMessage{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Role:           string(m.Role),
		Content:        m.Content,
		RootMessageID:  m.RootMessageID,
		Metadata:       metadata,
	}, nil
}

// EtoD converts to the domain model.
func (e *ConversationMessage) EtoD() *conversation.Message {
	msg := &conversation.Message{
		ID:             e.ID,
		ConversationID: e.ConversationID,
		Role:           conversation.Role(e.Role),
		Content:        e.Content,
		RootMessageID:  e.RootMessageID,
		CreatedAt:      e.CreatedAt,
	}
	if len(e.Metadata) > 0 {
		var metadata map[string]any
		if err := json.Unmarshal(e.Metadata, &metadata); err == nil {
			msg.Metadata = metadata
		}
	}
	return msg
}

// EtoD converts to the domain model.
func (e *MessageFeedback) EtoD() *conversation.Feedback {
	return &conversation.Feedback{
		ID:        e.ID,
		MessageID: e.MessageID,
		UserID:    e.UserID,
		IsLiked:   e.IsLiked,
		Feedback:  e.Feedback,
		CreatedAt: e.CreatedAt,
		UpdatedAt: e.UpdatedAt,
	}
}
