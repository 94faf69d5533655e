package conversation

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/plugin/dbresolver"

	domain "jan-server/services/research-api/internal/domain/conversation"
	"jan-server/services/research-api/internal/infrastructure/database/entities"
	"jan-server/services/research-api/internal/utils/platformerrors"
)

// MessageRepository persists conversation messages and feedback.
type MessageRepository struct {
	db *gorm.DB
}

// NewMessageRepository builds a message repository.
func NewMessageRepository(db *gorm.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

// Create inserts a message.
func (r *MessageRepository) Create(ctx context.Context, msg *domain.Message) error {
	entity, err := entities.NewSchemaMessage(msg)
	if err != nil {
		return platformerrors.NewError(ctx, platformerrors.LayerRepository, platformerrors.ErrorTypeValidation,
			"invalid message metadata", err, "")
	}

	if err := r.db.WithContext(ctx).Create(entity).Error; err != nil {
		return platformerrors.NewError(
			ctx,
			platformerrors.LayerRepository,
			platformerrors.ErrorTypeDatabaseError,
			"failed to create message",
			err,
			"7e2b9c41-5d3a-4c8f-b0e6-1a4f9d2c7b01",
		)
	}

	msg.ID = entity.ID
	msg.CreatedAt = entity.CreatedAt
	return nil
}

// CreateFinal inserts an assistant or history message unless the root already has one.
// A concurrent insert losing on the unique index resolves to the winner's row.
func (r *MessageRepository) CreateFinal(ctx context.Context, msg *domain.Message) (*domain.Message, bool, error) {
	if msg.RootMessageID == nil {
		return nil, false, platformerrors.NewError(ctx, platformerrors.LayerRepository, platformerrors.ErrorTypeValidation,
			"final message requires a root message", nil, "")
	}

	if existing, err := r.findFinal(ctx, *msg.RootMessageID, msg.Role); err == nil {
		return existing, false, nil
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, r.dbError(ctx, "failed to look up final message", err)
	}

	createErr := r.Create(ctx, msg)
	if createErr == nil {
		return msg, true, nil
	}

	existing, err := r.findFinal(ctx, *msg.RootMessageID, msg.Role)
	if err == nil {
		return existing, false, nil
	}
	return nil, false, createErr
}

// findFinal always reads the primary: its answer decides whether CreateFinal inserts.
func (r *MessageRepository) findFinal(ctx context.Context, rootID uint, role domain.Role) (*domain.Message, error) {
	var entity entities.ConversationMessage
	if err := r.db.WithContext(ctx).Clauses(dbresolver.Write).
		Where("root_message_id = ? AND role = ?", rootID, string(role)).
		Order("id ASC").
		First(&entity).Error; err != nil {
		return nil, err
	}
	return entity.EtoD(), nil
}

// FindByID fetches a message.
func (r *MessageRepository) FindByID(ctx context.Context, id uint) (*domain.Message, error) {
	var entity entities.ConversationMessage
	if err := conn(ctx, r.db).First(&entity, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, platformerrors.NewError(
				ctx,
				platformerrors.LayerRepository,
				platformerrors.ErrorTypeNotFound,
				fmt.Sprintf("message not found: %d", id),
				nil,
				"7e2b9c41-5d3a-4c8f-b0e6-1a4f9d2c7b02",
			)
		}
		return nil, r.dbError(ctx, "failed to fetch message", err)
	}
	return entity.EtoD(), nil
}

// ListByConversation returns all messages of a conversation in insertion order.
func (r *MessageRepository) ListByConversation(ctx context.Context, conversationID uint) ([]*domain.Message, error) {
	var rows []entities.ConversationMessage
	if err := conn(ctx, r.db).
		Where("conversation_id = ?", conversationID).
		Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, r.dbError(ctx, "failed to list messages", err)
	}
	return toDomainMessages(rows), nil
}

// ListByRoot returns the messages with role produced for a root message, oldest first.
func (r *MessageRepository) ListByRoot(ctx context.Context, rootMessageID uint, role domain.Role) ([]*domain.Message, error) {
	var rows []entities.ConversationMessage
	if err := conn(ctx, r.db).
		Where("root_message_id = ? AND role = ?", rootMessageID, string(role)).
		Order("created_at ASC").
		Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, r.dbError(ctx, "failed to list messages by root", err)
	}
	return toDomainMessages(rows), nil
}

// UpsertFeedback creates the feedback of a message or replaces its verdict and text.
func (r *MessageRepository) UpsertFeedback(ctx context.Context, feedback *domain.Feedback) error {
	entity := &entities.MessageFeedback{
		MessageID: feedback.MessageID,
		UserID:    feedback.UserID,
		IsLiked:   feedback.IsLiked,
		Feedback:  feedback.Feedback,
	}

	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "message_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"is_liked", "feedback", "updated_at"}),
	}).Create(entity).Error; err != nil {
		return r.dbError(ctx, "failed to save feedback", err)
	}

	stored, err := r.FindFeedback(domain.WithFreshReads(ctx), feedback.MessageID)
	if err != nil {
		return err
	}
	*feedback = *stored
	return nil
}

// FindFeedback returns the feedback of a message.
func (r *MessageRepository) FindFeedback(ctx context.Context, messageID uint) (*domain.Feedback, error) {
	var entity entities.MessageFeedback
	if err := conn(ctx, r.db).Where("message_id = ?", messageID).First(&entity).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, platformerrors.NewError(
				ctx,
				platformerrors.LayerRepository,
				platformerrors.ErrorTypeNotFound,
				fmt.Sprintf("feedback not found for message %d", messageID),
				nil,
				"7e2b9c41-5d3a-4c8f-b0e6-1a4f9d2c7b03",
			)
		}
		return nil, r.dbError(ctx, "failed to fetch feedback", err)
	}
	return entity.EtoD(), nil
}

func (r *MessageRepository) dbError(ctx context.Context, message string, err error) error {
	return platformerrors.NewError(ctx, platformerrors.LayerRepository, platformerrors.ErrorTypeDatabaseError, message, err, "")
}

func toDomainMessages(rows []entities.ConversationMessage) []*domain.Message {
	result := make([]*domain.Message, len(rows))
	for i := range rows {
		result[i] = rows[i].EtoD()
	}
	return result
}

var _ domain.MessageRepository = (*MessageRepository)(nil)
