package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/plugin/dbresolver"

	domain "jan-server/services/research-api/internal/domain/conversation"
	"jan-server/services/research-api/internal/infrastructure/database/entities"
	"jan-server/services/research-api/internal/utils/platformerrors"
)

// Repository persists conversation metadata.
type Repository struct {
	db *gorm.DB
}

// NewRepository builds a conversation repository.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// conn scopes a query to ctx. Contexts marked with domain.WithFreshReads are served by the
// primary even when a read replica is registered.
func conn(ctx context.Context, db *gorm.DB) *gorm.DB {
	db = db.WithContext(ctx)
	if domain.FreshReads(ctx) {
		db = db.Clauses(dbresolver.Write)
	}
	return db
}

// Create inserts the conversation record.
func (r *Repository) Create(ctx context.Context, conv *domain.Conversation) error {
	entity := entities.NewSchemaConversation(conv)

	if err := r.db.WithContext(ctx).Create(entity).Error; err != nil {
		return platformerrors.NewError(
			ctx,
			platformerrors.LayerRepository,
			platformerrors.ErrorTypeDatabaseError,
			"failed to create conversation",
			err,
			"c0d5a3e4-1b7f-4f0e-9a61-3b1d2f6e8a01",
		)
	}

	conv.ID = entity.ID
	conv.CreatedAt = entity.CreatedAt
	conv.UpdatedAt = entity.UpdatedAt
	return nil
}

// FindByPublicID fetches a conversation by its public ID.
func (r *Repository) FindByPublicID(ctx context.Context, publicID string) (*domain.Conversation, error) {
	var entity entities.Conversation
	if err := conn(ctx, r.db).
		Where("public_id = ?", publicID).
		First(&entity).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, platformerrors.NewError(
				ctx,
				platformerrors.LayerRepository,
				platformerrors.ErrorTypeNotFound,
				fmt.Sprintf("conversation not found: %s", publicID),
				nil,
				"c0d5a3e4-1b7f-4f0e-9a61-3b1d2f6e8a02",
			)
		}
		return nil, platformerrors.NewError(
			ctx,
			platformerrors.LayerRepository,
			platformerrors.ErrorTypeDatabaseError,
			"failed to fetch conversation",
			err,
			"c0d5a3e4-1b7f-4f0e-9a61-3b1d2f6e8a03",
		)
	}

	return entity.EtoD(), nil
}

// FindByID fetches a conversation by its primary key.
func (r *Repository) FindByID(ctx context.Context, id uint) (*domain.Conversation, error) {
	var entity entities.Conversation
	if err := conn(ctx, r.db).First(&entity, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, platformerrors.NewError(ctx, platformerrors.LayerRepository, platformerrors.ErrorTypeNotFound,
				fmt.Sprintf("conversation not found: %d", id), nil, "c0d5a3e4-1b7f-4f0e-9a61-3b1d2f6e8a0a")
		}
		return nil, platformerrors.NewError(ctx, platformerrors.LayerRepository, platformerrors.ErrorTypeDatabaseError,
			"failed to fetch conversation", err, "c0d5a3e4-1b7f-4f0e-9a61-3b1d2f6e8a0b")
	}
	return entity.EtoD(), nil
}

// ListByUser returns a user's conversations, most recently updated first.
func (r *Repository) ListByUser(ctx context.Context, userID string) ([]*domain.Conversation, error) {
	var rows []entities.Conversation
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("updated_at DESC").
		Order("id DESC").
		Find(&rows).Error; err != nil {
		return nil, platformerrors.NewError(
			ctx,
			platformerrors.LayerRepository,
			platformerrors.ErrorTypeDatabaseError,
			"failed to list conversations",
			err,
			"c0d5a3e4-1b7f-4f0e-9a61-3b1d2f6e8a04",
		)
	}

	result := make([]*domain.Conversation, len(rows))
	for i := range rows {
		result[i] = rows[i].EtoD()
	}
	return result, nil
}

// Update writes title, latest job id and its root message; the preview only while it is still NULL.
func (r *Repository) Update(ctx context.Context, id uint, patch domain.Patch) error {
	updates := map[string]any{}
	if patch.Title != nil {
		updates["title"] = *patch.Title
	}
	if patch.LatestJobID != nil {
		updates["latest_job_id"] = *patch.LatestJobID
	}
	if patch.LatestJobRootID != nil {
		updates["latest_job_root_message_id"] = *patch.LatestJobRootID
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(updates) > 0 {
			if err := tx.Model(&entities.Conversation{}).Where("id = ?", id).Updates(updates).Error; err != nil {
				return err
			}
		}
		if patch.Preview != nil {
			if err := tx.Model(&entities.Conversation{}).
				Where("id = ? AND (preview IS NULL OR preview = '')", id).
				Update("preview", *patch.Preview).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return platformerrors.NewError(
			ctx,
			platformerrors.LayerRepository,
			platformerrors.ErrorTypeDatabaseError,
			"failed to update conversation",
			err,
			"c0d5a3e4-1b7f-4f0e-9a61-3b1d2f6e8a05",
		)
	}
	return nil
}

// Delete soft-deletes a conversation.
func (r *Repository) Delete(ctx context.Context, id uint) error {
	if err := r.db.WithContext(ctx).Delete(&entities.Conversation{}, id).Error; err != nil {
		return platformerrors.NewError(
			ctx,
			platformerrors.LayerRepository,
			platformerrors.ErrorTypeDatabaseError,
			"failed to delete conversation",
			err,
			"c0d5a3e4-1b7f-4f0e-9a61-3b1d2f6e8a06",
		)
	}
	return nil
}

// ListAwaitingAnswer finds recently active conversations whose newest message is the unanswered
// user message their latest job belongs to.
func (r *Repository) ListAwaitingAnswer(ctx context.Context, since time.Time) ([]*domain.Conversation, error) {
	var rows []entities.Conversation
	if err := r.db.WithContext(ctx).
		Where("updated_at >= ?", since).
		Where("latest_job_id IS NOT NULL AND latest_job_id <> ''").
		Where("latest_job_root_message_id = (SELECT MAX(m.id) FROM conversation_message m WHERE m.conversation_id = conversation.id)").
		Order("updated_at ASC").
		Find(&rows).Error; err != nil {
		return nil, platformerrors.NewError(
			ctx,
			platformerrors.LayerRepository,
			platformerrors.ErrorTypeDatabaseError,
			"failed to list conversations awaiting an answer",
			err,
			"c0d5a3e4-1b7f-4f0e-9a61-3b1d2f6e8a07",
		)
	}

	result := make([]*domain.Conversation, len(rows))
	for i := range rows {
		result[i] = rows[i].EtoD()
	}
	return result, nil
}

var _ domain.Repository = (*Repository)(nil)
