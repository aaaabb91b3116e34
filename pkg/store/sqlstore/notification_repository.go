package sqlstore

import (
	"context"
	"fmt"
	"time"

	"bothost/pkg/store/sqlstore/model"
)

// NotificationRepository handles the user inbox
type NotificationRepository struct {
	ds *Datastore
}

// NewNotificationRepository creates a new notification repository
func NewNotificationRepository(ds *Datastore) *NotificationRepository {
	return &NotificationRepository{ds: ds}
}

// Insert adds an unread message for userID
func (r *NotificationRepository) Insert(ctx context.Context, userID int64, message string) error {
	n := &model.Notification{
		UserID:    userID,
		Message:   message,
		CreatedAt: time.Now(),
	}
	if err := r.ds.DB(ctx).Create(n).Error; err != nil {
		return fmt.Errorf("failed to insert notification: %w", err)
	}
	return nil
}

// ListUnread returns unread messages of userID, oldest first
func (r *NotificationRepository) ListUnread(ctx context.Context, userID int64) ([]model.Notification, error) {
	var rows []model.Notification
	if err := r.ds.DB(ctx).
		Where("user_id = ? AND is_read = ?", userID, false).
		Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	return rows, nil
}

// MarkAllRead flags every message of userID as read
func (r *NotificationRepository) MarkAllRead(ctx context.Context, userID int64) (int64, error) {
	result := r.ds.DB(ctx).Model(&model.Notification{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Update("is_read", true)
	if result.Error != nil {
		return 0, fmt.Errorf("failed to mark notifications read: %w", result.Error)
	}
	return result.RowsAffected, nil
}
