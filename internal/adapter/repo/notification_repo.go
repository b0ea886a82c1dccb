package repo

import (
	"context"
	"time"

	"github.com/google/uuid"

	"cardgen/internal/domain"
	"cardgen/internal/infra"
	"cardgen/internal/sqlinline"
)

// NotificationRepositoryPG implements domain.NotificationRepository.
type NotificationRepositoryPG struct {
	sql infra.SQLExecutor
}

func NewNotificationRepository(sql infra.SQLExecutor) *NotificationRepositoryPG {
	return &NotificationRepositoryPG{sql: sql}
}

// Insert appends the notification, assigning an id and timestamp when missing.
func (r *NotificationRepositoryPG) Insert(ctx context.Context, n *domain.Notification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	_, err := r.sql.Exec(ctx, sqlinline.QInsertNotification,
		n.ID,
		n.UserID,
		n.JobID,
		n.Title,
		n.Message,
		string(n.Type),
		n.CreatedAt,
	)
	return err
}

var _ domain.NotificationRepository = (*NotificationRepositoryPG)(nil)
