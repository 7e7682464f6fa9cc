package notify

import "context"

// NotificationService performs the actual creation/delivery (push, email,
// in-app). Implementations must be safe for concurrent use; a retriable
// failure is any non-nil error. CreateBatch receives the whole array of a
// batch job in one call.
type NotificationService interface {
	Create(ctx context.Context, job *NotificationJob) error
	CreateBatch(ctx context.Context, jobs []*NotificationJob) error
}
