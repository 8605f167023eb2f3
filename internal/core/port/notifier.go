package port

import "context"

// ResetNotifier delivers password-reset links. Delivery itself lives outside this service.
type ResetNotifier interface {
	SendPasswordResetNotification(ctx context.Context, email, name, token string) error
}
