package notification

import "context"

// Inbox persists a notification for later display
type Inbox interface {
	Insert(ctx context.Context, userID int64, message string) error
}

// StoreNotifier writes notifications to the user's inbox table
type StoreNotifier struct {
	inbox Inbox
}

// NewStoreNotifier creates a store-backed notifier
func NewStoreNotifier(inbox Inbox) *StoreNotifier {
	return &StoreNotifier{inbox: inbox}
}

// Notify implements Notifier
func (s *StoreNotifier) Notify(ctx context.Context, userID int64, message string) error {
	return s.inbox.Insert(ctx, userID, message)
}
