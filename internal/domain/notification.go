package domain

import "time"

// Notification is an in-app notification row. The read flag is the only
// field mutated after creation, and only by the recipient.
type Notification struct {
	ID          string
	IssueID     string
	RecipientID string
	Content     string
	IsRead      bool
	CreatedAt   time.Time
}
