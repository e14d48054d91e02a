package notification

import (
	"time"

	"github.com/gofrs/uuid"
)

// Severity values carried in Notification.Type.
const (
	TypeInfo    = "Info"
	TypeSuccess = "Success"
	TypeWarning = "Warning"
)

type Notification struct {
	ID        uuid.UUID  `json:"id" db:"id"`
	Title     string     `json:"title" db:"title"`
	Message   string     `json:"message" db:"message"`
	Type      string     `json:"type" db:"type"`
	UserID    *string    `json:"user_id,omitempty" db:"user_id"` // nil for broadcast
	IsRead    bool       `json:"is_read" db:"is_read"`
	ReadAt    *time.Time `json:"read_at,omitempty" db:"read_at"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	ActionURL *string    `json:"action_url,omitempty" db:"action_url"`
	Notes     *string    `json:"notes,omitempty" db:"notes"`
}

// New builds an unsent notification for userID. A nil userID makes it a
// broadcast.
func New(userID *string, title, message, kind string) *Notification {
	return &Notification{
		ID:        uuid.Must(uuid.NewV4()),
		Title:     title,
		Message:   message,
		Type:      kind,
		UserID:    userID,
		CreatedAt: time.Now().UTC(),
	}
}

func (n *Notification) IsBroadcast() bool {
	return n.UserID == nil
}
