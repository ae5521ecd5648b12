package model

import (
	"encoding/json"
	"time"
)

// -----------------------------------------------------------------------------
// Control Types
// -----------------------------------------------------------------------------

// Reserved values of the "type" field that ask the client to rotate its stream.
const (
	ControlReconnect = "reconnect"
	ControlTimeout   = "timeout"
	ControlHeartbeat = "heartbeat"
)

// Control is the reserved payload shape the server uses for stream control.
type Control struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
}

// IsRotation reports whether the payload asks for an immediate reconnect.
func (c Control) IsRotation() bool {
	return c.Type == ControlReconnect || c.Type == ControlTimeout
}

// ParseControl extracts the control marker from a JSON payload.
// Payloads that are not JSON objects yield a zero Control.
func ParseControl(payload []byte) Control {
	var c Control
	if len(payload) == 0 || payload[0] != '{' {
		return c
	}
	_ = json.Unmarshal(payload, &c)
	return c
}

// -----------------------------------------------------------------------------
// Notification Types
// -----------------------------------------------------------------------------

// Notification is a single user notification.
type Notification struct {
	ID        int64  `json:"id"`
	Title     string `json:"title"`
	Body      string `json:"body"`
	Type      string `json:"type"`
	Link      string `json:"link"`
	CreatedAt string `json:"created_at"` // ISO 8601, server UTC
}

// NotificationSnapshot lists the unread notification IDs of the current user.
// Sent as the "notification_update" event and by GET /notifications/unread-ids.
type NotificationSnapshot struct {
	Count     int     `json:"count"`
	IDs       []int64 `json:"ids"`
	Timestamp string  `json:"timestamp,omitempty"`
}

// LatestNotifications is the body of GET /notifications/latest-all.
type LatestNotifications struct {
	Notifications []Notification `json:"notifications"`
}

// -----------------------------------------------------------------------------
// Comment Types
// -----------------------------------------------------------------------------

// CommentUser is the author block embedded in a comment.
type CommentUser struct {
	ID           int64  `json:"id"`
	FullName     string `json:"full_name"`
	Role         string `json:"role"`
	AvatarLetter string `json:"avatar_letter,omitempty"`
}

// Comment is a single discussion entry on a task or news post.
type Comment struct {
	ID                 int64       `json:"id"`
	Content            string      `json:"content"`
	CreatedAt          string      `json:"created_at"`
	CreatedAtTimestamp float64     `json:"created_at_timestamp"`
	CreatedAtDisplay   string      `json:"created_at_display,omitempty"`
	User               CommentUser `json:"user"`
	CanDelete          bool        `json:"can_delete"`
}

// Time converts the comment cursor to a time.Time.
func (c Comment) Time() time.Time {
	sec := int64(c.CreatedAtTimestamp)
	nsec := int64((c.CreatedAtTimestamp - float64(sec)) * 1e9)
	return time.Unix(sec, nsec).UTC()
}

// NewComments is the "new_comments" stream event.
type NewComments struct {
	Comments   []Comment `json:"comments"`
	TotalCount *int      `json:"total_count,omitempty"` // nil when the server omits it
}

// CommentsSync is the "comments_sync" stream event.
type CommentsSync struct {
	ExistingIDs []int64 `json:"existing_ids"`
	DeletedIDs  []int64 `json:"deleted_ids,omitempty"`
	TotalCount  *int    `json:"total_count,omitempty"`
}

// CommentsPage is the body of GET /tasks/{id}/comments and GET /news/{id}/comments.
type CommentsPage struct {
	Success  bool      `json:"success"`
	Comments []Comment `json:"comments"`
	Total    int       `json:"total"`
}

// CommentAdded is the "comment_added" WebSocket event. It flattens the author
// fields that Comment nests under User.
type CommentAdded struct {
	ID            int64  `json:"id"`
	Content       string `json:"content"`
	CreatedAt     string `json:"created_at"`
	UserID        int64  `json:"user_id"`
	AuthorName    string `json:"author_name"`
	AuthorInitial string `json:"author_initial"`
	AuthorRole    string `json:"author_role"`
}

// Comment converts the event to the common comment shape.
func (a CommentAdded) Comment() Comment {
	c := Comment{
		ID:               a.ID,
		Content:          a.Content,
		CreatedAt:        a.CreatedAt,
		CreatedAtDisplay: a.CreatedAt,
		User: CommentUser{
			ID:           a.UserID,
			FullName:     a.AuthorName,
			Role:         a.AuthorRole,
			AvatarLetter: a.AuthorInitial,
		},
	}
	if t, err := time.Parse("2006-01-02T15:04:05.999999", a.CreatedAt); err == nil {
		c.CreatedAtTimestamp = float64(t.UnixNano()) / 1e9
	}
	return c
}

// CommentDeleted is the "comment_deleted" WebSocket event.
type CommentDeleted struct {
	CommentID int64 `json:"comment_id"`
}
