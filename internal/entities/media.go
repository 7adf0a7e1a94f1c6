package entities

import "time"

type Media struct {
	ID               int64     `json:"id"`
	UserID           int64     `json:"user_id"`
	PostID           int64     `json:"post_id"`
	Kind             string    `json:"kind"` // "image" | "video"
	Width            int16     `json:"width"`
	Height           int16     `json:"height"`
	OriginalSize     int64     `json:"original_size"`
	OptimizedSize    int64     `json:"optimized_size"`
	Optimized        bool      `json:"optimized"`
	Key              string    `json:"key"`
	PreviewKey       *string   `json:"preview_key,omitempty"`
	MimeType         string    `json:"mime_type"`
	IsDeleted        bool      `json:"is_deleted"`
	OrderIndex       int16     `json:"order_index"`
	CreatedTimestamp time.Time `json:"created_timestamp"`
	UpdatedTimestamp time.Time `json:"updated_timestamp"`
}

// Notification is a queue-insert row; delivery is handled elsewhere.
type Notification struct {
	ID               int64     `json:"id"`
	UserID           int64     `json:"user_id"`
	ActorID          int64     `json:"actor_id"`
	PostID           int64     `json:"post_id"`
	Kind             string    `json:"kind"`
	CreatedTimestamp time.Time `json:"created_timestamp"`
}
