package queue

// PreviewJob is what we push to Redis Streams.
// No bytes here; workers fetch by ObjectKey.
type PreviewJob struct {
	ObjectKey   string `json:"object_key"`
	ContentType string `json:"content_type"`
	PreviewKey  string `json:"preview_key,omitempty"` // optional override (defaults to ObjectKey + ".preview.webp")
}
