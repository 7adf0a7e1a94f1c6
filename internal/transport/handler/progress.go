package handler

import (
	"sync"
	"time"
)

// BatchProgress is the poll-side view of an in-flight upload batch.
type BatchProgress struct {
	Total          int     `json:"total"`
	CurrentIndex   int     `json:"current_index"`
	CurrentPercent float64 `json:"current_percent"`
	FileName       string  `json:"file_name"`
	PreviewURL     string  `json:"preview_url,omitempty"`
	Done           bool    `json:"done"`
}

// ProgressTracker keeps per-batch progress so the upload endpoint can report
// it while the batch is still being processed. Finished batches linger for a
// short grace window and are then dropped.
type ProgressTracker struct {
	mu      sync.RWMutex
	batches map[string]BatchProgress
}

func NewProgressTracker() *ProgressTracker {
	return &ProgressTracker{batches: make(map[string]BatchProgress)}
}

func (t *ProgressTracker) Begin(batchID string, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.batches[batchID] = BatchProgress{Total: total}
}

func (t *ProgressTracker) Update(batchID string, index int, percent float64, fileName, previewURL string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.batches[batchID]
	if !ok {
		return
	}
	p.CurrentIndex = index
	p.CurrentPercent = percent
	p.FileName = fileName
	p.PreviewURL = previewURL
	t.batches[batchID] = p
}

func (t *ProgressTracker) Finish(batchID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.batches[batchID]
	if !ok {
		return
	}
	p.Done = true
	p.CurrentPercent = 1
	t.batches[batchID] = p

	time.AfterFunc(5*time.Minute, func() {
		t.mu.Lock()
		delete(t.batches, batchID)
		t.mu.Unlock()
	})
}

func (t *ProgressTracker) Get(batchID string) (BatchProgress, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.batches[batchID]
	return p, ok
}
