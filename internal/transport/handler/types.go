package handler

import (
	"errors"

	"github.com/trunov/mediapress/internal/entities"
)

// ErrOverBudget marks a file whose optimized size still exceeds the per-file
// budget; the orchestration drops it instead of attaching it oversized.
var ErrOverBudget = errors.New("optimized file still exceeds the per-file budget")

type UploadMediaParams struct {
	PostID     int64 `validate:"required"`        // media.post_id (NOT NULL)
	OrderIndex int64 `validate:"gte=0,lte=32767"` // media.order_index (NOT NULL)

	// Auth
	UserID int64 `validate:"required"`
}

type attachedMedia struct {
	Media     entities.Media `json:"media"`
	URL       string         `json:"url,omitempty"`
	Optimized bool           `json:"optimized"`
}

type uploadResponse struct {
	BatchID  string          `json:"batch_id"`
	Attached []attachedMedia `json:"attached"`
	Summary  string          `json:"summary,omitempty"`
}

type shareResponse struct {
	Hash string `json:"hash"`
}
