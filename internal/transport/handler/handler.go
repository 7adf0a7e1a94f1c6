package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/trunov/mediapress/internal/config"
	"github.com/trunov/mediapress/internal/entities"
	"github.com/trunov/mediapress/internal/optimizer"
	"github.com/trunov/mediapress/internal/preview"
)

type UseCase interface {
	AttachMedia(ctx context.Context, file optimizer.File, params UploadMediaParams, onProgress func(float64)) (entities.Media, optimizer.Result, error)
	RemainingSlots(ctx context.Context, postID int64) (int, error)
	ListPostMedia(ctx context.Context, postID int64) ([]entities.Media, error)
	DeleteMedia(ctx context.Context, id, userID int64) error
	ShareMedia(ctx context.Context, objectKey string) (string, error)
	PublicURL(ctx context.Context, objectKey string) (string, error)
	ResolveShare(ctx context.Context, hash string) (string, error)
}

type Handler struct {
	useCase   UseCase
	cfg       *config.Config
	validator *validator.Validate
	previews  *preview.Provider
	progress  *ProgressTracker
}

func New(useCase UseCase, cfg *config.Config, previews *preview.Provider) *Handler {
	return &Handler{
		useCase:   useCase,
		cfg:       cfg,
		validator: validator.New(),
		previews:  previews,
		progress:  NewProgressTracker(),
	}
}

// Rejection reasons aggregated into the per-batch summary.
const (
	reasonOverLimit    = "over the attachment limit"
	reasonVideo        = "rejected: videos are not supported here"
	reasonUnsupported  = "rejected: unsupported file type"
	reasonRawTooLarge  = "larger than the raw upload limit"
	reasonSkippedAfter = "still larger than the size limit after compression"
	reasonFailed       = "failed to process"
)

// UploadMedia accepts a multipart batch of images for a post, optimizes them
// one at a time and attaches the survivors. Policy rejections and
// post-compression skips never abort the files that did succeed.
func (h *Handler) UploadMedia(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.Upload.MaxRequestBodyMB<<20)

	if err := r.ParseMultipartForm(h.cfg.Upload.MaxMultipartMemoryMB << 20); err != nil {
		writeMultipartError(w, err)
		return
	}

	params := UploadMediaParams{
		PostID:     parseInt64Default(r.Form.Get("postID"), 0),
		OrderIndex: parseInt64Default(r.Form.Get("orderIndex"), 0),
		UserID:     parseInt64Default(r.Form.Get("userID"), 0),
	}
	if err := h.validator.Struct(params); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(validationErrorsToMap(err))
		return
	}

	files := r.MultipartForm.File["media"]
	if len(files) == 0 {
		writeJSONError(w, `missing media files: form field key should be "media"`, http.StatusBadRequest)
		return
	}

	ctx := r.Context()

	slots, err := h.useCase.RemainingSlots(ctx, params.PostID)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if slots < 0 {
		slots = 0
	}

	rejections := map[string]int{}
	if len(files) > slots {
		rejections[reasonOverLimit] = len(files) - slots
		files = files[:slots]
	}

	batchID := uuid.NewString()
	h.progress.Begin(batchID, len(files))
	defer h.progress.Finish(batchID)

	batch := h.previews.NewBatch()
	defer batch.Close()

	var attached []attachedMedia
	accepted := 0 // progress index over files that passed the policy checks
	for _, fh := range files {
		data, err := readPart(fh)
		if err != nil {
			rejections[reasonFailed]++
			continue
		}

		contentType := mimetype.Detect(data).String()
		switch optimizer.KindOf(contentType) {
		case optimizer.KindVideo:
			rejections[reasonVideo]++
			continue
		case optimizer.KindOther:
			rejections[reasonUnsupported]++
			continue
		}
		if int64(len(data)) > h.cfg.Upload.MaxRawFileBytes {
			rejections[reasonRawTooLarge]++
			continue
		}

		previewURL, _ := batch.Add(fh.Filename, data)
		idx := accepted
		accepted++
		h.progress.Update(batchID, idx, 0, fh.Filename, previewURL)

		file := optimizer.File{Name: fh.Filename, ContentType: contentType, Data: data}
		media, result, err := h.useCase.AttachMedia(ctx, file, params, func(p float64) {
			h.progress.Update(batchID, idx, p, fh.Filename, previewURL)
		})
		switch {
		case errors.Is(err, ErrOverBudget):
			rejections[reasonSkippedAfter]++
			batch.Remove(fh.Filename)
			continue
		case err != nil:
			rejections[reasonFailed]++
			batch.Remove(fh.Filename)
			continue
		}

		entry := attachedMedia{Media: media, Optimized: result.Optimized}
		if url, err := h.useCase.PublicURL(ctx, media.Key); err == nil {
			entry.URL = url
		}
		attached = append(attached, entry)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(uploadResponse{
		BatchID:  batchID,
		Attached: attached,
		Summary:  rejectionSummary(rejections),
	})
}

// UploadProgress reports the batch's scoped progress bar state.
func (h *Handler) UploadProgress(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "batchID")
	p, ok := h.progress.Get(batchID)
	if !ok {
		writeJSONError(w, "unknown batch", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(p)
}

// ListPostMedia returns a post's attachments with resolved URLs.
func (h *Handler) ListPostMedia(w http.ResponseWriter, r *http.Request) {
	postID := parseInt64Default(chi.URLParam(r, "postID"), 0)
	if postID <= 0 {
		writeJSONError(w, "invalid post id", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	media, err := h.useCase.ListPostMedia(ctx, postID)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	out := make([]attachedMedia, 0, len(media))
	for _, m := range media {
		entry := attachedMedia{Media: m, Optimized: m.Optimized}
		if url, err := h.useCase.PublicURL(ctx, m.Key); err == nil {
			entry.URL = url
		}
		out = append(out, entry)
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

// DeleteMedia detaches one attachment owned by the requesting user.
func (h *Handler) DeleteMedia(w http.ResponseWriter, r *http.Request) {
	id := parseInt64Default(chi.URLParam(r, "mediaID"), 0)
	userID := parseInt64Default(r.URL.Query().Get("userID"), 0)
	if id <= 0 || userID <= 0 {
		writeJSONError(w, "invalid media or user id", http.StatusBadRequest)
		return
	}

	if err := h.useCase.DeleteMedia(r.Context(), id, userID); err != nil {
		writeJSONError(w, err.Error(), http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ShareMedia mints a short-lived share hash for a stored object.
func (h *Handler) ShareMedia(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	key := r.Form.Get("key")
	if key == "" {
		writeJSONError(w, "missing object key", http.StatusBadRequest)
		return
	}

	hash, err := h.useCase.ShareMedia(r.Context(), key)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(shareResponse{Hash: hash})
}

// ResolveShare redirects a share hash to the object's public URL.
func (h *Handler) ResolveShare(w http.ResponseWriter, r *http.Request) {
	hash := chi.URLParam(r, "hash")
	url, err := h.useCase.ResolveShare(r.Context(), hash)
	if err != nil {
		writeJSONError(w, "unknown or expired link", http.StatusNotFound)
		return
	}
	http.Redirect(w, r, url, http.StatusFound)
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}
