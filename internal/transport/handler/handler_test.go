package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trunov/mediapress/internal/config"
	"github.com/trunov/mediapress/internal/entities"
	"github.com/trunov/mediapress/internal/optimizer"
	"github.com/trunov/mediapress/internal/preview"
)

type stubUseCase struct {
	slots     int
	slotsErr  error
	attachFn  func(file optimizer.File) (entities.Media, optimizer.Result, error)
	shareErr  error
	resolved  string
	listed    []entities.Media
	deleteErr error
}

func (s *stubUseCase) AttachMedia(ctx context.Context, file optimizer.File, params UploadMediaParams, onProgress func(float64)) (entities.Media, optimizer.Result, error) {
	if onProgress != nil {
		onProgress(1)
	}
	if s.attachFn != nil {
		return s.attachFn(file)
	}
	m := entities.Media{ID: 1, PostID: params.PostID, Key: "media/1/" + file.Name}
	return m, optimizer.Result{Optimized: true}, nil
}

func (s *stubUseCase) RemainingSlots(ctx context.Context, postID int64) (int, error) {
	return s.slots, s.slotsErr
}

func (s *stubUseCase) ListPostMedia(ctx context.Context, postID int64) ([]entities.Media, error) {
	return s.listed, nil
}

func (s *stubUseCase) DeleteMedia(ctx context.Context, id, userID int64) error {
	return s.deleteErr
}

func (s *stubUseCase) ShareMedia(ctx context.Context, objectKey string) (string, error) {
	if s.shareErr != nil {
		return "", s.shareErr
	}
	return "abc123", nil
}

func (s *stubUseCase) PublicURL(ctx context.Context, objectKey string) (string, error) {
	return "https://cdn.example.com/" + objectKey, nil
}

func (s *stubUseCase) ResolveShare(ctx context.Context, hash string) (string, error) {
	if s.resolved == "" {
		return "", errors.New("unknown hash")
	}
	return s.resolved, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Upload: config.UploadConfig{
			MaxRequestBodyMB:     32,
			MaxMultipartMemoryMB: 8,
			MaxAttachments:       4,
			MaxRawFileBytes:      1 << 20,
			PerFileBudgetBytes:   1 << 19,
		},
	}
}

func newTestHandler(t *testing.T, uc UseCase) *Handler {
	t.Helper()
	previews, err := preview.NewProvider(t.TempDir(), "/previews")
	require.NoError(t, err)
	return New(uc, testConfig(), previews)
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewNRGBA(image.Rect(0, 0, 8, 8))))
	return buf.Bytes()
}

// A minimal ftyp box, enough for content sniffing to call it video/mp4.
func mp4Bytes() []byte {
	return []byte("\x00\x00\x00\x18ftypisom\x00\x00\x02\x00isomiso2")
}

type part struct {
	name string
	data []byte
}

func multipartBody(t *testing.T, fields map[string]string, parts []part) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	for _, p := range parts {
		fw, err := w.CreateFormFile("media", p.name)
		require.NoError(t, err)
		_, err = fw.Write(p.data)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return &body, w.FormDataContentType()
}

func postUpload(t *testing.T, h *Handler, fields map[string]string, parts []part) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := multipartBody(t, fields, parts)
	req := httptest.NewRequest(http.MethodPost, "/api/posts/media", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	h.UploadMedia(rec, req)
	return rec
}

func validFields() map[string]string {
	return map[string]string{"postID": "10", "orderIndex": "0", "userID": "7"}
}

func decodeUpload(t *testing.T, rec *httptest.ResponseRecorder) uploadResponse {
	t.Helper()
	var resp uploadResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func TestUploadMediaAttachesBatch(t *testing.T) {
	h := newTestHandler(t, &stubUseCase{slots: 4})

	rec := postUpload(t, h, validFields(), []part{
		{"a.png", pngBytes(t)},
		{"b.png", pngBytes(t)},
	})

	require.Equal(t, http.StatusCreated, rec.Code)
	resp := decodeUpload(t, rec)
	assert.Len(t, resp.Attached, 2)
	assert.Empty(t, resp.Summary)
	assert.NotEmpty(t, resp.BatchID)
	for _, a := range resp.Attached {
		assert.NotEmpty(t, a.URL)
	}
}

func TestUploadMediaEnforcesSlotLimit(t *testing.T) {
	h := newTestHandler(t, &stubUseCase{slots: 2})

	parts := make([]part, 4)
	for i := range parts {
		parts[i] = part{fmt.Sprintf("f%d.png", i), pngBytes(t)}
	}
	rec := postUpload(t, h, validFields(), parts)

	require.Equal(t, http.StatusCreated, rec.Code)
	resp := decodeUpload(t, rec)
	assert.Len(t, resp.Attached, 2)
	assert.Contains(t, resp.Summary, "2 files over the attachment limit")
}

func TestUploadMediaRejectsVideosAndUnknown(t *testing.T) {
	h := newTestHandler(t, &stubUseCase{slots: 4})

	rec := postUpload(t, h, validFields(), []part{
		{"ok.png", pngBytes(t)},
		{"clip.mp4", mp4Bytes()},
		{"blob.bin", []byte("just some opaque text payload")},
	})

	require.Equal(t, http.StatusCreated, rec.Code)
	resp := decodeUpload(t, rec)
	assert.Len(t, resp.Attached, 1)
	assert.Contains(t, resp.Summary, "1 file rejected: videos are not supported here")
	assert.Contains(t, resp.Summary, "1 file rejected: unsupported file type")
}

func TestUploadMediaOneBadFileDoesNotAbortBatch(t *testing.T) {
	uc := &stubUseCase{slots: 4}
	uc.attachFn = func(file optimizer.File) (entities.Media, optimizer.Result, error) {
		if file.Name == "broken.png" {
			return entities.Media{}, optimizer.Result{}, errors.New("decode blew up")
		}
		return entities.Media{ID: 2, Key: "media/10/" + file.Name}, optimizer.Result{Optimized: true}, nil
	}
	h := newTestHandler(t, uc)

	rec := postUpload(t, h, validFields(), []part{
		{"good1.png", pngBytes(t)},
		{"broken.png", pngBytes(t)},
		{"good2.png", pngBytes(t)},
	})

	require.Equal(t, http.StatusCreated, rec.Code)
	resp := decodeUpload(t, rec)
	assert.Len(t, resp.Attached, 2)
	assert.Contains(t, resp.Summary, "1 file failed to process")
}

func TestUploadMediaSkipsOverBudget(t *testing.T) {
	uc := &stubUseCase{slots: 4}
	uc.attachFn = func(file optimizer.File) (entities.Media, optimizer.Result, error) {
		return entities.Media{}, optimizer.Result{}, ErrOverBudget
	}
	h := newTestHandler(t, uc)

	rec := postUpload(t, h, validFields(), []part{{"big.png", pngBytes(t)}})

	require.Equal(t, http.StatusCreated, rec.Code)
	resp := decodeUpload(t, rec)
	assert.Empty(t, resp.Attached)
	assert.Contains(t, resp.Summary, "still larger than the size limit after compression")
}

func TestUploadMediaValidatesParams(t *testing.T) {
	h := newTestHandler(t, &stubUseCase{slots: 4})

	rec := postUpload(t, h, map[string]string{"orderIndex": "0"}, []part{{"a.png", pngBytes(t)}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUploadMediaRequiresFiles(t *testing.T) {
	h := newTestHandler(t, &stubUseCase{slots: 4})

	rec := postUpload(t, h, validFields(), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "media")
}

func TestUploadProgressLifecycle(t *testing.T) {
	h := newTestHandler(t, &stubUseCase{slots: 4})

	rec := postUpload(t, h, validFields(), []part{{"a.png", pngBytes(t)}})
	require.Equal(t, http.StatusCreated, rec.Code)
	resp := decodeUpload(t, rec)

	p, ok := h.progress.Get(resp.BatchID)
	require.True(t, ok)
	assert.True(t, p.Done)
	assert.Equal(t, 1.0, p.CurrentPercent)
}

func TestUploadProgressIndexCountsAcceptedFiles(t *testing.T) {
	h := newTestHandler(t, &stubUseCase{slots: 4})

	// The rejected file in the middle must not leave a gap in the index.
	rec := postUpload(t, h, validFields(), []part{
		{"a.png", pngBytes(t)},
		{"blob.bin", []byte("just some opaque text payload")},
		{"b.png", pngBytes(t)},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	resp := decodeUpload(t, rec)
	assert.Len(t, resp.Attached, 2)

	p, ok := h.progress.Get(resp.BatchID)
	require.True(t, ok)
	assert.Equal(t, 3, p.Total)
	assert.Equal(t, 1, p.CurrentIndex, "second accepted file, not its raw batch position")
}

func TestUploadProgressUnknownBatch(t *testing.T) {
	h := newTestHandler(t, &stubUseCase{})

	r := chi.NewRouter()
	r.Get("/api/uploads/{batchID}/progress", h.UploadProgress)

	req := httptest.NewRequest(http.MethodGet, "/api/uploads/nope/progress", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUploadMediaPreviewsReleased(t *testing.T) {
	previews, err := preview.NewProvider(t.TempDir(), "/previews")
	require.NoError(t, err)
	h := New(&stubUseCase{slots: 4}, testConfig(), previews)

	rec := postUpload(t, h, validFields(), []part{
		{"a.png", pngBytes(t)},
		{"b.png", pngBytes(t)},
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	entries, err := os.ReadDir(previews.Dir())
	require.NoError(t, err)
	assert.Empty(t, entries, "request teardown left no live previews")
}

func TestShareMedia(t *testing.T) {
	h := newTestHandler(t, &stubUseCase{})

	form := bytes.NewBufferString("key=media%2F10%2Fphoto.webp")
	req := httptest.NewRequest(http.MethodPost, "/api/media/share", form)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.ShareMedia(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp shareResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "abc123", resp.Hash)
}

func TestShareMediaMissingKey(t *testing.T) {
	h := newTestHandler(t, &stubUseCase{})

	req := httptest.NewRequest(http.MethodPost, "/api/media/share", bytes.NewBufferString(""))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.ShareMedia(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestResolveShareRedirects(t *testing.T) {
	h := newTestHandler(t, &stubUseCase{resolved: "https://cdn.example.com/media/10/photo.webp"})

	r := chi.NewRouter()
	r.Get("/m/{hash}", h.ResolveShare)

	req := httptest.NewRequest(http.MethodGet, "/m/abc123", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://cdn.example.com/media/10/photo.webp", rec.Header().Get("Location"))
}

func TestResolveShareUnknownHash(t *testing.T) {
	h := newTestHandler(t, &stubUseCase{})

	r := chi.NewRouter()
	r.Get("/m/{hash}", h.ResolveShare)

	req := httptest.NewRequest(http.MethodGet, "/m/expired", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListPostMedia(t *testing.T) {
	h := newTestHandler(t, &stubUseCase{listed: []entities.Media{
		{ID: 1, PostID: 10, Key: "media/10/a.webp"},
		{ID: 2, PostID: 10, Key: "media/10/b.webp"},
	}})

	r := chi.NewRouter()
	r.Get("/api/posts/{postID}/media", h.ListPostMedia)

	req := httptest.NewRequest(http.MethodGet, "/api/posts/10/media", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var out []attachedMedia
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	require.Len(t, out, 2)
	assert.Equal(t, "https://cdn.example.com/media/10/a.webp", out[0].URL)
}

func TestDeleteMedia(t *testing.T) {
	h := newTestHandler(t, &stubUseCase{})

	r := chi.NewRouter()
	r.Delete("/api/media/{mediaID}", h.DeleteMedia)

	req := httptest.NewRequest(http.MethodDelete, "/api/media/5?userID=7", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestDeleteMediaNotFound(t *testing.T) {
	h := newTestHandler(t, &stubUseCase{deleteErr: errors.New("not yours")})

	r := chi.NewRouter()
	r.Delete("/api/media/{mediaID}", h.DeleteMedia)

	req := httptest.NewRequest(http.MethodDelete, "/api/media/5?userID=7", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRejectionSummary(t *testing.T) {
	assert.Empty(t, rejectionSummary(nil))

	msg := rejectionSummary(map[string]int{
		reasonFailed:    1,
		reasonOverLimit: 3,
	})
	assert.Equal(t, "Some files were not attached: 1 file failed to process; 3 files over the attachment limit", msg)
}
