package use_case

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/trunov/mediapress/internal/config"
	"github.com/trunov/mediapress/internal/entities"
	"github.com/trunov/mediapress/internal/optimizer"
	"github.com/trunov/mediapress/internal/optimizer/imagecodec"
	"github.com/trunov/mediapress/internal/optimizer/videocodec"
	"github.com/trunov/mediapress/internal/queue"
	"github.com/trunov/mediapress/internal/transport/handler"
)

// shareTTLSeconds is how long a minted share link stays resolvable.
const shareTTLSeconds = 24 * 60 * 60

type Storage interface {
	InsertMedia(ctx context.Context, m entities.Media) (entities.Media, error)
	CountActiveByPost(ctx context.Context, postID int64) (int, error)
	ListByPost(ctx context.Context, postID int64) ([]entities.Media, error)
	SoftDelete(ctx context.Context, id, userID int64) error
	InsertNotification(ctx context.Context, n entities.Notification) error
}

type BlobStorage interface {
	UploadWithHook(ctx context.Context, key string, fileType string, payload []byte, onSuccess func()) error
	PublicURL(ctx context.Context, key string) (string, error)
}

type ShareStore interface {
	Create(ctx context.Context, objectKey string, ttl int) (string, error)
	Resolve(ctx context.Context, hash string) (string, error)
}

type PreviewEnqueuer interface {
	EnqueuePreview(ctx context.Context, job queue.PreviewJob) error
}

type useCase struct {
	storage   Storage
	blobs     BlobStorage
	shares    ShareStore
	producer  PreviewEnqueuer
	optimizer *optimizer.Optimizer
	optCfg    optimizer.Config
	maxSlots  int
}

func New(storage Storage, blobs BlobStorage, shares ShareStore, producer PreviewEnqueuer, opt *optimizer.Optimizer, cfg *config.Config) *useCase {
	return &useCase{
		storage:   storage,
		blobs:     blobs,
		shares:    shares,
		producer:  producer,
		optimizer: opt,
		optCfg:    stageConfig(cfg),
		maxSlots:  cfg.Upload.MaxAttachments,
	}
}

// AttachMedia optimizes one file, uploads the winning bytes and records the
// attachment. The preview rendition is enqueued from the upload success hook
// so the stream never references an object that is not in the bucket yet.
func (uc *useCase) AttachMedia(ctx context.Context, file optimizer.File, params handler.UploadMediaParams, onProgress func(float64)) (entities.Media, optimizer.Result, error) {
	res := uc.optimizer.Optimize(ctx, optimizer.Request{File: file, Config: uc.optCfg}, onProgress)

	if uc.optCfg.MaxBytes > 0 && res.OptimizedSize > uc.optCfg.MaxBytes {
		return entities.Media{}, res, handler.ErrOverBudget
	}

	key := objectKey(params.PostID, res.File.Name)
	previewKey := key + ".preview.webp"

	err := uc.blobs.UploadWithHook(ctx, key, res.File.ContentType, res.File.Data, func() {
		job := queue.PreviewJob{ObjectKey: key, ContentType: res.File.ContentType, PreviewKey: previewKey}
		if err := uc.producer.EnqueuePreview(context.Background(), job); err != nil {
			log.Printf("[use-case] enqueue preview for %s: %v", key, err)
		}
	})
	if err != nil {
		return entities.Media{}, res, fmt.Errorf("upload %s: %w", key, err)
	}

	media := entities.Media{
		UserID:        params.UserID,
		PostID:        params.PostID,
		Kind:          res.Kind.String(),
		Width:         int16(res.Width),
		Height:        int16(res.Height),
		OriginalSize:  res.OriginalSize,
		OptimizedSize: res.OptimizedSize,
		Optimized:     res.Optimized,
		Key:           key,
		PreviewKey:    &previewKey,
		MimeType:      res.File.ContentType,
		OrderIndex:    int16(params.OrderIndex),
	}
	media, err = uc.storage.InsertMedia(ctx, media)
	if err != nil {
		return entities.Media{}, res, fmt.Errorf("insert media: %w", err)
	}

	notification := entities.Notification{
		UserID:  params.UserID,
		ActorID: params.UserID,
		PostID:  params.PostID,
		Kind:    "media_attached",
	}
	if err := uc.storage.InsertNotification(ctx, notification); err != nil {
		// The attachment is already durably stored; losing one notification
		// row is not worth failing the upload over.
		log.Printf("[use-case] insert notification for media %d: %v", media.ID, err)
	}

	return media, res, nil
}

// RemainingSlots reports how many more attachments the post can take.
func (uc *useCase) RemainingSlots(ctx context.Context, postID int64) (int, error) {
	count, err := uc.storage.CountActiveByPost(ctx, postID)
	if err != nil {
		return 0, fmt.Errorf("count attachments: %w", err)
	}
	return uc.maxSlots - count, nil
}

// ListPostMedia returns the post's live attachments in display order.
func (uc *useCase) ListPostMedia(ctx context.Context, postID int64) ([]entities.Media, error) {
	return uc.storage.ListByPost(ctx, postID)
}

// DeleteMedia soft-deletes an attachment owned by userID. The stored object
// stays in the bucket; only the row leaves the feed.
func (uc *useCase) DeleteMedia(ctx context.Context, id, userID int64) error {
	return uc.storage.SoftDelete(ctx, id, userID)
}

// ShareMedia mints a short-lived hash resolvable back to the object key.
func (uc *useCase) ShareMedia(ctx context.Context, objectKey string) (string, error) {
	return uc.shares.Create(ctx, objectKey, shareTTLSeconds)
}

// PublicURL resolves a stored object to a URL a client can fetch.
func (uc *useCase) PublicURL(ctx context.Context, objectKey string) (string, error) {
	return uc.blobs.PublicURL(ctx, objectKey)
}

// ResolveShare maps a share hash to the underlying object's public URL.
func (uc *useCase) ResolveShare(ctx context.Context, hash string) (string, error) {
	key, err := uc.shares.Resolve(ctx, hash)
	if err != nil {
		return "", err
	}
	return uc.blobs.PublicURL(ctx, key)
}

func objectKey(postID int64, fileName string) string {
	ext := strings.ToLower(filepath.Ext(fileName))
	return fmt.Sprintf("media/%d/%s%s", postID, uuid.NewString(), ext)
}

// stageConfig maps config file tunings onto the codec stage knobs.
func stageConfig(cfg *config.Config) optimizer.Config {
	img := cfg.Optimizer.Image
	vid := cfg.Optimizer.Video

	formats := make([]imagecodec.Format, 0, len(img.Formats))
	for _, s := range img.Formats {
		if f, ok := imagecodec.ParseFormat(s); ok {
			formats = append(formats, f)
		}
	}

	return optimizer.Config{
		MaxBytes: cfg.Upload.PerFileBudgetBytes,
		Image: imagecodec.Config{
			MaxWidth:     img.MaxWidth,
			MaxHeight:    img.MaxHeight,
			Quality:      img.Quality,
			QualityStep:  img.QualityStep,
			QualityFloor: img.QualityFloor,
			MaxAttempts:  img.MaxAttempts,
			ShrinkFactor: img.ShrinkFactor,
			Formats:      formats,
		},
		Video: videocodec.Config{
			MaxWidth:        vid.MaxWidth,
			MaxHeight:       vid.MaxHeight,
			CRF:             vid.CRF,
			Preset:          vid.Preset,
			FPS:             vid.FPS,
			VideoBitrate:    vid.VideoBitrate,
			AudioBitrate:    vid.AudioBitrate,
			Attempts:        vid.Attempts,
			SafetyFactor:    vid.SafetyFactor,
			MinVideoBitrate: vid.MinVideoBitrate,
			MinAudioBitrate: vid.MinAudioBitrate,
			BPPFloor:        vid.BPPFloor,
			OvershootMin:    vid.OvershootMin,
			OvershootMax:    vid.OvershootMax,
			LowFPS:          vid.LowFPS,
			DefaultDuration: vid.DefaultDuration,
		},
	}
}
