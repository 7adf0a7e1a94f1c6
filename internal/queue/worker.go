package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/redis/go-redis/v9"
	"github.com/trunov/mediapress/internal/config"
	"github.com/trunov/mediapress/internal/optimizer/imagecodec"
)

type Storage interface {
	Download(ctx context.Context, key string) ([]byte, string, error)
	UploadWithHook(ctx context.Context, key, contentType string, payload []byte, onSuccess func()) error
}

type Worker struct {
	rc      redis.UniversalClient
	cfg     config.PreviewWorkerConfig
	storage Storage
}

func Init(ctx context.Context, rc redis.UniversalClient, cfg config.PreviewWorkerConfig, storage Storage) *Producer {
	producer := NewProducer(rc, cfg.Stream, cfg.MaxLen)
	worker := NewWorker(rc, cfg, storage)

	go func() {
		if err := worker.Start(ctx); err != nil {
			log.Printf("[preview-worker] stopped: %v", err)
		}
	}()

	return producer
}

func NewWorker(rc redis.UniversalClient, cfg config.PreviewWorkerConfig, storage Storage) *Worker {
	return &Worker{
		rc:      rc,
		cfg:     cfg,
		storage: storage,
	}
}

func (w *Worker) EnsureGroup(ctx context.Context) error {
	// Without MkStream, Redis would error out if you try to create a group before any messages exist in the stream.
	err := w.rc.XGroupCreateMkStream(ctx, w.cfg.Stream, w.cfg.Group, "0").Err()
	// Redis returns BUSYGROUP if the group already exists therefore we check for other errors
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}

func (w *Worker) Start(ctx context.Context) error {
	if err := w.EnsureGroup(ctx); err != nil {
		return fmt.Errorf("failed to ensure Redis group: %w", err)
	}

	log.Printf("[preview-worker] starting consumer group=%s stream=%s workers=%d",
		w.cfg.Group, w.cfg.Stream, w.cfg.Workers,
	)

	// Adopt orphaned pending messages
	w.autoClaim(ctx)

	errCh := make(chan error, w.cfg.Workers)
	for i := 0; i < w.cfg.Workers; i++ {
		id := i
		go func() {
			err := w.loop(ctx)
			if err != nil {
				log.Printf("[preview-worker] worker #%d stopped with error: %v", id, err)
			}
			errCh <- err
		}()
	}

	select {
	case <-ctx.Done():
		log.Printf("[preview-worker] context canceled, stopping all workers")
		return ctx.Err()
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("worker loop exited with error: %w", err)
		}
		return nil
	}
}

// autoClaim scans the consumer group for messages that were delivered to
// other consumers but never acknowledged (a worker crashed or was killed
// before XACK) and takes ownership so they get retried after a restart.
func (w *Worker) autoClaim(ctx context.Context) {
	next := "0-0"

	// A message must have sat idle a while before we reclaim it, so we
	// don't steal work still in flight on slow workers.
	minIdle := 30 * time.Second
	if w.cfg.BlockTimeout > 0 {
		if t := w.cfg.BlockTimeout * 6; t > minIdle {
			minIdle = t
		}
	}

	for {
		msgs, start, err := w.rc.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   w.cfg.Stream,
			Group:    w.cfg.Group,
			Consumer: w.cfg.Consumer,
			MinIdle:  minIdle,
			Start:    next,
			Count:    100,
		}).Result()
		if err != nil || len(msgs) == 0 {
			return
		}
		next = start
	}
}

func (w *Worker) loop(ctx context.Context) error {
	for {
		// XREADGROUP marks delivered messages as pending for this consumer;
		// they stay in the group's PEL until handle() XACKs them. A crash
		// before XACK leaves them for autoClaim on the next startup.
		streams, err := w.rc.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    w.cfg.Group,
			Consumer: w.cfg.Consumer,
			Streams:  []string{w.cfg.Stream, ">"},
			Count:    1,
			Block:    w.cfg.BlockTimeout,
		}).Result()
		if err != nil && err != redis.Nil {
			if ctx.Err() != nil {
				return nil
			}
			continue
		}
		for _, s := range streams {
			for _, m := range s.Messages {
				_ = w.handle(ctx, m)
			}
		}
	}
}

func (w *Worker) handle(ctx context.Context, m redis.XMessage) error {
	defer w.rc.XAck(ctx, w.cfg.Stream, w.cfg.Group, m.ID).Err()

	raw, ok := m.Values["payload"].(string)
	if !ok {
		return nil
	}
	var job PreviewJob
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		sentry.CaptureException(fmt.Errorf("preview job payload: %w", err))
		return nil
	}
	attempt := toInt(m.Values["attempt"])

	if err := w.process(ctx, job); err != nil {
		if attempt+1 >= w.cfg.MaxAttempts {
			sentry.CaptureException(fmt.Errorf("preview job %s exhausted retries: %w", job.ObjectKey, err))
			return nil
		}
		// simple exponential backoff requeue
		backoff := w.cfg.BackoffBase << attempt
		time.AfterFunc(backoff, func() {
			_ = w.rc.XAdd(context.Background(), &redis.XAddArgs{
				Stream: w.cfg.Stream,
				MaxLen: w.cfg.MaxLen,
				Values: map[string]any{
					"payload": raw,
					"attempt": attempt + 1,
				},
			}).Err()
		})
		return err
	}
	return nil
}

func (w *Worker) process(ctx context.Context, job PreviewJob) error {
	orig, _, err := w.storage.Download(ctx, job.ObjectKey)
	if err != nil {
		return fmt.Errorf("download %s: %w", job.ObjectKey, err)
	}

	rendition, err := RenderPreview(ctx, orig, w.cfg.MaxEdge)
	if err != nil {
		return fmt.Errorf("render preview for %s: %w", job.ObjectKey, err)
	}

	target := job.PreviewKey
	if target == "" {
		target = job.ObjectKey + ".preview.webp"
	}

	if err := w.storage.UploadWithHook(ctx, target, "image/webp", rendition, nil); err != nil {
		return fmt.Errorf("upload preview: %w", err)
	}
	return nil
}

// RenderPreview produces a small webp rendition through the image codec
// stage. No byte budget: the bounding box alone shrinks the payload.
func RenderPreview(ctx context.Context, data []byte, maxEdge int) ([]byte, error) {
	if maxEdge <= 0 {
		maxEdge = 320
	}
	out := imagecodec.Optimize(ctx, data, imagecodec.Config{
		MaxWidth:  maxEdge,
		MaxHeight: maxEdge,
		Quality:   0.8,
		Formats:   []imagecodec.Format{imagecodec.WebP},
	}, nil)
	if out == nil {
		return nil, fmt.Errorf("could not decode source image")
	}
	return out.Data, nil
}

func toInt(v any) int {
	switch t := v.(type) {
	case int:
		return t
	case int64:
		return int(t)
	case string:
		var x int
		fmt.Sscanf(t, "%d", &x)
		return x
	default:
		return 0
	}
}
