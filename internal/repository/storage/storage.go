package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/trunov/mediapress/internal/entities"
)

type dbStorage struct {
	dbpool *pgxpool.Pool
}

func New(ctx context.Context, databaseDSN string) (*dbStorage, error) {
	pool, err := pgxpool.New(ctx, databaseDSN)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	return &dbStorage{dbpool: pool}, nil
}

func (s *dbStorage) Ping(ctx context.Context) error {
	return s.dbpool.Ping(ctx)
}

func (s *dbStorage) InsertMedia(ctx context.Context, m entities.Media) (entities.Media, error) {
	row := s.dbpool.QueryRow(ctx, `
		INSERT INTO media
			(user_id, post_id, kind, width, height, original_size, optimized_size,
			 optimized, key, preview_key, mime_type, order_index)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, created_timestamp, updated_timestamp`,
		m.UserID, m.PostID, m.Kind, m.Width, m.Height, m.OriginalSize, m.OptimizedSize,
		m.Optimized, m.Key, m.PreviewKey, m.MimeType, m.OrderIndex,
	)
	if err := row.Scan(&m.ID, &m.CreatedTimestamp, &m.UpdatedTimestamp); err != nil {
		return entities.Media{}, fmt.Errorf("insert media: %w", err)
	}
	return m, nil
}

// CountActiveByPost reports attachments already occupying post slots.
func (s *dbStorage) CountActiveByPost(ctx context.Context, postID int64) (int, error) {
	var n int
	err := s.dbpool.QueryRow(ctx,
		`SELECT COUNT(*) FROM media WHERE post_id = $1 AND NOT is_deleted`, postID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count media for post %d: %w", postID, err)
	}
	return n, nil
}

func (s *dbStorage) ListByPost(ctx context.Context, postID int64) ([]entities.Media, error) {
	rows, err := s.dbpool.Query(ctx, `
		SELECT id, user_id, post_id, kind, width, height, original_size, optimized_size,
		       optimized, key, preview_key, mime_type, is_deleted, order_index,
		       created_timestamp, updated_timestamp
		FROM media
		WHERE post_id = $1 AND NOT is_deleted
		ORDER BY order_index, id`, postID)
	if err != nil {
		return nil, fmt.Errorf("list media for post %d: %w", postID, err)
	}
	defer rows.Close()

	var out []entities.Media
	for rows.Next() {
		var m entities.Media
		if err := rows.Scan(&m.ID, &m.UserID, &m.PostID, &m.Kind, &m.Width, &m.Height,
			&m.OriginalSize, &m.OptimizedSize, &m.Optimized, &m.Key, &m.PreviewKey,
			&m.MimeType, &m.IsDeleted, &m.OrderIndex,
			&m.CreatedTimestamp, &m.UpdatedTimestamp); err != nil {
			return nil, fmt.Errorf("scan media row: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *dbStorage) SoftDelete(ctx context.Context, id, userID int64) error {
	tag, err := s.dbpool.Exec(ctx, `
		UPDATE media SET is_deleted = TRUE, updated_timestamp = now()
		WHERE id = $1 AND user_id = $2 AND NOT is_deleted`, id, userID)
	if err != nil {
		return fmt.Errorf("soft delete media %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("media %d not found for user %d", id, userID)
	}
	return nil
}

// InsertNotification is the fan-out: a single queue-insert into the store.
func (s *dbStorage) InsertNotification(ctx context.Context, n entities.Notification) error {
	_, err := s.dbpool.Exec(ctx, `
		INSERT INTO notifications (user_id, actor_id, post_id, kind)
		VALUES ($1, $2, $3, $4)`,
		n.UserID, n.ActorID, n.PostID, n.Kind)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}
