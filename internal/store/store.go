package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/andresmejia3/keyframer/internal/types"
)

// Store manages the PostgreSQL pool and pgvector operations.
type Store struct {
	pool *pgxpool.Pool
}

// New establishes a connection pool and ensures the schema is initialized.
func New(ctx context.Context, connString string) (*Store, error) {
	// The vector extension must exist before the pool registers its types
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, err
	}
	if err := initSchema(ctx, conn); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}
	conn.Close(ctx)

	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, err
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{pool: pool}, nil
}

// initSchema creates the tables and vector extension if they don't exist (Auto-Migration).
// Embeddings are stored without a fixed dimension since it depends on the encoder.
func initSchema(ctx context.Context, conn *pgx.Conn) error {
	query := `
		CREATE EXTENSION IF NOT EXISTS vector;
		CREATE TABLE IF NOT EXISTS videos (
			id TEXT PRIMARY KEY,
			path TEXT NOT NULL,
			fps DOUBLE PRECISION NOT NULL,
			indexed_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS keyframes (
			id BIGSERIAL PRIMARY KEY,
			video_id TEXT NOT NULL REFERENCES videos(id) ON DELETE CASCADE,
			run_id UUID NOT NULL,
			frame_index INT NOT NULL,
			timestamp TEXT NOT NULL,
			path TEXT NOT NULL,
			embedding VECTOR
		);
		CREATE TABLE IF NOT EXISTS frame_descriptions (
			path TEXT PRIMARY KEY,
			frame TEXT NOT NULL,
			importance TEXT NOT NULL,
			reason TEXT NOT NULL,
			extracted_text TEXT,
			visual_description TEXT,
			described_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS keyframes_video_id_idx ON keyframes (video_id);
	`
	_, err := conn.Exec(ctx, query)
	return err
}

// Close terminates the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Keyframe is one persisted keyframe. Embedding may be nil.
type Keyframe struct {
	Index     int
	Timestamp string
	Path      string
	Embedding []float64
}

// Match is a keyframe returned by a similarity search.
type Match struct {
	VideoID   string
	VideoPath string
	Index     int
	Timestamp string
	Path      string
	Distance  float64
}

// Video is a row of ListVideos.
type Video struct {
	ID        string
	Path      string
	FPS       float64
	IndexedAt time.Time
	Keyframes int
}

// EnsureVideo registers the video. If it exists, it updates the path, fps and timestamp.
func (s *Store) EnsureVideo(ctx context.Context, videoID, path string, fps float64) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO videos (id, path, fps, indexed_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (id) DO UPDATE SET indexed_at = NOW(), path = EXCLUDED.path, fps = EXCLUDED.fps
	`, videoID, path, fps)
	return err
}

// ReplaceKeyframes swaps the video's keyframes for the given run's in one transaction, so
// re-extracting a video never leaves duplicates behind.
func (s *Store) ReplaceKeyframes(ctx context.Context, videoID string, runID uuid.UUID, frames []Keyframe) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "DELETE FROM keyframes WHERE video_id = $1", videoID); err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for _, f := range frames {
		var vec *pgvector.Vector
		if len(f.Embedding) > 0 {
			v := toVector(f.Embedding)
			vec = &v
		}
		batch.Queue(`
			INSERT INTO keyframes (video_id, run_id, frame_index, timestamp, path, embedding)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, videoID, runID, f.Index, f.Timestamp, f.Path, vec)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert keyframes: %w", err)
	}
	return tx.Commit(ctx)
}

// FindSimilarKeyframes returns up to limit keyframes whose cosine distance to vec is below
// maxDistance, nearest first. Keyframes embedded with a different dimension are ignored.
func (s *Store) FindSimilarKeyframes(ctx context.Context, vec []float64, limit int, maxDistance float64) ([]Match, error) {
	if len(vec) == 0 {
		return nil, errors.New("empty query vector")
	}
	// <=> is the cosine distance operator in pgvector
	rows, err := s.pool.Query(ctx, `
		SELECT k.video_id, v.path, k.frame_index, k.timestamp, k.path, k.embedding <=> $1 AS distance
		FROM keyframes k JOIN videos v ON v.id = k.video_id
		WHERE k.embedding IS NOT NULL AND vector_dims(k.embedding) = $2 AND k.embedding <=> $1 < $3
		ORDER BY distance ASC
		LIMIT $4
	`, toVector(vec), len(vec), maxDistance, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Match, error) {
		var m Match
		err := row.Scan(&m.VideoID, &m.VideoPath, &m.Index, &m.Timestamp, &m.Path, &m.Distance)
		return m, err
	})
}

// ListVideos returns every indexed video with its keyframe count, most recent first.
func (s *Store) ListVideos(ctx context.Context) ([]Video, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT v.id, v.path, v.fps, v.indexed_at, COUNT(k.id)
		FROM videos v LEFT JOIN keyframes k ON k.video_id = v.id
		GROUP BY v.id
		ORDER BY v.indexed_at DESC
	`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Video, error) {
		var v Video
		err := row.Scan(&v.ID, &v.Path, &v.FPS, &v.IndexedAt, &v.Keyframes)
		return v, err
	})
}

// SaveDescriptions upserts description results keyed by frame path.
func (s *Store) SaveDescriptions(ctx context.Context, results []types.FrameResult) error {
	batch := &pgx.Batch{}
	for _, r := range results {
		var text, visual *string
		if r.Description != nil {
			text, visual = &r.Description.ExtractedText, &r.Description.VisualDescription
		}
		batch.Queue(`
			INSERT INTO frame_descriptions (path, frame, importance, reason, extracted_text, visual_description, described_at)
			VALUES ($1, $2, $3, $4, $5, $6, NOW())
			ON CONFLICT (path) DO UPDATE SET
				frame = EXCLUDED.frame,
				importance = EXCLUDED.importance,
				reason = EXCLUDED.reason,
				extracted_text = EXCLUDED.extracted_text,
				visual_description = EXCLUDED.visual_description,
				described_at = NOW()
		`, r.Path, r.Frame, r.Importance, r.Reason, text, visual)
	}
	return s.pool.SendBatch(ctx, batch).Close()
}

// DescriptionCount returns how many frames have stored descriptions.
func (s *Store) DescriptionCount(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM frame_descriptions").Scan(&n)
	return n, err
}

// Reset drops all application tables to clear the database state.
// This is useful for development to force a schema refresh without migrations.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		DROP TABLE IF EXISTS keyframes CASCADE;
		DROP TABLE IF EXISTS frame_descriptions CASCADE;
		DROP TABLE IF EXISTS videos CASCADE;
	`)
	return err
}

func toVector(vec []float64) pgvector.Vector {
	f := make([]float32, len(vec))
	for i, v := range vec {
		f[i] = float32(v)
	}
	return pgvector.NewVector(f)
}
