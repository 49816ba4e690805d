package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rotisserie/eris"

	"github.com/store-agent/backend/internal/storage"
	"github.com/store-agent/backend/internal/storage/models"
)

// migration creates only the tables this service owns. Sales, menu, review
// and corpus tables are managed elsewhere; corpus tables only gain doc_id.
const migration = `
CREATE TABLE IF NOT EXISTS store_inquiries (
	inquiry_id BIGSERIAL PRIMARY KEY,
	store_id   BIGINT NOT NULL,
	category   TEXT NOT NULL,
	question   TEXT NOT NULL,
	answer     TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_store_inquiries_store ON store_inquiries(store_id, created_at DESC);

CREATE TABLE IF NOT EXISTS inquiry_feedback (
	feedback_id BIGSERIAL PRIMARY KEY,
	inquiry_id  BIGINT NOT NULL REFERENCES store_inquiries(inquiry_id),
	helpful     BOOLEAN NOT NULL,
	comment     TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

ALTER TABLE IF EXISTS manuals ADD COLUMN IF NOT EXISTS doc_id TEXT;
ALTER TABLE IF EXISTS policies ADD COLUMN IF NOT EXISTS doc_id TEXT;

DO $$
BEGIN
	IF to_regclass('manuals') IS NOT NULL THEN
		CREATE INDEX IF NOT EXISTS idx_manuals_doc ON manuals(doc_id);
	END IF;
	IF to_regclass('policies') IS NOT NULL THEN
		CREATE INDEX IF NOT EXISTS idx_policies_doc ON policies(doc_id);
	END IF;
END $$;
`

const (
	insertInquirySQL = `INSERT INTO store_inquiries (store_id, category, question, answer, created_at)
VALUES ($1, $2, $3, $4, $5) RETURNING inquiry_id`

	inquiryHistorySQL = `SELECT inquiry_id, store_id, category, question, answer, created_at
FROM store_inquiries WHERE store_id = $1 ORDER BY created_at DESC, inquiry_id DESC LIMIT $2`

	insertFeedbackSQL = `INSERT INTO inquiry_feedback (inquiry_id, helpful, comment, created_at)
VALUES ($1, $2, $3, $4) RETURNING feedback_id`
)

const foreignKeyViolation = "23503"

func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, migration)
	return wrap(err, "postgres: migrate")
}

// SaveInquiry appends an answered inquiry and returns its id.
func (s *Store) SaveInquiry(ctx context.Context, inq models.Inquiry) (int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var id int64
	err := s.pool.QueryRow(ctx, insertInquirySQL,
		inq.StoreID, inq.Category, inq.Question, inq.Answer, inq.CreatedAt,
	).Scan(&id)
	if err != nil {
		return 0, wrap(err, "postgres: save inquiry")
	}
	return id, nil
}

func (s *Store) InquiryHistory(ctx context.Context, storeID int64, limit int) ([]models.Inquiry, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, inquiryHistorySQL, storeID, limit)
	if err != nil {
		return nil, wrap(err, "postgres: inquiry history")
	}
	defer rows.Close()

	var out []models.Inquiry
	for rows.Next() {
		var inq models.Inquiry
		if err := rows.Scan(&inq.ID, &inq.StoreID, &inq.Category, &inq.Question, &inq.Answer, &inq.CreatedAt); err != nil {
			return nil, wrap(err, "postgres: scan inquiry")
		}
		out = append(out, inq)
	}
	return out, wrap(rows.Err(), "postgres: inquiry history")
}

// SaveFeedback records feedback on an inquiry. It returns storage.ErrNotFound
// when the inquiry does not exist.
func (s *Store) SaveFeedback(ctx context.Context, fb models.Feedback) (int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var id int64
	err := s.pool.QueryRow(ctx, insertFeedbackSQL, fb.InquiryID, fb.Helpful, fb.Comment, fb.CreatedAt).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation {
			return 0, eris.Wrapf(storage.ErrNotFound, "postgres: inquiry %d", fb.InquiryID)
		}
		return 0, wrap(err, "postgres: save feedback")
	}
	return id, nil
}
