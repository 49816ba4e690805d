package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/store-agent/backend/internal/storage"
	"github.com/store-agent/backend/internal/storage/models"
	"github.com/store-agent/backend/pkg/logger"
)

// Client is the local inquiry sink and knowledge-base document registry.
type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// PRAGMAs are per connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS store_inquiries (
		inquiry_id INTEGER PRIMARY KEY AUTOINCREMENT,
		store_id INTEGER NOT NULL,
		category TEXT NOT NULL,
		question TEXT NOT NULL,
		answer TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_inquiries_store ON store_inquiries(store_id, created_at);

	CREATE TABLE IF NOT EXISTS inquiry_feedback (
		feedback_id INTEGER PRIMARY KEY AUTOINCREMENT,
		inquiry_id INTEGER NOT NULL,
		helpful INTEGER NOT NULL,
		comment TEXT,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (inquiry_id) REFERENCES store_inquiries(inquiry_id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_feedback_inquiry ON inquiry_feedback(inquiry_id);

	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		corpus TEXT NOT NULL,
		category TEXT,
		title TEXT NOT NULL,
		content TEXT NOT NULL,
		chunk_count INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_documents_corpus ON documents(corpus);
	`

	if _, err := c.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	logger.Info("SQLite schema initialized")

	return nil
}

func (c *Client) SaveInquiry(ctx context.Context, inq models.Inquiry) (int64, error) {
	res, err := c.db.ExecContext(ctx,
		`INSERT INTO store_inquiries (store_id, category, question, answer, created_at) VALUES (?, ?, ?, ?, ?)`,
		inq.StoreID, inq.Category, inq.Question, inq.Answer, inq.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert inquiry: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read inquiry id: %w", err)
	}
	return id, nil
}

func (c *Client) InquiryHistory(ctx context.Context, storeID int64, limit int) ([]models.Inquiry, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT inquiry_id, store_id, category, question, answer, created_at
		FROM store_inquiries WHERE store_id = ? ORDER BY created_at DESC, inquiry_id DESC LIMIT ?`,
		storeID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query inquiry history: %w", err)
	}
	defer rows.Close()

	var out []models.Inquiry
	for rows.Next() {
		var inq models.Inquiry
		var createdAt int64
		if err := rows.Scan(&inq.ID, &inq.StoreID, &inq.Category, &inq.Question, &inq.Answer, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan inquiry: %w", err)
		}
		inq.CreatedAt = time.UnixMilli(createdAt).UTC()
		out = append(out, inq)
	}

	return out, rows.Err()
}

// SaveFeedback returns storage.ErrNotFound when the inquiry does not exist.
func (c *Client) SaveFeedback(ctx context.Context, fb models.Feedback) (int64, error) {
	helpful := 0
	if fb.Helpful {
		helpful = 1
	}

	res, err := c.db.ExecContext(ctx,
		`INSERT INTO inquiry_feedback (inquiry_id, helpful, comment, created_at) VALUES (?, ?, ?, ?)`,
		fb.InquiryID, helpful, fb.Comment, fb.CreatedAt.UnixMilli(),
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintForeignKey {
			return 0, fmt.Errorf("inquiry %d: %w", fb.InquiryID, storage.ErrNotFound)
		}
		return 0, fmt.Errorf("failed to store feedback: %w", err)
	}

	return res.LastInsertId()
}

func (c *Client) InsertDocument(ctx context.Context, doc models.Document, chunkCount int) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO documents (id, corpus, category, title, content, chunk_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			corpus = excluded.corpus,
			category = excluded.category,
			title = excluded.title,
			content = excluded.content,
			chunk_count = excluded.chunk_count`,
		doc.ID, doc.Corpus, doc.Category, doc.Title, doc.Content, chunkCount, doc.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert document: %w", err)
	}
	return nil
}

func (c *Client) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	var doc models.Document
	var category sql.NullString
	var createdAt int64

	err := c.db.QueryRowContext(ctx,
		`SELECT id, corpus, category, title, content, chunk_count, created_at FROM documents WHERE id = ?`, id,
	).Scan(&doc.ID, &doc.Corpus, &category, &doc.Title, &doc.Content, &doc.ChunkCount, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}

	doc.Category = category.String
	doc.CreatedAt = time.UnixMilli(createdAt).UTC()
	return &doc, nil
}
