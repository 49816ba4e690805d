package models

import "time"

type Store struct {
	ID     int64
	Name   string
	Region string
	City   string
}

type DailySales struct {
	Date        time.Time
	TotalSales  float64
	TotalOrders int64
	Weather     string
}

type StoreTotal struct {
	StoreID     int64
	StoreName   string
	TotalSales  float64
	TotalOrders int64
}

type CategorySales struct {
	Category string
	Quantity int64
	Revenue  float64
}

type MenuSales struct {
	MenuID   int64
	MenuName string
	Category string
	Quantity int64
	Revenue  float64
	Reviews  []Review
}

type Review struct {
	ID        int64
	StoreID   int64
	MenuID    int64
	MenuName  string
	Rating    int
	Text      string
	CreatedAt time.Time
}

// Inquiry is one answered question. Records are append-only.
type Inquiry struct {
	ID        int64
	StoreID   int64
	Category  string
	Question  string
	Answer    string
	CreatedAt time.Time
}

type Feedback struct {
	ID        int64
	InquiryID int64
	Helpful   bool
	Comment   string
	CreatedAt time.Time
}

// Document is a manual or policy entry in the knowledge base.
type Document struct {
	ID         string
	Corpus     string
	Category   string
	Title      string
	Content    string
	ChunkCount int
	CreatedAt  time.Time
}

type DocumentChunk struct {
	ID         string
	DocID      string
	Corpus     string
	Category   string
	Title      string
	ChunkIndex int
	Text       string
	Embedding  []float32
}
