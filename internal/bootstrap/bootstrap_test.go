package bootstrap

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/store-agent/backend/internal/storage/models"
)

func TestOpenSQLite_CreatesDirectoryAndSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "inquiries.db")

	lite, err := openSQLite(path)
	require.NoError(t, err)
	defer lite.Close()

	id, err := lite.SaveInquiry(context.Background(), models.Inquiry{
		StoreID:   1,
		Category:  "numeric_analytics",
		Question:  "매출 얼마야?",
		Answer:    "1,000원",
		CreatedAt: time.Now(),
	})
	require.NoError(t, err)
	assert.Positive(t, id)
}

func TestAppClose_ReverseOrder(t *testing.T) {
	var order []int
	app := &App{closers: []func(){
		func() { order = append(order, 1) },
		func() { order = append(order, 2) },
	}}

	app.Close()
	app.Close()
	assert.Equal(t, []int{2, 1}, order)
}

func TestSeconds(t *testing.T) {
	assert.Equal(t, 30*time.Second, seconds(30))
	assert.Zero(t, seconds(0))
}
