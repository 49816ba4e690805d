package query

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/store-agent/backend/internal/storage/models"
)

func TestStoreDirectory_Resolve(t *testing.T) {
	tests := []struct {
		name      string
		locations []string
		wantIDs   []int64
		all       bool
		unmatched []string
	}{
		{"no reference selects all", nil, []int64{1, 2, 3}, true, nil},
		{"all keyword", []string{"전체"}, []int64{1, 2, 3}, true, nil},
		{"english all", []string{"ALL"}, []int64{1, 2, 3}, true, nil},
		{"partial store name", []string{"강남"}, []int64{1}, false, nil},
		{"suffix and spacing", []string{"서울 강남 점"}, []int64{1}, false, nil},
		{"region selects group", []string{"서울"}, []int64{1, 2}, false, nil},
		{"two regions", []string{"서울", "부산"}, []int64{1, 2, 3}, false, nil},
		{"city", []string{"마포구"}, []int64{2}, false, nil},
		{"unknown store", []string{"서울XX점"}, nil, false, []string{"서울XX점"}},
		{"one unknown empties all", []string{"강남", "제주"}, nil, false, []string{"제주"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := NewStoreDirectory(&fakeSalesStore{stores: testStores()}, time.Minute)
			res, err := dir.Resolve(context.Background(), tt.locations)
			require.NoError(t, err)
			assert.Equal(t, tt.wantIDs, res.StoreIDs)
			assert.Equal(t, tt.all, res.AllStores)
			assert.Equal(t, tt.unmatched, res.Unmatched)
		})
	}
}

func TestStoreDirectory_AmbiguousPartialMatch(t *testing.T) {
	store := &fakeSalesStore{stores: testStores()}
	dir := NewStoreDirectory(store, time.Minute)

	// "울" is neither a region nor a city and partially matches two store names.
	res, err := dir.Resolve(context.Background(), []string{"울"})
	require.NoError(t, err)
	assert.True(t, res.Empty())
	assert.Equal(t, []string{"울"}, res.Unmatched)
}

func TestStoreDirectory_CachesStoreList(t *testing.T) {
	store := &fakeSalesStore{stores: testStores()}
	dir := NewStoreDirectory(store, time.Minute)

	for range 3 {
		_, err := dir.Resolve(context.Background(), []string{"강남"})
		require.NoError(t, err)
	}
	assert.Equal(t, 1, store.listCalls)

	dir.Invalidate()
	_, err := dir.Stores(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, store.listCalls)
}

func TestStoreDirectory_MissReloadsCachedList(t *testing.T) {
	store := &fakeSalesStore{stores: testStores()}
	dir := NewStoreDirectory(store, time.Hour)

	_, err := dir.Resolve(context.Background(), []string{"강남"})
	require.NoError(t, err)
	require.Equal(t, 1, store.listCalls)

	store.stores = append(store.stores, models.Store{ID: 9, Name: "제주 애월점", Region: "제주", City: "제주시"})
	res, err := dir.Resolve(context.Background(), []string{"애월"})
	require.NoError(t, err)
	assert.Equal(t, 2, store.listCalls)
	assert.Equal(t, []int64{9}, res.StoreIDs)

	res, err = dir.Resolve(context.Background(), []string{"없는점"})
	require.NoError(t, err)
	assert.True(t, res.Empty())
	assert.Equal(t, 3, store.listCalls, "one reload per miss against a cached list")
}

func TestStoreDirectory_ListError(t *testing.T) {
	dir := NewStoreDirectory(&fakeSalesStore{failWith: errBoom}, time.Minute)
	_, err := dir.Resolve(context.Background(), nil)
	assert.ErrorIs(t, err, errBoom)
}

func TestScopeLabel(t *testing.T) {
	assert.Equal(t, "전체 지점", ScopeResolution{AllStores: true}.Label())
	assert.Equal(t, "서울 강남점, 서울 홍대점", ScopeResolution{StoreNames: []string{"서울 강남점", "서울 홍대점"}}.Label())
}
