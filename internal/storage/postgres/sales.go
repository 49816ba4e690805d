package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/store-agent/backend/internal/storage/models"
)

const (
	listStoresSQL = `SELECT store_id, store_name, COALESCE(region, ''), COALESCE(city, '') FROM stores ORDER BY store_id`

	latestSaleDateSQL = `SELECT sale_date FROM sales_daily WHERE store_id = ANY($1) ORDER BY sale_date DESC LIMIT 1`

	dailySalesSQL = `SELECT sale_date, SUM(total_sales)::float8, SUM(total_orders)::int8,
	COALESCE(string_agg(DISTINCT weather_info, ', '), '')
FROM sales_daily
WHERE store_id = ANY($1) AND sale_date BETWEEN $2 AND $3
GROUP BY sale_date
ORDER BY sale_date`

	periodTotalSQL = `SELECT COALESCE(SUM(total_sales), 0)::float8 FROM sales_daily
WHERE store_id = ANY($1) AND sale_date BETWEEN $2 AND $3`

	storeTotalsSQL = `SELECT s.store_id, s.store_name, SUM(d.total_sales)::float8, SUM(d.total_orders)::int8
FROM stores s JOIN sales_daily d ON d.store_id = s.store_id
WHERE s.store_id = ANY($1) AND d.sale_date BETWEEN $2 AND $3
GROUP BY s.store_id, s.store_name
ORDER BY 3 DESC`

	categoryBreakdownSQL = `SELECT COALESCE(m.category, ''), SUM(o.quantity)::int8, SUM(o.total_price)::float8
FROM orders o JOIN menus m ON m.menu_id = o.menu_id
WHERE o.store_id = ANY($1) AND o.ordered_at >= $2 AND o.ordered_at < $3
GROUP BY 1
ORDER BY 3 DESC`

	menuRankingSQL = `SELECT m.menu_id, m.menu_name, COALESCE(m.category, ''), SUM(o.quantity)::int8 AS qty, SUM(o.total_price)::float8
FROM orders o JOIN menus m ON m.menu_id = o.menu_id
WHERE o.store_id = ANY($1) AND o.ordered_at >= $2 AND o.ordered_at < $3
GROUP BY m.menu_id, m.menu_name, m.category
ORDER BY qty `

	reviewsSQL = `SELECT r.review_id, r.store_id, COALESCE(r.menu_id, 0), COALESCE(m.menu_name, ''), r.rating, COALESCE(r.review_text, ''), r.created_at
FROM reviews r LEFT JOIN menus m ON m.menu_id = r.menu_id
WHERE r.store_id = ANY($1) AND r.created_at >= $2 AND r.created_at < $3
ORDER BY r.created_at DESC
LIMIT $4`

	menuReviewsSQL = `SELECT review_id, store_id, menu_id, menu_name, rating, review_text, created_at FROM (
	SELECT r.review_id, r.store_id, r.menu_id, COALESCE(m.menu_name, '') AS menu_name, r.rating,
		COALESCE(r.review_text, '') AS review_text, r.created_at,
		ROW_NUMBER() OVER (PARTITION BY r.menu_id ORDER BY r.created_at DESC) AS rn
	FROM reviews r JOIN menus m ON m.menu_id = r.menu_id
	WHERE r.store_id = ANY($1) AND r.menu_id = ANY($2) AND r.created_at >= $3 AND r.created_at < $4
) ranked
WHERE rn <= $5
ORDER BY menu_id, created_at DESC`
)

func (s *Store) ListStores(ctx context.Context) ([]models.Store, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, listStoresSQL)
	if err != nil {
		return nil, wrap(err, "postgres: list stores")
	}
	defer rows.Close()

	var stores []models.Store
	for rows.Next() {
		var st models.Store
		if err := rows.Scan(&st.ID, &st.Name, &st.Region, &st.City); err != nil {
			return nil, wrap(err, "postgres: scan store")
		}
		stores = append(stores, st)
	}
	return stores, wrap(rows.Err(), "postgres: list stores")
}

// LatestSaleDate returns the most recent sale_date for the given stores.
// ok is false when none of them has any sales rows.
func (s *Store) LatestSaleDate(ctx context.Context, storeIDs []int64) (date time.Time, ok bool, err error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	err = s.pool.QueryRow(ctx, latestSaleDateSQL, storeIDs).Scan(&date)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, wrap(err, "postgres: latest sale date")
	}
	return date, true, nil
}

// DailySales returns one row per date in [from, to], summed across stores.
func (s *Store) DailySales(ctx context.Context, storeIDs []int64, from, to time.Time) ([]models.DailySales, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, dailySalesSQL, storeIDs, from, to)
	if err != nil {
		return nil, wrap(err, "postgres: daily sales")
	}
	defer rows.Close()

	var series []models.DailySales
	for rows.Next() {
		var d models.DailySales
		if err := rows.Scan(&d.Date, &d.TotalSales, &d.TotalOrders, &d.Weather); err != nil {
			return nil, wrap(err, "postgres: scan daily sales")
		}
		series = append(series, d)
	}
	return series, wrap(rows.Err(), "postgres: daily sales")
}

func (s *Store) PeriodTotal(ctx context.Context, storeIDs []int64, from, to time.Time) (float64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var total float64
	if err := s.pool.QueryRow(ctx, periodTotalSQL, storeIDs, from, to).Scan(&total); err != nil {
		return 0, wrap(err, "postgres: period total")
	}
	return total, nil
}

func (s *Store) StoreTotals(ctx context.Context, storeIDs []int64, from, to time.Time) ([]models.StoreTotal, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, storeTotalsSQL, storeIDs, from, to)
	if err != nil {
		return nil, wrap(err, "postgres: store totals")
	}
	defer rows.Close()

	var totals []models.StoreTotal
	for rows.Next() {
		var st models.StoreTotal
		if err := rows.Scan(&st.StoreID, &st.StoreName, &st.TotalSales, &st.TotalOrders); err != nil {
			return nil, wrap(err, "postgres: scan store total")
		}
		totals = append(totals, st)
	}
	return totals, wrap(rows.Err(), "postgres: store totals")
}

// CategoryBreakdown sums order quantity and revenue per menu category.
// to is inclusive; orders are matched on timestamps before the next day.
func (s *Store) CategoryBreakdown(ctx context.Context, storeIDs []int64, from, to time.Time) ([]models.CategorySales, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, categoryBreakdownSQL, storeIDs, from, to.AddDate(0, 0, 1))
	if err != nil {
		return nil, wrap(err, "postgres: category breakdown")
	}
	defer rows.Close()

	var out []models.CategorySales
	for rows.Next() {
		var c models.CategorySales
		if err := rows.Scan(&c.Category, &c.Quantity, &c.Revenue); err != nil {
			return nil, wrap(err, "postgres: scan category")
		}
		out = append(out, c)
	}
	return out, wrap(rows.Err(), "postgres: category breakdown")
}

// MenuRanking returns up to limit menus ordered by quantity sold, best
// sellers first unless ascending is set.
func (s *Store) MenuRanking(ctx context.Context, storeIDs []int64, from, to time.Time, limit int, ascending bool) ([]models.MenuSales, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := menuRankingSQL + "DESC, m.menu_id LIMIT $4"
	if ascending {
		query = menuRankingSQL + "ASC, m.menu_id LIMIT $4"
	}

	rows, err := s.pool.Query(ctx, query, storeIDs, from, to.AddDate(0, 0, 1), limit)
	if err != nil {
		return nil, wrap(err, "postgres: menu ranking")
	}
	defer rows.Close()

	var menus []models.MenuSales
	for rows.Next() {
		var m models.MenuSales
		if err := rows.Scan(&m.MenuID, &m.MenuName, &m.Category, &m.Quantity, &m.Revenue); err != nil {
			return nil, wrap(err, "postgres: scan menu")
		}
		menus = append(menus, m)
	}
	return menus, wrap(rows.Err(), "postgres: menu ranking")
}

func (s *Store) Reviews(ctx context.Context, storeIDs []int64, from, to time.Time, limit int) ([]models.Review, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, reviewsSQL, storeIDs, from, to.AddDate(0, 0, 1), limit)
	if err != nil {
		return nil, wrap(err, "postgres: reviews")
	}
	return scanReviews(rows, "postgres: reviews")
}

// MenuReviews returns the latest perMenu reviews for each of menuIDs.
func (s *Store) MenuReviews(ctx context.Context, storeIDs, menuIDs []int64, from, to time.Time, perMenu int) (map[int64][]models.Review, error) {
	if len(menuIDs) == 0 {
		return map[int64][]models.Review{}, nil
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, menuReviewsSQL, storeIDs, menuIDs, from, to.AddDate(0, 0, 1), perMenu)
	if err != nil {
		return nil, wrap(err, "postgres: menu reviews")
	}
	reviews, err := scanReviews(rows, "postgres: menu reviews")
	if err != nil {
		return nil, err
	}

	byMenu := make(map[int64][]models.Review)
	for _, r := range reviews {
		byMenu[r.MenuID] = append(byMenu[r.MenuID], r)
	}
	return byMenu, nil
}

func scanReviews(rows pgx.Rows, msg string) ([]models.Review, error) {
	defer rows.Close()

	var reviews []models.Review
	for rows.Next() {
		var r models.Review
		if err := rows.Scan(&r.ID, &r.StoreID, &r.MenuID, &r.MenuName, &r.Rating, &r.Text, &r.CreatedAt); err != nil {
			return nil, wrap(err, msg)
		}
		reviews = append(reviews, r)
	}
	return reviews, wrap(rows.Err(), msg)
}
