package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/averix/go-order-api/internal/model"
)

// ErrDuplicateReview signals the order item has already been reviewed; the
// order_item_id column carries a unique constraint.
var ErrDuplicateReview = errors.New("order item already reviewed")

type ReviewRepository interface {
	Create(ctx context.Context, review *model.Review) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Review, error)
	SetStatus(ctx context.Context, id uuid.UUID, status model.ReviewStatus) (bool, error)
	ListByProductID(ctx context.Context, productID uuid.UUID, visibleOnly bool) ([]model.Review, error)
}

type pgReviewRepo struct{ pool *pgxpool.Pool }

func NewReviewRepository(pool *pgxpool.Pool) ReviewRepository {
	return &pgReviewRepo{pool: pool}
}

func (r *pgReviewRepo) Create(ctx context.Context, review *model.Review) error {
	review.ID = uuid.New()
	query := `INSERT INTO reviews (id, order_item_id, user_id, product_id, rating, comment, status, created_at, updated_at)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW()) RETURNING created_at, updated_at`
	err := r.pool.QueryRow(ctx, query,
		review.ID, review.OrderItemID, review.UserID, review.ProductID,
		review.Rating, review.Comment, review.Status,
	).Scan(&review.CreatedAt, &review.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateReview
		}
		return fmt.Errorf("create review: %w", err)
	}
	return nil
}

func (r *pgReviewRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.Review, error) {
	query := `SELECT id, order_item_id, user_id, product_id, rating, comment, status, created_at, updated_at
			  FROM reviews WHERE id = $1`
	rv := &model.Review{}
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&rv.ID, &rv.OrderItemID, &rv.UserID, &rv.ProductID,
		&rv.Rating, &rv.Comment, &rv.Status, &rv.CreatedAt, &rv.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get review: %w", err)
	}
	return rv, nil
}

func (r *pgReviewRepo) SetStatus(ctx context.Context, id uuid.UUID, status model.ReviewStatus) (bool, error) {
	ct, err := r.pool.Exec(ctx,
		`UPDATE reviews SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	if err != nil {
		return false, fmt.Errorf("set review status: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

func (r *pgReviewRepo) ListByProductID(ctx context.Context, productID uuid.UUID, visibleOnly bool) ([]model.Review, error) {
	query := `SELECT id, order_item_id, user_id, product_id, rating, comment, status, created_at, updated_at
			  FROM reviews WHERE product_id = $1 AND ($2 = FALSE OR status = 'show')
			  ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, query, productID, visibleOnly)
	if err != nil {
		return nil, fmt.Errorf("list reviews: %w", err)
	}
	defer rows.Close()

	var reviews []model.Review
	for rows.Next() {
		var rv model.Review
		if err := rows.Scan(&rv.ID, &rv.OrderItemID, &rv.UserID, &rv.ProductID,
			&rv.Rating, &rv.Comment, &rv.Status, &rv.CreatedAt, &rv.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan review: %w", err)
		}
		reviews = append(reviews, rv)
	}
	return reviews, nil
}
