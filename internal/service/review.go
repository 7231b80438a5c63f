package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/averix/go-order-api/internal/model"
	"github.com/averix/go-order-api/internal/repository"
)

var (
	ErrReviewNotFound   = errors.New("review not found")
	ErrOrderNotReviewed = errors.New("order must be completed before reviewing")
	ErrItemNotInOrder   = errors.New("item does not belong to this order")
	ErrInvalidRating    = errors.New("rating must be between 1 and 5")
)

type ReviewService struct {
	reviewRepo repository.ReviewRepository
	orderRepo  repository.OrderRepository
	auditRepo  repository.AuditRepository
}

func NewReviewService(reviewRepo repository.ReviewRepository, orderRepo repository.OrderRepository, auditRepo repository.AuditRepository) *ReviewService {
	return &ReviewService{reviewRepo: reviewRepo, orderRepo: orderRepo, auditRepo: auditRepo}
}

// Create reviews a purchased item. The order must belong to the user and be
// completed; an item can be reviewed exactly once.
func (s *ReviewService) Create(ctx context.Context, userID, orderID, orderItemID uuid.UUID, rating int, comment string) (*model.Review, error) {
	if rating < 1 || rating > 5 {
		return nil, ErrInvalidRating
	}

	order, err := s.orderRepo.GetByID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}
	if order.UserID != userID {
		return nil, ErrOrderAccessDenied
	}
	if order.Status != model.OrderStatusCompleted {
		return nil, ErrOrderNotReviewed
	}

	var item *model.OrderItem
	for i := range order.Items {
		if order.Items[i].ID == orderItemID {
			item = &order.Items[i]
			break
		}
	}
	if item == nil {
		return nil, ErrItemNotInOrder
	}

	review := &model.Review{
		OrderItemID: orderItemID,
		UserID:      userID,
		ProductID:   item.ProductID,
		Rating:      rating,
		Comment:     comment,
		Status:      model.ReviewStatusShow,
	}
	if err := s.reviewRepo.Create(ctx, review); err != nil {
		return nil, err
	}
	return review, nil
}

// SetVisibility toggles moderation. The review content is untouched; hiding
// is not deletion.
func (s *ReviewService) SetVisibility(ctx context.Context, actor Actor, reviewID uuid.UUID, status model.ReviewStatus) error {
	ok, err := s.reviewRepo.SetStatus(ctx, reviewID, status)
	if err != nil {
		return err
	}
	if !ok {
		return ErrReviewNotFound
	}

	details, _ := json.Marshal(map[string]string{"status": string(status)})
	entry := &model.ActivityLog{
		ActorID:    actor.ID,
		ActorRole:  actor.Role,
		Action:     "review.visibility",
		EntityType: "review",
		EntityID:   reviewID.String(),
		Details:    string(details),
	}
	if err := s.auditRepo.InsertActivity(ctx, nil, entry); err != nil {
		return fmt.Errorf("record audit entry: %w", err)
	}
	return nil
}

func (s *ReviewService) ListByProduct(ctx context.Context, productID uuid.UUID, includeHidden bool) ([]model.Review, error) {
	return s.reviewRepo.ListByProductID(ctx, productID, !includeHidden)
}
