package handlers

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/store-agent/backend/internal/metrics"
	"github.com/store-agent/backend/internal/middleware/validation"
	"github.com/store-agent/backend/internal/query"
	"github.com/store-agent/backend/internal/storage"
	"github.com/store-agent/backend/internal/storage/models"
	"github.com/store-agent/backend/pkg/logger"
)

const (
	defaultHistoryLimit = 10
	maxHistoryLimit     = 100
)

// Asker answers one inquiry. *query.Engine implements it.
type Asker interface {
	Ask(ctx context.Context, qc query.QueryContext, opts ...query.AskOption) (*query.FinalAnswer, error)
}

// HistoryStore reads recorded inquiries and accepts feedback on them.
type HistoryStore interface {
	InquiryHistory(ctx context.Context, storeID int64, limit int) ([]models.Inquiry, error)
	SaveFeedback(ctx context.Context, fb models.Feedback) (int64, error)
}

type InquiryHandler struct {
	engine  Asker
	history HistoryStore
	clock   clockwork.Clock
}

func NewInquiryHandler(engine Asker, history HistoryStore, clock clockwork.Clock) *InquiryHandler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &InquiryHandler{
		engine:  engine,
		history: history,
		clock:   clock,
	}
}

type askRequest struct {
	StoreID    int64  `json:"store_id"`
	Question   string `json:"question"`
	WindowDays int    `json:"window_days"`
}

func (h *InquiryHandler) Ask(c *fiber.Ctx) error {
	var req askRequest
	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if q, ok := c.Locals(validation.LocalQuestion).(string); ok {
		req.Question = q
	}

	answer, err := h.engine.Ask(c.UserContext(), query.QueryContext{
		Question:        req.Question,
		StoreID:         req.StoreID,
		RequestedWindow: req.WindowDays,
	})
	if err != nil {
		logger.Error("Failed to answer inquiry", zap.Int64("store_id", req.StoreID), zap.Error(err))
		msg := query.UserMessage(err)
		return c.Status(askErrorStatus(err)).JSON(fiber.Map{
			"error":  msg,
			"answer": msg,
		})
	}

	return c.JSON(answer)
}

func askErrorStatus(err error) int {
	switch {
	case errors.Is(err, query.ErrEmptyQuestion):
		return fiber.StatusBadRequest
	case errors.Is(err, storage.ErrStoreUnavailable):
		return fiber.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return fiber.StatusGatewayTimeout
	default:
		return fiber.StatusInternalServerError
	}
}

type historyItem struct {
	ID        int64  `json:"id"`
	Category  string `json:"category"`
	Question  string `json:"question"`
	Answer    string `json:"answer"`
	CreatedAt string `json:"created_at"`
}

func (h *InquiryHandler) History(c *fiber.Ctx) error {
	storeID, err := strconv.ParseInt(c.Params("store_id"), 10, 64)
	if err != nil || storeID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "store_id must be a positive integer",
		})
	}

	limit := c.QueryInt("limit", defaultHistoryLimit)
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	records, err := h.history.InquiryHistory(c.UserContext(), storeID, limit)
	if err != nil {
		logger.Error("Failed to load inquiry history", zap.Int64("store_id", storeID), zap.Error(err))
		status := fiber.StatusInternalServerError
		if errors.Is(err, storage.ErrStoreUnavailable) {
			status = fiber.StatusServiceUnavailable
		}
		return c.Status(status).JSON(fiber.Map{
			"error": "Failed to load inquiry history",
		})
	}

	items := make([]historyItem, 0, len(records))
	for _, r := range records {
		items = append(items, historyItem{
			ID:        r.ID,
			Category:  r.Category,
			Question:  r.Question,
			Answer:    r.Answer,
			CreatedAt: r.CreatedAt.Format(time.RFC3339),
		})
	}

	return c.JSON(fiber.Map{
		"store_id": storeID,
		"history":  items,
	})
}

func (h *InquiryHandler) Feedback(c *fiber.Ctx) error {
	inquiryID, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || inquiryID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "inquiry id must be a positive integer",
		})
	}

	var req struct {
		Helpful *bool  `json:"helpful"`
		Comment string `json:"comment"`
	}
	if err := c.BodyParser(&req); err != nil || req.Helpful == nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "helpful is required",
		})
	}

	id, err := h.history.SaveFeedback(c.UserContext(), models.Feedback{
		InquiryID: inquiryID,
		Helpful:   *req.Helpful,
		Comment:   req.Comment,
		CreatedAt: h.clock.Now(),
	})
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "inquiry not found",
			})
		}
		logger.Error("Failed to save feedback", zap.Int64("inquiry_id", inquiryID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to save feedback",
		})
	}

	metrics.UserFeedback.WithLabelValues(strconv.FormatBool(*req.Helpful)).Inc()
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"feedback_id": id,
		"inquiry_id":  inquiryID,
	})
}
