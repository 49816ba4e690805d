package handlers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/store-agent/backend/internal/ingestion"
	"github.com/store-agent/backend/pkg/logger"
)

// DocumentIngester adds a manual or policy to the knowledge base.
type DocumentIngester interface {
	ProcessDocument(ctx context.Context, doc ingestion.Document) (*ingestion.Result, error)
}

type DocumentHandler struct {
	processor DocumentIngester
}

func NewDocumentHandler(processor DocumentIngester) *DocumentHandler {
	return &DocumentHandler{
		processor: processor,
	}
}

func (h *DocumentHandler) UploadDocument(c *fiber.Ctx) error {
	var req ingestion.Document
	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	result, err := h.processor.ProcessDocument(c.UserContext(), req)
	if err != nil {
		if errors.Is(err, ingestion.ErrInvalidCorpus) || errors.Is(err, ingestion.ErrEmptyContent) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": err.Error(),
			})
		}
		logger.Error("Failed to process document", zap.String("corpus", string(req.Corpus)), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to process document",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(result)
}
