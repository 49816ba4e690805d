package handlers

import (
	"crypto/subtle"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/store-agent/backend/pkg/logger"
)

const AdminTokenHeader = "X-Admin-Token"

// ThresholdSetting is the quality gate's runtime-adjustable distance threshold.
type ThresholdSetting interface {
	Threshold() float64
	SetThreshold(t float64) error
}

type SettingsHandler struct {
	gate       ThresholdSetting
	adminToken string
}

// NewSettingsHandler serves the threshold setting. Updates are refused when
// adminToken is empty.
func NewSettingsHandler(gate ThresholdSetting, adminToken string) *SettingsHandler {
	return &SettingsHandler{gate: gate, adminToken: adminToken}
}

func (h *SettingsHandler) GetThreshold(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"distance_threshold": h.gate.Threshold(),
	})
}

func (h *SettingsHandler) UpdateThreshold(c *fiber.Ctx) error {
	if !h.authorized(c.Get(AdminTokenHeader)) {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": "admin token required",
		})
	}

	var req struct {
		DistanceThreshold *float64 `json:"distance_threshold"`
	}
	if err := c.BodyParser(&req); err != nil || req.DistanceThreshold == nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "distance_threshold is required",
		})
	}

	previous := h.gate.Threshold()
	if err := h.gate.SetThreshold(*req.DistanceThreshold); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	logger.Info("Distance threshold updated",
		zap.Float64("previous", previous),
		zap.Float64("current", *req.DistanceThreshold),
		zap.String("ip", c.IP()),
	)
	return c.JSON(fiber.Map{
		"distance_threshold": h.gate.Threshold(),
		"previous":           previous,
	})
}

func (h *SettingsHandler) authorized(token string) bool {
	if h.adminToken == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.adminToken)) == 1
}
