package handlers

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/store-agent/backend/internal/middleware/validation"
	"github.com/store-agent/backend/internal/query"
	"github.com/store-agent/backend/pkg/logger"
)

// LocalClientIP carries the upgrading request's IP into the connection.
const LocalClientIP = "client_ip"

var errRateLimited = errors.New("요청이 너무 많습니다. 잠시 후 다시 시도해 주세요.")

var stageMessages = map[string]string{
	query.StageClassify:   "질문 유형을 분석하고 있습니다...",
	query.StageRetrieve:   "관련 데이터를 찾고 있습니다...",
	query.StageFallback:   "내부 자료가 부족해 웹에서 검색하고 있습니다...",
	query.StageSynthesize: "답변을 작성하고 있습니다...",
	query.StagePersist:    "답변을 기록하고 있습니다...",
}

type chatMessage struct {
	Type       string `json:"type"`
	Content    string `json:"content"`
	StoreID    int64  `json:"store_id"`
	WindowDays int    `json:"window_days"`
}

// MessageLimiter admits or refuses one inquiry for a client key.
type MessageLimiter interface {
	Allow(key string) bool
}

type WebSocketConfig struct {
	Timeout time.Duration
	// Limiter is shared with the HTTP routes; nil disables limiting.
	Limiter MessageLimiter
	Limits  validation.Limits
}

type WebSocketHandler struct {
	engine  Asker
	timeout time.Duration
	limiter MessageLimiter
	limits  validation.Limits
}

func NewWebSocketHandler(engine Asker, cfg WebSocketConfig) *WebSocketHandler {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 90 * time.Second
	}
	return &WebSocketHandler{
		engine:  engine,
		timeout: cfg.Timeout,
		limiter: cfg.Limiter,
		limits:  cfg.Limits,
	}
}

func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	logger.Info("WebSocket connection established")

	defer func() {
		c.Close()
		logger.Info("WebSocket connection closed")
	}()

	ip, _ := c.Locals(LocalClientIP).(string)

	for {
		var msg chatMessage
		if err := c.ReadJSON(&msg); err != nil {
			logger.Debug("WebSocket read ended", zap.Error(err))
			break
		}

		if msg.Type != "query" {
			continue
		}

		msg, err := h.admit(ip, msg)
		if err != nil {
			logger.Warn("Rejected WebSocket inquiry",
				zap.String("ip", ip),
				zap.Error(err),
			)
			h.sendError(c, err.Error())
			continue
		}

		logger.Info("Processing WebSocket inquiry",
			zap.Int64("store_id", msg.StoreID),
			zap.String("question", msg.Content),
		)

		if err := h.streamAnswer(c, msg); err != nil {
			logger.Error("Failed to stream answer", zap.Error(err))
			h.sendError(c, query.UserMessage(err))
		}
	}
}

// admit applies the HTTP ask checks to a chat message.
func (h *WebSocketHandler) admit(ip string, msg chatMessage) (chatMessage, error) {
	if h.limiter != nil && !h.limiter.Allow(ip) {
		return msg, errRateLimited
	}
	question, err := validation.CheckQuestion(msg.Content, msg.StoreID, msg.WindowDays, h.limits)
	if err != nil {
		return msg, err
	}
	msg.Content = question
	return msg, nil
}

func (h *WebSocketHandler) streamAnswer(c *websocket.Conn, msg chatMessage) error {
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	// Stages run on this goroutine, so writes never interleave.
	onStage := func(stage string) {
		if err := c.WriteJSON(map[string]any{
			"type":    "status",
			"stage":   stage,
			"content": stageMessages[stage],
		}); err != nil {
			logger.Debug("Failed to send status frame", zap.Error(err))
		}
	}

	answer, err := h.engine.Ask(ctx, query.QueryContext{
		Question:        msg.Content,
		StoreID:         msg.StoreID,
		RequestedWindow: msg.WindowDays,
	}, query.WithStageHook(onStage))
	if err != nil {
		return err
	}

	words := splitIntoWords(answer.Narrative)
	for i, word := range words {
		chunk := word
		if i < len(words)-1 && word != "\n" && words[i+1] != "\n" {
			chunk += " "
		}
		if err := c.WriteJSON(map[string]any{"type": "chunk", "content": chunk}); err != nil {
			return err
		}
	}

	return c.WriteJSON(completeFrame(answer))
}

func completeFrame(answer *query.FinalAnswer) map[string]any {
	frame := map[string]any{
		"type":          "complete",
		"inquiry_id":    answer.InquiryID,
		"category":      answer.Category,
		"payload":       answer.Payload,
		"fallback_used": answer.FallbackUsed,
		"latency_ms":    answer.LatencyMS,
	}
	if answer.BestDistance != nil {
		frame["best_distance"] = *answer.BestDistance
	}
	if answer.Warning != "" {
		frame["warning"] = answer.Warning
	}
	return frame
}

func (h *WebSocketHandler) sendError(c *websocket.Conn, errorMsg string) {
	if err := c.WriteJSON(map[string]any{"type": "error", "error": errorMsg}); err != nil {
		logger.Debug("Failed to send error frame", zap.Error(err))
	}
}

// splitIntoWords breaks text on spaces, keeping newlines as their own tokens
// so Markdown tables survive streaming.
func splitIntoWords(text string) []string {
	var words []string
	for i, line := range strings.Split(text, "\n") {
		if i > 0 {
			words = append(words, "\n")
		}
		words = append(words, strings.Fields(line)...)
	}
	return words
}
