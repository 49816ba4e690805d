package validation

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// LocalQuestion holds the sanitized question for the ask handler.
const LocalQuestion = "sanitized_question"

// Questions are bound as SQL parameters, so only markup is rejected here.
var xssPattern = regexp.MustCompile(`(?i)(<script|<iframe|javascript:|onerror=|onload=|onclick=)`)

var (
	ErrQuestionRequired = errors.New("question is required")
	ErrQuestionTooLong  = errors.New("question exceeds maximum length")
	ErrInvalidStoreID   = errors.New("store_id must be a positive integer")
	ErrWindowRange      = errors.New("window_days is out of range")
	ErrMarkup           = errors.New("invalid question content")
)

// Limits bounds an inquiry; zero fields take the defaults.
type Limits struct {
	MaxQuestionLength int
	MaxWindowDays     int
}

func (l Limits) withDefaults() Limits {
	if l.MaxQuestionLength <= 0 {
		l.MaxQuestionLength = 1000
	}
	if l.MaxWindowDays <= 0 {
		l.MaxWindowDays = 365
	}
	return l
}

// CheckQuestion validates one inquiry and returns the sanitized question.
// HTTP and websocket entry points share it.
func CheckQuestion(question string, storeID int64, windowDays int, limits Limits) (string, error) {
	limits = limits.withDefaults()

	question = sanitizeString(question)
	if question == "" {
		return "", ErrQuestionRequired
	}
	if utf8.RuneCountInString(question) > limits.MaxQuestionLength {
		return "", ErrQuestionTooLong
	}
	if storeID <= 0 {
		return "", ErrInvalidStoreID
	}
	if windowDays < 0 || windowDays > limits.MaxWindowDays {
		return "", ErrWindowRange
	}
	if containsXSS(question) {
		return "", ErrMarkup
	}
	return question, nil
}

type Config struct {
	MaxQuestionLength   int
	MaxDocumentSize     int
	MaxWindowDays       int
	AllowedContentTypes []string
	Logger              *zap.Logger
}

func Middleware(cfg Config) fiber.Handler {
	if cfg.MaxDocumentSize == 0 {
		cfg.MaxDocumentSize = 2 * 1024 * 1024
	}
	if len(cfg.AllowedContentTypes) == 0 {
		cfg.AllowedContentTypes = []string{fiber.MIMEApplicationJSON}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return func(c *fiber.Ctx) error {
		if c.Method() == fiber.MethodPost || c.Method() == fiber.MethodPut {
			contentType := c.Get(fiber.HeaderContentType)
			if contentType != "" && !allowedType(contentType, cfg.AllowedContentTypes) {
				return reject(c, fiber.StatusUnsupportedMediaType, "Unsupported content type")
			}
		}

		path := c.Path()
		switch {
		case c.Method() == fiber.MethodPost && strings.HasSuffix(path, "/inquiry/ask"):
			return validateAsk(c, cfg)
		case c.Method() == fiber.MethodPost && strings.HasSuffix(path, "/documents"):
			return validateDocument(c, cfg)
		}
		return c.Next()
	}
}

func validateAsk(c *fiber.Ctx, cfg Config) error {
	var req struct {
		StoreID    int64  `json:"store_id"`
		Question   string `json:"question"`
		WindowDays int    `json:"window_days"`
	}
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return reject(c, fiber.StatusBadRequest, "Invalid JSON format")
	}

	question, err := CheckQuestion(req.Question, req.StoreID, req.WindowDays, Limits{
		MaxQuestionLength: cfg.MaxQuestionLength,
		MaxWindowDays:     cfg.MaxWindowDays,
	})
	if errors.Is(err, ErrMarkup) {
		cfg.Logger.Warn("Potential XSS attempt",
			zap.String("ip", c.IP()),
			zap.String("question", req.Question),
		)
	}
	if err != nil {
		return reject(c, fiber.StatusBadRequest, err.Error())
	}

	c.Locals(LocalQuestion, question)
	return c.Next()
}

func validateDocument(c *fiber.Ctx, cfg Config) error {
	if len(c.Body()) > cfg.MaxDocumentSize {
		return reject(c, fiber.StatusRequestEntityTooLarge, "Document content exceeds maximum size")
	}

	var req struct {
		Corpus  string `json:"corpus"`
		Title   string `json:"title"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return reject(c, fiber.StatusBadRequest, "Invalid JSON format")
	}
	if req.Corpus != "manuals" && req.Corpus != "policies" {
		return reject(c, fiber.StatusBadRequest, "corpus must be manuals or policies")
	}
	if strings.TrimSpace(req.Content) == "" {
		return reject(c, fiber.StatusBadRequest, "content is required")
	}
	if utf8.RuneCountInString(req.Title) > 200 {
		return reject(c, fiber.StatusBadRequest, "title exceeds maximum length")
	}
	return c.Next()
}

func reject(c *fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(fiber.Map{"error": msg})
}

func allowedType(contentType string, allowed []string) bool {
	for _, t := range allowed {
		if strings.Contains(contentType, t) {
			return true
		}
	}
	return false
}

func containsXSS(input string) bool {
	return xssPattern.MatchString(input)
}

func sanitizeString(input string) string {
	input = strings.ReplaceAll(input, "\x00", "")
	return strings.TrimSpace(input)
}
