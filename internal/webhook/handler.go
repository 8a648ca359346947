// Package webhook implements the relay's dispatch pipeline: security gate,
// content-type based parsing, sanitization, validation, message formatting
// and delivery. The package is transport-agnostic: it consumes a Request and
// produces a Response, and the surrounding HTTP server (or any other entry
// point) maps those to its own wire format.
package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cm-relay/cloudmon-telegram-relay/internal/ratelimit"
	"github.com/cm-relay/cloudmon-telegram-relay/internal/validator"
	"github.com/cm-relay/cloudmon-telegram-relay/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST / RESPONSE
// ══════════════════════════════════════════════════════════════════════════════

// Request is the transport-independent form of one inbound webhook call.
// It is constructed per call and owned by that call.
type Request struct {
	// Method is the HTTP method.
	Method string

	// Headers maps header names to values. Use Header for lookups; header
	// casing varies by transport.
	Headers map[string]string

	// Body is the raw request body.
	Body string

	// Query maps query parameter names to values.
	Query map[string]string

	// ClientID identifies the caller for rate limiting, typically the
	// source IP.
	ClientID string
}

// Header returns the value of the named header, ignoring case.
func (r Request) Header(name string) string {
	for key, value := range r.Headers {
		if strings.EqualFold(key, name) {
			return value
		}
	}
	return ""
}

// Response is the transport-independent result of one dispatch.
type Response struct {
	StatusCode int
	Headers    map[string]string
	Body       string
}

// Outcome labels for logging and metrics.
const (
	OutcomeSuccess            = "success"
	OutcomeMethodNotAllowed   = "method_not_allowed"
	OutcomeRateLimited        = "rate_limited"
	OutcomeForbidden          = "forbidden"
	OutcomeUnsupportedContent = "unsupported_content_type"
	OutcomeParseError         = "parse_error"
	OutcomeValidationFailed   = "validation_failed"
	OutcomeSendFailed         = "send_failed"
	OutcomeInternalError      = "internal_error"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Sender is the outbound message capability consumed by the dispatcher.
type Sender interface {
	Send(ctx context.Context, chatID string, text string) error
}

// Config holds dispatcher settings.
type Config struct {
	// ChatID is the chat every formatted alarm is delivered to.
	ChatID string

	// Signature is an optional shared secret. When non-empty, the query
	// parameter "signature" must match it exactly. When empty the check is
	// skipped entirely: the endpoint runs unauthenticated.
	Signature string

	// MessagePrefix is prepended to every formatted message.
	MessagePrefix string

	// SendTimeout bounds the delivery call.
	SendTimeout time.Duration
}

// DefaultConfig returns dispatcher defaults.
func DefaultConfig(chatID string) Config {
	return Config{
		ChatID:        chatID,
		MessagePrefix: "[CM] ",
		SendTimeout:   30 * time.Second,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// Handler orchestrates the dispatch pipeline for one request at a time. It
// holds no per-request state.
type Handler struct {
	config  Config
	limiter *ratelimit.Limiter
	sender  Sender
	log     *logger.Logger
}

// NewHandler creates a dispatcher.
func NewHandler(cfg Config, limiter *ratelimit.Limiter, sender Sender, log *logger.Logger) (*Handler, error) {
	if limiter == nil {
		return nil, fmt.Errorf("webhook: rate limiter is required")
	}
	if sender == nil {
		return nil, fmt.Errorf("webhook: sender is required")
	}
	if cfg.ChatID == "" {
		return nil, fmt.Errorf("webhook: chat id is required")
	}
	if cfg.MessagePrefix == "" {
		cfg.MessagePrefix = "[CM] "
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 30 * time.Second
	}
	if log == nil {
		log = logger.Default()
	}

	return &Handler{
		config:  cfg,
		limiter: limiter,
		sender:  sender,
		log:     log.With(logger.Component("webhook")),
	}, nil
}

// Handle runs the full pipeline for one request. It never panics: anything
// unexpected is converted into a generic 500 response and logged in full.
func (h *Handler) Handle(ctx context.Context, req Request) (resp Response) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("unexpected panic in dispatch",
				logger.Any("panic", r),
				logger.ClientIP(req.ClientID),
				logger.Outcome(OutcomeInternalError))
			resp = errorResponse(500, "Internal server error")
		}
	}()

	h.log.Info("webhook received",
		logger.String("method", req.Method),
		logger.ClientIP(req.ClientID))

	// Security gate, in order: method, rate limit, signature. The caller
	// only ever learns that a check failed, not which one.
	if !validator.ValidateHTTPMethod(req.Method, []string{"POST"}) {
		h.log.Warn("security gate: method rejected",
			logger.String("method", req.Method),
			logger.ClientIP(req.ClientID),
			logger.Outcome(OutcomeMethodNotAllowed))
		return errorResponse(405, "method not allowed")
	}

	if !h.limiter.IsAllowed(ctx, req.ClientID) {
		h.log.Warn("security gate: rate limit exceeded",
			logger.ClientIP(req.ClientID),
			logger.Outcome(OutcomeRateLimited))
		resp := errorResponse(429, "rate limit exceeded")
		reset := h.limiter.TimeUntilReset(ctx, req.ClientID)
		if reset > 0 {
			resp.Headers["Retry-After"] = strconv.Itoa(int(reset / time.Second))
		}
		return resp
	}

	if h.config.Signature != "" {
		if !validator.ValidateSignature(req.Query["signature"], h.config.Signature) {
			h.log.Warn("security gate: signature mismatch",
				logger.ClientIP(req.ClientID),
				logger.Outcome(OutcomeForbidden))
			return errorResponse(403, "security check failed")
		}
	}

	// Content-type dispatch selects the parser and the validation path.
	contentType := req.Header("Content-Type")
	var (
		payload   map[string]any
		threshold bool
	)
	switch {
	case validator.ValidateContentType(contentType, []string{"application/x-www-form-urlencoded"}):
		parsed, err := parseForm(req.Body)
		if err != nil {
			h.log.Warn("form parse failed",
				logger.Err(err),
				logger.ClientIP(req.ClientID),
				logger.Outcome(OutcomeParseError))
			return errorResponse(400, err.Error())
		}
		payload = parsed
		threshold = true

	case validator.ValidateContentType(contentType, []string{"application/json"}):
		parsed, err := parseJSON(req.Body)
		if err != nil {
			h.log.Warn("json parse failed",
				logger.Err(err),
				logger.ClientIP(req.ClientID),
				logger.Outcome(OutcomeParseError))
			return errorResponse(400, err.Error())
		}
		payload = parsed

	default:
		h.log.Warn("unsupported content type",
			logger.String("content_type", contentType),
			logger.ClientIP(req.ClientID),
			logger.Outcome(OutcomeUnsupportedContent))
		return errorResponse(400, "unsupported content type")
	}

	sanitized, _ := validator.SanitizeData(payload).(map[string]any)

	var result validator.ValidationResult
	if threshold {
		result = validator.ValidateThresholdAlarm(sanitized)
	} else {
		result = validator.ValidateEventAlarm(sanitized)
	}
	if !result.Valid {
		// The detailed error list stays in the logs; the caller gets a
		// generic message.
		h.log.Warn("payload validation failed",
			logger.Any("errors", result.Errors),
			logger.ClientIP(req.ClientID),
			logger.Outcome(OutcomeValidationFailed))
		return errorResponse(400, "request processing failed")
	}

	var text string
	if threshold {
		text = formatThresholdMessage(h.config.MessagePrefix, sanitized)
	} else {
		text = formatEventMessage(h.config.MessagePrefix, sanitized)
	}

	sendCtx, cancel := context.WithTimeout(ctx, h.config.SendTimeout)
	defer cancel()

	if err := h.sender.Send(sendCtx, h.config.ChatID, text); err != nil {
		// The request itself was well-formed; a delivery failure is a
		// processing failure, not a server fault.
		h.log.Error("message delivery failed",
			logger.Err(err),
			logger.ChatID(h.config.ChatID),
			logger.ClientIP(req.ClientID),
			logger.Outcome(OutcomeSendFailed))
		return errorResponse(400, "notification delivery failed")
	}

	h.log.Info("webhook dispatched",
		logger.ChatID(h.config.ChatID),
		logger.ClientIP(req.ClientID),
		logger.Outcome(OutcomeSuccess))
	return Response{
		StatusCode: 200,
		Headers:    map[string]string{"Content-Type": "text/plain; charset=utf-8"},
		Body:       "OK",
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// PARSING
// ══════════════════════════════════════════════════════════════════════════════

// parseForm decodes a form-encoded body into a payload map, keeping the
// first value of each key.
func parseForm(body string) (map[string]any, error) {
	values, err := url.ParseQuery(body)
	if err != nil {
		return nil, fmt.Errorf("invalid form body: %v", err)
	}

	payload := make(map[string]any, len(values))
	for key, vals := range values {
		if len(vals) > 0 {
			payload[key] = vals[0]
		}
	}
	return payload, nil
}

// parseJSON decodes a JSON body into a payload map.
func parseJSON(body string) (map[string]any, error) {
	var decoded any
	if err := json.Unmarshal([]byte(body), &decoded); err != nil {
		return nil, fmt.Errorf("invalid json body: %v", err)
	}

	payload, isMap := decoded.(map[string]any)
	if !isMap {
		return nil, fmt.Errorf("invalid json body: payload must be an object")
	}
	return payload, nil
}

// errorResponse builds the JSON error shape shared by all failure outcomes.
func errorResponse(status int, message string) Response {
	body, _ := json.Marshal(map[string]string{
		"error":     message,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
	return Response{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": "application/json; charset=utf-8"},
		Body:       string(body),
	}
}
