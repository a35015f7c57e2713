// Package webhook implements the row-insert trigger endpoint.
//
// A database change feed delivers one notification per inserted row:
//
//	POST /hooks/embeddings
//
// The handler authenticates the caller (bearer token or HMAC-SHA256),
// validates the body against the row-insert schema, rate-limits per table,
// then hands the row to the embedding indexer. The indexer's outcome maps to
// the HTTP status so the sender can decide whether to redeliver:
//
//	200 {"status":"embedded"|"skipped"}
//	400 invalid payload or ValidationError
//	401 authentication failed
//	413 body larger than 1 MiB
//	429 rate limit exceeded for the table, with Retry-After
//	500 PersistenceError
//	502 ProviderError
//
// Redelivery is safe: a row that already carries an embedding is skipped
// before any provider call.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bdobrica/kioku/common/spec/envelope"
	"github.com/bdobrica/kioku/common/trace"
	"github.com/bdobrica/kioku/internal/kioku/memory"
)

// Path is the route the handler is mounted on.
const Path = "/hooks/embeddings"

// SignatureHeader carries "sha256=<hex>" of the request body when HMAC
// authentication is configured.
const SignatureHeader = "X-Kioku-Signature-256"

// DefaultRateLimit is the default maximum number of deliveries per table per
// minute when no explicit limit is configured.
const DefaultRateLimit = 600

// maxBodyBytes caps inbound request bodies.
const maxBodyBytes = 1 * 1024 * 1024 // 1 MiB

// RowIndexer is the minimal interface the Handler needs from the indexer.
type RowIndexer interface {
	OnRowInserted(ctx context.Context, ev memory.RowInserted) (memory.IndexOutcome, error)
}

// Config holds options for creating a Handler.
type Config struct {
	// BearerToken, when set, must match the Authorization: Bearer header.
	BearerToken string

	// HMACSecret, when set, takes precedence over BearerToken: the
	// X-Kioku-Signature-256 header must be a valid HMAC-SHA256 of the body.
	HMACSecret string

	// RateLimit is the maximum number of deliveries per table per minute.
	// Defaults to DefaultRateLimit when zero or negative.
	RateLimit int

	Logger *slog.Logger
}

// Handler serves POST /hooks/embeddings.
type Handler struct {
	indexer RowIndexer
	bearer  string
	secret  []byte
	quota   *tableQuota
	logger  *slog.Logger
}

// New creates a Handler. With neither BearerToken nor HMACSecret configured
// authentication is disabled.
func New(ix RowIndexer, cfg Config) *Handler {
	limit := cfg.RateLimit
	if limit <= 0 {
		limit = DefaultRateLimit
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{
		indexer: ix,
		bearer:  cfg.BearerToken,
		quota:   newTableQuota(limit, time.Minute),
		logger:  logger,
	}
	if cfg.HMACSecret != "" {
		h.secret = []byte(cfg.HMACSecret)
	}
	return h
}

// RouteRegistrar is satisfied by *http.ServeMux and by app.HealthServer's
// Handle method.
type RouteRegistrar interface {
	Handle(pattern string, handler http.Handler)
}

// RegisterRoutes mounts the handler, wrapped in the trace middleware.
func (h *Handler) RegisterRoutes(r RouteRegistrar) {
	r.Handle(Path, trace.Middleware(h))
}

// ServeHTTP handles one delivery.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, _ := trace.Ensure(r.Context())
	log := trace.Logger(ctx, h.logger)

	// Read one byte past the cap so oversized bodies are detected.
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		log.Warn("hook: failed to read request body", "err", err)
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}
	if len(body) > maxBodyBytes {
		log.Info("hook: body too large")
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return
	}

	if err := h.authenticate(r, body); err != nil {
		log.Info("hook: auth failed", "err", err)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ev, err := envelope.ParseRowEvent(body)
	if err != nil {
		log.Info("hook: invalid payload", "err", err)
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	if ok, wait := h.quota.take(ev.Table); !ok {
		log.Info("hook: rate limit exceeded", "table", ev.Table, "retry_after", wait)
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(wait)))
		http.Error(w, "too many requests", http.StatusTooManyRequests)
		return
	}

	outcome, err := h.indexer.OnRowInserted(ctx, memory.RowInserted{
		Table:        ev.Table,
		RecordID:     ev.RecordID,
		Content:      ev.Content,
		HasEmbedding: ev.HasEmbedding,
	})
	if err != nil {
		status := StatusFor(err)
		log.Warn("hook: indexing failed",
			"table", ev.Table, "id", ev.RecordID, "status", status, "err", err)
		http.Error(w, http.StatusText(status), status)
		return
	}

	log.Info("hook: row handled",
		"table", ev.Table, "id", ev.RecordID, "outcome", string(outcome))
	writeJSON(w, http.StatusOK, map[string]string{"status": string(outcome)})
}

// StatusFor maps an indexer error to the HTTP status returned to the sender.
func StatusFor(err error) int {
	var ve *memory.ValidationError
	var pr *memory.ProviderError
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &ve):
		return http.StatusBadRequest
	case errors.As(err, &pr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) authenticate(r *http.Request, body []byte) error {
	if h.secret != nil {
		return validateHMAC(r, body, h.secret)
	}
	if h.bearer != "" {
		return validateBearer(r, h.bearer)
	}
	return nil
}

func validateBearer(r *http.Request, want string) error {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return fmt.Errorf("missing or malformed Authorization header")
	}
	token := strings.TrimPrefix(auth, prefix)
	if subtle.ConstantTimeCompare([]byte(token), []byte(want)) != 1 {
		return fmt.Errorf("invalid bearer token")
	}
	return nil
}

func validateHMAC(r *http.Request, body, secret []byte) error {
	sigHdr := r.Header.Get(SignatureHeader)
	if sigHdr == "" {
		return fmt.Errorf("missing %s header", SignatureHeader)
	}
	const prefix = "sha256="
	if !strings.HasPrefix(sigHdr, prefix) {
		return fmt.Errorf("%s must start with %q", SignatureHeader, prefix)
	}
	provided, err := hex.DecodeString(strings.TrimPrefix(sigHdr, prefix))
	if err != nil {
		return fmt.Errorf("invalid hex in %s: %w", SignatureHeader, err)
	}
	if !hmac.Equal(Sign(secret, body), provided) {
		return fmt.Errorf("HMAC signature mismatch")
	}
	return nil
}

// Sign returns the HMAC-SHA256 of body under secret.
func Sign(secret, body []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return mac.Sum(nil)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}
