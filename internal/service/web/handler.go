package web

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"camrand/internal/shared/logger"
	manager "camrand/rngpool"
	"camrand/rngpool/model"
)

// maxSeedBytes bounds a single external seed submission.
const maxSeedBytes = 64 * 1024

// PipelineController is the slice of the buffer manager the web handlers
// need. Decouples this package from the manager package and lets tests
// substitute mocks.
type PipelineController interface {
	Dequeue(ctx context.Context, byteCount int) ([]byte, error)
	SeedExternal(seed []byte)
	Status() *model.StatusReport
}

type randomResponse struct {
	RandomHex string `json:"random_hex"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type Handler struct {
	controller   PipelineController
	defaultBytes int
}

func NewHandler(controller PipelineController, defaultBytes int) *Handler {
	return &Handler{controller: controller, defaultBytes: defaultBytes}
}

// HandleRandom serves GET /api/random?bytes=N. The response is always
// exactly N bytes of output or a typed error, never a truncated payload.
func (h *Handler) HandleRandom(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	byteCount := h.defaultBytes
	if raw := r.URL.Query().Get("bytes"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "bytes must be a positive integer"})
			return
		}
		byteCount = n
	}

	data, err := h.controller.Dequeue(r.Context(), byteCount)
	if err != nil {
		if errors.Is(err, manager.ErrBufferExhausted) {
			writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "insufficient_source: buffer could not be replenished"})
			return
		}
		l := logger.WithComponent("Web")
		l.Error().Err(err).Msg("Dequeue failed.")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}

	writeJSON(w, http.StatusOK, randomResponse{RandomHex: hex.EncodeToString(data)})
}

// HandleStatus serves GET /api/status.
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, h.controller.Status())
}

// HandleSeed serves POST /api/seed: the request body is folded into the
// next mix call. Additive only, so accepting arbitrary bytes is safe.
func (h *Handler) HandleSeed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	seed, err := io.ReadAll(io.LimitReader(r.Body, maxSeedBytes+1))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to read body"})
		return
	}
	if len(seed) == 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "empty seed"})
		return
	}
	if len(seed) > maxSeedBytes {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "seed too large"})
		return
	}

	h.controller.SeedExternal(seed)
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil && !errors.Is(err, http.ErrHandlerTimeout) {
		l := logger.WithComponent("Web")
		l.Warn().Err(err).Msg("Failed to write JSON response.")
	}
}
