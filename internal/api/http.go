package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"espvote/internal/cache"
	"espvote/internal/codec"
	"espvote/internal/espctl"
	"espvote/internal/logs"
	"espvote/internal/middleware"
	"espvote/internal/models"
	"espvote/internal/repo"

	"github.com/gorilla/mux"
)

const maxBody = 1 << 20

type HTTP struct {
	store   *repo.Store
	coord   *espctl.Coordinator
	devices *cache.Devices
	debug   bool
}

func NewHTTP(store *repo.Store, coord *espctl.Coordinator, devices *cache.Devices, debug bool) *HTTP {
	return &HTTP{store: store, coord: coord, devices: devices, debug: debug}
}

func (h *HTTP) RegisterRoutes(r *mux.Router) {
	// devices
	// GET /devices?filter=unassigned|assigned
	r.HandleFunc("/devices", h.listDevices).Methods(http.MethodGet)
	r.HandleFunc("/devices/all", h.listAllDevices).Methods(http.MethodGet)
	r.HandleFunc("/devices/unregister-all", h.unregisterAll).Methods(http.MethodPost)
	r.HandleFunc("/devices/{id:[0-9]+}/unregister", h.unregisterDevice).Methods(http.MethodPost)

	// assignment
	// POST /assign { username, deviceId }
	r.HandleFunc("/assign", h.assign).Methods(http.MethodPost)
	// POST /unassign { deviceId }
	r.HandleFunc("/unassign", h.unassign).Methods(http.MethodPost)
	r.HandleFunc("/unassign-all", h.unassignAll).Methods(http.MethodPost)
	r.HandleFunc("/voters/{id:[0-9]+}", h.getVoter).Methods(http.MethodGet)

	// topics
	// POST /topics { title, description, startTime, endTime }
	r.HandleFunc("/topics", h.createTopic).Methods(http.MethodPost)
	r.HandleFunc("/topics", h.listTopics).Methods(http.MethodGet)
	r.HandleFunc("/topics/active", h.activeTopic).Methods(http.MethodGet)
	r.HandleFunc("/topics/{id:[0-9]+}", h.getTopic).Methods(http.MethodGet)

	// votes
	r.HandleFunc("/votes/by-voter/{voterId:[0-9]+}", h.votesByVoter).Methods(http.MethodGet)
	r.HandleFunc("/votes/{topicId:[0-9]+}", h.votesByTopic).Methods(http.MethodGet)

	if h.debug {
		r.HandleFunc("/debug/reset", h.debugReset).Methods(http.MethodPost)
		r.HandleFunc("/debug/seed", h.debugSeed).Methods(http.MethodPost)
	}
}

// ── helpers ─────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError: Decode/Validation/Conflict → 400, NotFound → 404, PreconditionFailed → 409, прочее → 500.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, codec.ErrDecode):
		models.WriteProblem(w, http.StatusBadRequest, "decode_error", err.Error(), nil)
	case errors.Is(err, codec.ErrValidation):
		models.WriteProblem(w, http.StatusBadRequest, "validation_error", err.Error(), nil)
	case errors.Is(err, repo.ErrConflict):
		models.WriteProblem(w, http.StatusBadRequest, "conflict", err.Error(), nil)
	case errors.Is(err, repo.ErrNotFound):
		models.WriteProblem(w, http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, repo.ErrPreconditionFailed):
		models.WriteProblem(w, http.StatusConflict, "precondition_failed", err.Error(), nil)
	default:
		logs.Logger.WithError(err).WithField("request_id", middleware.RequestIDFromContext(r.Context())).
			Errorf("%s %s failed", r.Method, r.URL.Path)
		models.WriteProblem(w, http.StatusInternalServerError, "internal_error", "internal server error", nil)
	}
}

// readObject читает тело как JSON-объект и проверяет обязательные поля (NonEmpty).
func readObject(r *http.Request, required ...string) (codec.Object, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", codec.ErrDecode, err)
	}
	obj, err := codec.Decode(body)
	if err != nil {
		return nil, err
	}
	if err := codec.Require(obj, required, codec.NonEmpty); err != nil {
		return nil, err
	}
	return obj, nil
}

func uintField(obj codec.Object, key string) (uint, error) {
	v, ok := obj.Uint(key)
	if !ok || v == 0 {
		return 0, fmt.Errorf("%w: %s must be a positive integer", codec.ErrValidation, key)
	}
	return v, nil
}

func pathID(r *http.Request, name string) (uint, error) {
	v, err := strconv.ParseUint(mux.Vars(r)[name], 10, 64)
	if err != nil || v == 0 {
		return 0, fmt.Errorf("%w: invalid %s", codec.ErrValidation, name)
	}
	return uint(v), nil
}

var timeLayouts = []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02T15:04:05", "2006-01-02 15:04"}

// parseTime принимает RFC3339 или "YYYY-MM-DD HH:MM:SS" (UTC).
func parseTime(obj codec.Object, key string) (time.Time, error) {
	s := strings.TrimSpace(obj.String(key))
	for _, l := range timeLayouts {
		if t, err := time.Parse(l, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %s: unsupported time format %q", codec.ErrValidation, key, s)
}
