package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mohamedyehyamoubarik5566/basira-app/internal/audit"
	"github.com/mohamedyehyamoubarik5566/basira-app/internal/notify"
	"github.com/mohamedyehyamoubarik5566/basira-app/internal/store"
)

var errKeyNotFound = errors.New("key not found")

// KVHandler exposes the raw key-value surface: record access, storage
// stats, backup and restore, plus the notification feed and the
// security trail.
type KVHandler struct {
	store    *store.Store
	notifier *notify.Manager
	recorder *audit.Recorder
	auth     *AuthHandler
	logger   *zap.Logger
}

func NewKVHandler(st *store.Store, notifier *notify.Manager, recorder *audit.Recorder, auth *AuthHandler, logger *zap.Logger) *KVHandler {
	return &KVHandler{
		store:    st,
		notifier: notifier,
		recorder: recorder,
		auth:     auth,
		logger:   logger,
	}
}

func (h *KVHandler) RegisterRoutes(router chi.Router) {
	router.Group(func(r chi.Router) {
		r.Use(h.auth.RequireSession)

		r.Route("/kv", func(r chi.Router) {
			r.Get("/{key}", h.GetValue)
			r.Put("/{key}", h.SetValue)
			r.Delete("/{key}", h.DeleteValue)
		})
		r.Get("/kv-stats", h.Stats)
		r.Post("/backup", h.Backup)
		r.Post("/restore", h.Restore)
		r.Get("/security-log", h.SecurityLog)
	})

	// The notification feed is readable without a session so login
	// failures surface too.
	router.Get("/notifications", h.Notifications)
}

func (h *KVHandler) GetValue(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	var value json.RawMessage
	if !h.store.Get(key, &value) {
		writeJSON(w, http.StatusNotFound, errorResponse(errKeyNotFound, ""))
		return
	}
	writeJSON(w, http.StatusOK, successResponse(value, ""))
}

func (h *KVHandler) SetValue(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	var value json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&value); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse(err, "body must be valid JSON"))
		return
	}

	if !h.store.Set(key, value) {
		writeJSON(w, http.StatusInsufficientStorage, errorResponse(errors.New("write failed"), "value not stored"))
		return
	}
	writeJSON(w, http.StatusOK, successResponse(nil, "value stored"))
}

func (h *KVHandler) DeleteValue(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	if !h.store.Remove(key) {
		writeJSON(w, http.StatusInternalServerError, errorResponse(errors.New("delete failed"), ""))
		return
	}
	writeJSON(w, http.StatusOK, successResponse(nil, "value removed"))
}

func (h *KVHandler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, successResponse(h.store.Stats(), ""))
}

func (h *KVHandler) Backup(w http.ResponseWriter, r *http.Request) {
	includeEncrypted := r.URL.Query().Get("include_encrypted") == "true"
	payload, err := h.store.Backup(includeEncrypted)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse(err, "backup failed"))
		return
	}

	if rec, ok := sessionFromContext(r.Context()); ok {
		h.recorder.Record(audit.EventBackupCreated, audit.Event{
			SessionID: rec.ID,
			UserID:    rec.UserID,
			Details: map[string]interface{}{
				"bytes":             len(payload),
				"include_encrypted": includeEncrypted,
			},
		})
	}

	writeJSON(w, http.StatusOK, successResponse(payload, "backup created"))
}

func (h *KVHandler) Restore(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse(err, "failed to read body"))
		return
	}

	// Accept either a bare payload or a JSON string.
	payload := string(body)
	var quoted string
	if err := json.Unmarshal(body, &quoted); err == nil {
		payload = quoted
	}

	overwrite := r.URL.Query().Get("overwrite") == "true"
	result, err := h.store.Restore(payload, overwrite)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse(err, "restore failed"))
		return
	}

	if rec, ok := sessionFromContext(r.Context()); ok {
		h.recorder.Record(audit.EventBackupRestored, audit.Event{
			SessionID: rec.ID,
			UserID:    rec.UserID,
			Details: map[string]interface{}{
				"restored":  result.Restored,
				"errors":    result.Errors,
				"overwrite": overwrite,
			},
		})
	}

	writeJSON(w, http.StatusOK, successResponse(result, "restore completed"))
}

func (h *KVHandler) SecurityLog(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, successResponse(h.recorder.Trail(), ""))
}

func (h *KVHandler) Notifications(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, successResponse(h.notifier.Feed(), ""))
}
