package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/checkout-service/internal/notification"
)

const DefaultKeepAlive = 25 * time.Second

type UnreadCountResponse struct {
	Count int `json:"count"`
}

type MarkAllReadResponse struct {
	Updated int64 `json:"updated"`
}

type NotificationHandler struct {
	service   notification.Service
	keepAlive time.Duration
}

func NewNotificationHandler(service notification.Service, keepAlive time.Duration) *NotificationHandler {
	if keepAlive <= 0 {
		keepAlive = DefaultKeepAlive
	}
	return &NotificationHandler{service: service, keepAlive: keepAlive}
}

func (h *NotificationHandler) RegisterRoutes(router chi.Router) {
	router.Get("/notifications", h.handleList)
	router.Get("/notifications/unread-count", h.handleUnreadCount)
	router.Get("/notifications/stream", h.handleStream)
	router.Post("/notifications/read-all", h.handleMarkAllRead)
	router.Post("/notifications/{id}/read", h.handleMarkRead)
}

func (h *NotificationHandler) handleList(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			respondWithError(w, http.StatusBadRequest, "Invalid limit parameter")
			return
		}
		limit = parsed
	}

	list, err := h.service.List(r.Context(), userIDFrom(r.Context()), limit)
	if err != nil {
		respondWithServiceError(w, err, "Failed to list notifications")
		return
	}
	respondWithJSON(w, http.StatusOK, list)
}

func (h *NotificationHandler) handleUnreadCount(w http.ResponseWriter, r *http.Request) {
	count, err := h.service.UnreadCount(r.Context(), userIDFrom(r.Context()))
	if err != nil {
		respondWithServiceError(w, err, "Failed to count notifications")
		return
	}
	respondWithJSON(w, http.StatusOK, UnreadCountResponse{Count: count})
}

func (h *NotificationHandler) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	idParam := chi.URLParam(r, "id")
	id, err := uuid.FromString(idParam)
	if err != nil {
		log.Warn().Err(err).Str("notification_id", idParam).Msg("handler: failed to parse notification id from URL")
		respondWithError(w, http.StatusBadRequest, "Invalid id parameter")
		return
	}

	if err := h.service.MarkRead(r.Context(), id, userIDFrom(r.Context())); err != nil {
		respondWithServiceError(w, err, "Failed to mark notification read")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *NotificationHandler) handleMarkAllRead(w http.ResponseWriter, r *http.Request) {
	updated, err := h.service.MarkAllRead(r.Context(), userIDFrom(r.Context()))
	if err != nil {
		respondWithServiceError(w, err, "Failed to mark notifications read")
		return
	}
	respondWithJSON(w, http.StatusOK, MarkAllReadResponse{Updated: updated})
}

// handleStream pushes the caller's notifications as server-sent events until
// the client goes away.
func (h *NotificationHandler) handleStream(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)
	// The server write timeout would otherwise cut the stream.
	_ = rc.SetWriteDeadline(time.Time{})

	userID := userIDFrom(r.Context())
	ctx := r.Context()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if _, err := fmt.Fprint(w, ": connected\n\n"); err != nil {
		return
	}
	if err := rc.Flush(); err != nil {
		log.Error().Err(err).Msg("handler: response writer does not support streaming")
		return
	}

	stream := h.service.Subscribe(ctx, userID)
	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	log.Info().Str("user_id", userID).Msg("handler: notification stream opened")
	defer log.Info().Str("user_id", userID).Msg("handler: notification stream closed")

	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-stream:
			if !ok {
				return
			}
			if err := writeEvent(w, n); err != nil {
				log.Warn().Err(err).Str("user_id", userID).Msg("handler: failed to write notification event")
				return
			}
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

func writeEvent(w http.ResponseWriter, n *notification.Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %s\nevent: notification\ndata: %s\n\n", n.ID, data)
	return err
}
