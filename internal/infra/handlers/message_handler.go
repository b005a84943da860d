package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/muratdemir0/gopulse-mailer/api/rest"
	"github.com/muratdemir0/gopulse-mailer/internal/app"
	"github.com/muratdemir0/gopulse-mailer/internal/domain"
)

const maxRequestBody = 1 << 20

type MailerService interface {
	Enqueue(ctx context.Context, params app.NewMessageParams) (domain.Message, error)
	ProcessNow(ctx context.Context) (int, error)
	StartAutoSending() error
	StopAutoSending() error
	AutoSending() bool
	GetMessage(ctx context.Context, id int64) (domain.Message, error)
	ListMessages(ctx context.Context, status domain.MessageStatus, limit, offset uint) ([]domain.Message, error)
	GetReceipt(ctx context.Context, id int64) (domain.Receipt, error)
}

type MessageHandler struct {
	service MailerService
	logger  *slog.Logger
}

func (h *MessageHandler) Enqueue(w http.ResponseWriter, r *http.Request) {
	var req rest.EnqueueMessageRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		Error(w, r, http.StatusBadRequest, "Invalid request body")
		return
	}

	message, err := h.service.Enqueue(r.Context(), app.NewMessageParams{
		Recipient: req.Recipient,
		Subject:   req.Subject,
		Body:      req.Body,
	})
	if errors.Is(err, domain.ErrInvalidMessage) {
		ErrorWithCode(w, r, http.StatusUnprocessableEntity, err.Error(), "invalid_message")
		return
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "Error enqueueing message", "error", err)
		Error(w, r, http.StatusInternalServerError, "Failed to enqueue message")
		return
	}

	JSON(w, r, http.StatusCreated, rest.ToMessageResponse(message))
}

func (h *MessageHandler) ProcessNow(w http.ResponseWriter, r *http.Request) {
	sent, err := h.service.ProcessNow(r.Context())
	if errors.Is(err, app.ErrRunInProgress) {
		ErrorWithCode(w, r, http.StatusConflict, "A queue run is already in progress", "run_in_progress")
		return
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "Error processing queue", "error", err)
		Error(w, r, http.StatusInternalServerError, "Failed to process queue")
		return
	}

	JSON(w, r, http.StatusOK, rest.ProcessResponse{Sent: sent})
}

func (h *MessageHandler) StartAutoSending(w http.ResponseWriter, r *http.Request) {
	if err := h.service.StartAutoSending(); err != nil {
		Error(w, r, http.StatusInternalServerError, "Failed to start automatic message sending")
		return
	}

	JSON(w, r, http.StatusOK, map[string]interface{}{
		"message": "Automatic message sending started",
		"status":  sendingStatus(h.service.AutoSending()),
	})
}

func (h *MessageHandler) StopAutoSending(w http.ResponseWriter, r *http.Request) {
	if err := h.service.StopAutoSending(); err != nil {
		Error(w, r, http.StatusInternalServerError, "Failed to stop automatic message sending")
		return
	}

	JSON(w, r, http.StatusOK, map[string]interface{}{
		"message": "Automatic message sending stopped",
		"status":  sendingStatus(h.service.AutoSending()),
	})
}

func (h *MessageHandler) SendingStatus(w http.ResponseWriter, r *http.Request) {
	JSON(w, r, http.StatusOK, map[string]interface{}{
		"status": sendingStatus(h.service.AutoSending()),
	})
}

func sendingStatus(running bool) string {
	if running {
		return "active"
	}
	return "inactive"
}

func (h *MessageHandler) GetMessages(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	status := domain.MessageStatusSent
	if s := query.Get("status"); s != "" {
		status = domain.MessageStatus(s)
		if !status.Valid() {
			Error(w, r, http.StatusBadRequest, "Invalid status parameter")
			return
		}
	}

	limit, ok := parseUint(query.Get("limit"), app.DefaultListLimit)
	if !ok {
		Error(w, r, http.StatusBadRequest, "Invalid limit parameter")
		return
	}
	offset, ok := parseUint(query.Get("offset"), 0)
	if !ok {
		Error(w, r, http.StatusBadRequest, "Invalid offset parameter")
		return
	}

	messages, err := h.service.ListMessages(r.Context(), status, limit, offset)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "Error listing messages", "error", err)
		Error(w, r, http.StatusInternalServerError, "Failed to retrieve messages")
		return
	}

	messageResponses := rest.ToMessageResponses(messages)
	JSON(w, r, http.StatusOK, rest.MessagesListResponse{
		Messages: messageResponses,
		Count:    len(messageResponses),
	})
}

func (h *MessageHandler) GetMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		Error(w, r, http.StatusBadRequest, "Invalid message id")
		return
	}

	message, err := h.service.GetMessage(r.Context(), id)
	if errors.Is(err, domain.ErrMessageNotFound) {
		Error(w, r, http.StatusNotFound, "Message not found")
		return
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "Error retrieving message", "message_id", id, "error", err)
		Error(w, r, http.StatusInternalServerError, "Failed to retrieve message")
		return
	}

	JSON(w, r, http.StatusOK, rest.ToMessageResponse(message))
}

func (h *MessageHandler) GetReceipt(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		Error(w, r, http.StatusBadRequest, "Invalid message id")
		return
	}

	receipt, err := h.service.GetReceipt(r.Context(), id)
	switch {
	case errors.Is(err, domain.ErrMessageNotFound):
		Error(w, r, http.StatusNotFound, "Message not found")
		return
	case errors.Is(err, domain.ErrReceiptNotFound):
		ErrorWithCode(w, r, http.StatusNotFound, "Message has not been sent", "not_sent")
		return
	case err != nil:
		h.logger.ErrorContext(r.Context(), "Error retrieving receipt", "message_id", id, "error", err)
		Error(w, r, http.StatusInternalServerError, "Failed to retrieve receipt")
		return
	}

	JSON(w, r, http.StatusOK, rest.ToReceiptResponse(receipt))
}

func RegisterMessageHandler(mux *http.ServeMux, service MailerService, logger *slog.Logger) {
	h := &MessageHandler{
		service: service,
		logger:  logger.With(slog.String("component", "message_handler")),
	}

	mux.HandleFunc("POST /messages", h.Enqueue)
	mux.HandleFunc("GET /messages", h.GetMessages)
	mux.HandleFunc("GET /messages/{id}", h.GetMessage)
	mux.HandleFunc("GET /messages/{id}/receipt", h.GetReceipt)
	mux.HandleFunc("POST /messages/process", h.ProcessNow)
	mux.HandleFunc("POST /messages/start", h.StartAutoSending)
	mux.HandleFunc("POST /messages/stop", h.StopAutoSending)
	mux.HandleFunc("GET /messages/sending", h.SendingStatus)
}

func parseUint(s string, def uint) (uint, bool) {
	if s == "" {
		return def, true
	}
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, false
	}
	return uint(v), true
}

func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
