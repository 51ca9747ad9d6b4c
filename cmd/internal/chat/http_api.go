package chat

import (
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const apiDefaultMaxBodyBytes = 64 << 10

// TokenVerifier maps a bearer token to the authenticated user id.
type TokenVerifier interface {
	VerifyBearer(token string) (userID string, err error)
}

type sendRequest struct {
	BookingID  flexID `json:"booking_id"`
	SenderType string `json:"sender_type"`
	Content    string `json:"content"`
	UserID     flexID `json:"user_id,omitempty"`
}

type readRequest struct {
	MessageID  flexID `json:"message_id"`
	ReaderType string `json:"reader_type"`
	UserID     flexID `json:"user_id,omitempty"`
}

type messageResponse struct {
	ID          string     `json:"id"`
	BookingID   string     `json:"booking_id"`
	SenderID    string     `json:"sender_id"`
	ReceiverID  string     `json:"receiver_id"`
	SenderType  Role       `json:"sender_type"`
	Content     string     `json:"content"`
	CreatedAt   time.Time  `json:"created_at"`
	DeliveredAt *time.Time `json:"delivered_at"`
	IsRead      bool       `json:"is_read"`
	ReadAt      *time.Time `json:"read_at"`
}

type readResponse struct {
	Status    string     `json:"status"`
	MessageID string     `json:"message_id"`
	ReadAt    *time.Time `json:"read_at"`
}

type onlineStatusResponse struct {
	BookingID    string            `json:"booking_id"`
	Participants []ParticipantView `json:"participants"`
}

func toMessageResponse(m Message) messageResponse {
	return messageResponse{
		ID:          m.ID,
		BookingID:   m.ConversationID,
		SenderID:    m.SenderID,
		ReceiverID:  m.ReceiverID,
		SenderType:  m.SenderRole,
		Content:     m.Content,
		CreatedAt:   m.CreatedAt,
		DeliveredAt: m.DeliveredAt,
		IsRead:      m.Read,
		ReadAt:      m.ReadAt,
	}
}

// APIHandler exposes the request/response chat operations over HTTP.
//
// The caller is the verified bearer subject when a TokenVerifier is set. Without one
// (trusted network / dev) the caller is taken from the user_id body field or query parameter.
type APIHandler struct {
	log          *slog.Logger
	svc          *Service
	verifier     TokenVerifier
	maxBodyBytes int64
}

// NewAPIHandler constructs the HTTP API. verifier may be nil.
func NewAPIHandler(log *slog.Logger, svc *Service, verifier TokenVerifier) *APIHandler {
	if log == nil {
		log = slog.Default()
	}
	return &APIHandler{log: log, svc: svc, verifier: verifier, maxBodyBytes: apiDefaultMaxBodyBytes}
}

// Register wires chat routes onto the provided mux.
func (h *APIHandler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("POST /messages/send", h.handleSend)
	mux.HandleFunc("POST /messages/read", h.handleRead)
	mux.HandleFunc("GET /messages/booking/{booking_id}", h.handleConversation)
	mux.HandleFunc("GET /messages/online_status/{booking_id}", h.handleOnlineStatus)
}

// ---- handlers ----

func (h *APIHandler) handleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := decodeJSON(w, r, h.maxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	caller, ok := h.caller(w, r, string(req.UserID))
	if !ok {
		return
	}
	role, err := ParseRole(req.SenderType)
	if err != nil {
		writeOpError(w, err)
		return
	}

	msg, err := h.svc.Send(r.Context(), SendInput{
		ConversationID: string(req.BookingID),
		SenderID:       caller,
		SenderRole:     role,
		Content:        req.Content,
	})
	if err != nil {
		h.logFailure("chat.api.send.fail", err, "booking_id", string(req.BookingID), "user_id", caller)
		writeOpError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toMessageResponse(msg))
}

func (h *APIHandler) handleRead(w http.ResponseWriter, r *http.Request) {
	var req readRequest
	if err := decodeJSON(w, r, h.maxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	caller, ok := h.caller(w, r, string(req.UserID))
	if !ok {
		return
	}
	role, err := ParseRole(req.ReaderType)
	if err != nil {
		writeOpError(w, err)
		return
	}

	msg, err := h.svc.MarkRead(r.Context(), string(req.MessageID), caller, role)
	if err != nil {
		h.logFailure("chat.api.read.fail", err, "message_id", string(req.MessageID), "user_id", caller)
		writeOpError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, readResponse{Status: "ok", MessageID: msg.ID, ReadAt: msg.ReadAt})
}

func (h *APIHandler) handleConversation(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r, r.URL.Query().Get("user_id"))
	if !ok {
		return
	}

	view, err := h.svc.GetConversation(r.Context(), r.PathValue("booking_id"), caller)
	if err != nil {
		h.logFailure("chat.api.conversation.fail", err, "booking_id", r.PathValue("booking_id"), "user_id", caller)
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *APIHandler) handleOnlineStatus(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r, r.URL.Query().Get("user_id"))
	if !ok {
		return
	}

	bookingID := r.PathValue("booking_id")
	participants, err := h.svc.OnlineStatus(r.Context(), bookingID, caller)
	if err != nil {
		h.logFailure("chat.api.online_status.fail", err, "booking_id", bookingID, "user_id", caller)
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, onlineStatusResponse{BookingID: strings.TrimSpace(bookingID), Participants: participants})
}

// ---- helpers ----

// caller resolves the acting user. A claimed id that disagrees with the token is rejected.
func (h *APIHandler) caller(w http.ResponseWriter, r *http.Request, claimed string) (string, bool) {
	claimed = strings.TrimSpace(claimed)

	if h.verifier == nil {
		if claimed == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing user_id")
			return "", false
		}
		return claimed, true
	}

	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return "", false
	}
	uid, err := h.verifier.VerifyBearer(token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid token")
		return "", false
	}
	if claimed != "" && claimed != uid {
		writeError(w, http.StatusForbidden, "forbidden", "user_id does not match token")
		return "", false
	}
	return uid, true
}

func (h *APIHandler) logFailure(msg string, err error, args ...any) {
	args = append(args, "err", err)
	if httpStatus(err) >= http.StatusInternalServerError {
		h.log.Error(msg, args...)
		return
	}
	h.log.Info(msg, args...)
}

// bearerToken reads "Authorization: Bearer <t>", falling back to the token query parameter
// for websocket clients that cannot set headers.
func bearerToken(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if raw != "" {
		parts := strings.SplitN(raw, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}
