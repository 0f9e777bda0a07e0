package imbridge

import (
	"context"
	"encoding/json"
	"errors"
	"iter"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/wuxing-advisor/server/internal/advisor/model"
	logx "github.com/wuxing-advisor/server/pkg/logger"
)

// ApologyMessage is sent when a turn produced no answer.
const ApologyMessage = "Sorry, something went wrong. Please try again."

// Responder streams the answer to one question.
type Responder interface {
	Respond(ctx context.Context, in model.TurnInput) iter.Seq[model.Event]
}

// Messenger is the subset of Client the handler needs.
type Messenger interface {
	CreateUser(ctx context.Context, accID, name string) (Credentials, error)
	RefreshToken(ctx context.Context, accID string) (Credentials, error)
	SendText(ctx context.Context, from, to, text string) error
}

type Handler struct {
	nim      Messenger
	advisor  Responder
	bot      string
	validate *validator.Validate
}

func NewHandler(nim Messenger, advisor Responder, botAccID string) *Handler {
	return &Handler{nim: nim, advisor: advisor, bot: botAccID, validate: validator.New()}
}

// Mount registers /im/register and /im/callback.
func (h *Handler) Mount(r chi.Router) {
	r.Route("/im", func(r chi.Router) {
		r.Post("/register", h.Register)
		r.Post("/callback", h.Callback)
	})
}

type registerRequest struct {
	UserID string `json:"user_id" validate:"required,max=64"`
	Name   string `json:"name" validate:"max=64"`
}

type registerResponse struct {
	AccID    string `json:"accid"`
	Token    string `json:"token"`
	BotAccID string `json:"bot_accid"`
}

// Register creates the NIM account user_<id>, or refreshes its token when it already exists.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Invalid JSON"})
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if err := h.validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "user_id is required and at most 64 characters"})
		return
	}
	name := req.Name
	if name == "" {
		name = req.UserID
	}

	accID := "user_" + req.UserID
	creds, err := h.nim.CreateUser(r.Context(), accID, name)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Code == CodeUserExists {
		creds, err = h.nim.RefreshToken(r.Context(), accID)
		if err == nil {
			logx.Info().Str("accid", accID).Msg("Refreshed IM token")
		}
	} else if err == nil {
		logx.Info().Str("accid", accID).Msg("Created IM user")
	}
	if err != nil {
		logx.Error().Err(err).Str("accid", accID).Msg("IM registration failed")
		writeJSON(w, http.StatusBadGateway, map[string]any{"error": "IM registration failed"})
		return
	}

	writeJSON(w, http.StatusOK, registerResponse{AccID: accID, Token: creds.Token, BotAccID: h.bot})
}

// callbackEvent is the NIM message copy. type and body arrive as either strings or JSON values.
type callbackEvent struct {
	FromAccID string          `json:"fromAccid"`
	From      string          `json:"from"`
	To        string          `json:"to"`
	Type      json.RawMessage `json:"type"`
	Body      json.RawMessage `json:"body"`
}

func (e callbackEvent) sender() string {
	if e.FromAccID != "" {
		return e.FromAccID
	}
	return e.From
}

func (e callbackEvent) isText() bool {
	t := strings.Trim(strings.TrimSpace(string(e.Type)), `"`)
	return t == "" || t == "0" || t == "null"
}

// text reads body.msg; a body that is not a JSON object is the message itself.
func (e callbackEvent) text() string {
	raw := e.Body
	var s string
	if json.Unmarshal(raw, &s) == nil {
		raw = json.RawMessage(s)
	}
	var body struct {
		Msg string `json:"msg"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(body.Msg)
}

// Callback answers text messages addressed to the bot with one reply.
// Anything else is acknowledged and ignored.
func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	var ev callbackEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "Invalid JSON"})
		return
	}

	from := ev.sender()
	text := ev.text()
	switch {
	case ev.To != h.bot:
		logx.Debug().Str("to", ev.To).Msg("IM message not addressed to the bot")
	case !ev.isText():
		logx.Debug().Str("type", string(ev.Type)).Msg("Skipping non-text IM message")
	case from == "" || text == "":
		logx.Debug().Str("from", from).Msg("Skipping empty IM message")
	default:
		h.reply(r.Context(), from, text)
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) reply(ctx context.Context, accID, text string) {
	in := model.TurnInput{SessionID: "im_" + accID, Query: text}
	answer, failed := drain(h.advisor.Respond(ctx, in))
	if answer == "" {
		if !failed {
			return
		}
		answer = ApologyMessage
	}
	if err := h.nim.SendText(ctx, h.bot, accID, answer); err != nil {
		logx.Error().Err(err).Str("accid", accID).Msg("Failed to send IM reply")
		return
	}
	logx.Info().Str("accid", accID).Int("length", len(answer)).Msg("Sent IM reply")
}

// drain concatenates content events and reports whether an error event was seen.
func drain(events iter.Seq[model.Event]) (string, bool) {
	var b strings.Builder
	failed := false
	for ev := range events {
		switch ev.Kind {
		case model.EventContent:
			b.WriteString(ev.Content)
		case model.EventError:
			failed = true
		}
	}
	return b.String(), failed
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logx.Warn().Err(err).Msg("Failed to write response body")
	}
}
