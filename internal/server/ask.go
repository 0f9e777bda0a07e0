package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/wuxing-advisor/server/internal/advisor/model"
	logx "github.com/wuxing-advisor/server/pkg/logger"
)

type askRequest struct {
	Query     string            `json:"query"`
	SessionID string            `json:"session_id"`
	Birth     *model.BirthInput `json:"bazi_data,omitempty"`
	Locale    string            `json:"user_state,omitempty"`
}

type askHandler struct {
	advisor  Responder
	maxQuery int
}

func newAskHandler(advisor Responder, maxQuery int) *askHandler {
	return &askHandler{advisor: advisor, maxQuery: maxQuery}
}

// ServeHTTP streams the answer as server-sent events. Request problems are
// reported in-stream as an error event followed by [DONE]; a blank query is
// passed through and the advisor answers it the same way.
func (h *askHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	req, reqErr := decodeAsk(r)
	if reqErr == nil && h.maxQuery > 0 && utf8.RuneCountInString(req.Query) > h.maxQuery {
		reqErr = fmt.Errorf("query must be at most %d characters", h.maxQuery)
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.Header().Set("X-Session-ID", req.SessionID)
	w.WriteHeader(http.StatusOK)

	sse := newEventWriter(w)
	if reqErr != nil {
		logx.Debug().Err(reqErr).Str("session_id", req.SessionID).Msg("Rejected ask request")
		for _, ev := range []model.Event{model.ErrorEvent(reqErr.Error()), model.DoneEvent()} {
			if err := sse.Write(ev); err != nil {
				return
			}
		}
		return
	}

	in := model.TurnInput{
		SessionID: req.SessionID,
		Query:     req.Query,
		Birth:     req.Birth,
		Locale:    req.Locale,
	}
	for ev := range h.advisor.Respond(r.Context(), in) {
		if err := sse.Write(ev); err != nil {
			logx.Debug().Err(err).Str("session_id", req.SessionID).Msg("Client went away mid-stream")
			return
		}
	}
}

// decodeAsk accepts a JSON body or form fields. In form mode bazi_data is a
// JSON string and is ignored when it does not parse.
func decodeAsk(r *http.Request) (askRequest, error) {
	var req askRequest
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "application/json" {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return req, errors.New("invalid request body")
		}
	} else {
		if err := r.ParseMultipartForm(1 << 20); err != nil && !errors.Is(err, http.ErrNotMultipart) {
			return req, errors.New("invalid form body")
		}
		req.Query = r.FormValue("query")
		req.SessionID = r.FormValue("session_id")
		req.Locale = r.FormValue("user_state")
		if raw := strings.TrimSpace(r.FormValue("bazi_data")); raw != "" {
			var birth model.BirthInput
			if err := json.Unmarshal([]byte(raw), &birth); err != nil {
				logx.Warn().Err(err).Msg("Ignoring unreadable bazi_data")
			} else {
				req.Birth = &birth
			}
		}
	}
	req.SessionID = strings.TrimSpace(req.SessionID)
	req.Locale = strings.TrimSpace(req.Locale)
	if req.Birth.Empty() {
		req.Birth = nil
	}
	return req, nil
}
