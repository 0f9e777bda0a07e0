package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/wuxing-advisor/server/internal/advisor/model"
)

// eventWriter frames events as "data: <json>\n\n" and flushes after each one.
type eventWriter struct {
	w  http.ResponseWriter
	rc *http.ResponseController
}

func newEventWriter(w http.ResponseWriter) *eventWriter {
	return &eventWriter{w: w, rc: http.NewResponseController(w)}
}

func (e *eventWriter) Write(ev model.Event) error {
	var payload []byte
	if ev.Kind == model.EventDone {
		payload = []byte(model.DoneMarker)
	} else {
		b, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		payload = b
	}
	if _, err := fmt.Fprintf(e.w, "data: %s\n\n", payload); err != nil {
		return err
	}
	if err := e.rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return err
	}
	return nil
}
