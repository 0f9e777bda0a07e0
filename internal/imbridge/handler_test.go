package imbridge

import (
	"context"
	"errors"
	"iter"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wuxing-advisor/server/internal/advisor/model"
)

type sent struct{ from, to, text string }

type fakeNIM struct {
	mu        sync.Mutex
	createErr error
	created   []string
	refreshed []string
	sent      []sent
	sendErr   error
}

func (f *fakeNIM) CreateUser(ctx context.Context, accID, name string) (Credentials, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, accID+"/"+name)
	if f.createErr != nil {
		return Credentials{}, f.createErr
	}
	return Credentials{AccID: accID, Token: "new-token"}, nil
}

func (f *fakeNIM) RefreshToken(ctx context.Context, accID string) (Credentials, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshed = append(f.refreshed, accID)
	return Credentials{AccID: accID, Token: "refreshed-token"}, nil
}

func (f *fakeNIM) SendText(ctx context.Context, from, to, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sent{from, to, text})
	return f.sendErr
}

type scriptedAdvisor struct {
	events []model.Event
	inputs []model.TurnInput
}

func (s *scriptedAdvisor) Respond(ctx context.Context, in model.TurnInput) iter.Seq[model.Event] {
	s.inputs = append(s.inputs, in)
	return func(yield func(model.Event) bool) {
		for _, ev := range s.events {
			if !yield(ev) {
				return
			}
		}
	}
}

func newRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	h.Mount(r)
	return r
}

func post(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, strings.NewReader(body)))
	return rec
}

func TestRegisterCreatesUser(t *testing.T) {
	nim := &fakeNIM{}
	h := newRouter(NewHandler(nim, &scriptedAdvisor{}, "advisor_bot"))

	rec := post(t, h, "/im/register", `{"user_id":" 42 "}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"accid":"user_42","token":"new-token","bot_accid":"advisor_bot"}`, rec.Body.String())
	assert.Equal(t, []string{"user_42/42"}, nim.created)
	assert.Empty(t, nim.refreshed)
}

func TestRegisterRefreshesExistingUser(t *testing.T) {
	nim := &fakeNIM{createErr: &APIError{Code: CodeUserExists, Desc: "already register"}}
	h := newRouter(NewHandler(nim, &scriptedAdvisor{}, "advisor_bot"))

	rec := post(t, h, "/im/register", `{"user_id":"42","name":"Ada"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "refreshed-token")
	assert.Equal(t, []string{"user_42"}, nim.refreshed)
}

func TestRegisterFailures(t *testing.T) {
	nim := &fakeNIM{createErr: errors.New("dial tcp: refused")}
	h := newRouter(NewHandler(nim, &scriptedAdvisor{}, "advisor_bot"))

	assert.Equal(t, http.StatusBadRequest, post(t, h, "/im/register", `nope`).Code)
	assert.Equal(t, http.StatusBadRequest, post(t, h, "/im/register", `{"user_id":"  "}`).Code)
	assert.Equal(t, http.StatusBadGateway, post(t, h, "/im/register", `{"user_id":"42"}`).Code)
	assert.Empty(t, nim.refreshed)
}

func TestCallbackRepliesOnce(t *testing.T) {
	nim := &fakeNIM{}
	adv := &scriptedAdvisor{events: []model.Event{
		model.StatusEvent("Analyzing your question..."),
		model.ContentEvent("Breathe, "),
		model.ContentEvent("then ask."),
		model.DoneEvent(),
	}}
	h := newRouter(NewHandler(nim, adv, "advisor_bot"))

	rec := post(t, h, "/im/callback", `{"fromAccid":"user_42","to":"advisor_bot","type":0,"body":"{\"msg\":\"How do I ask for a raise?\"}"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())

	require.Len(t, adv.inputs, 1)
	assert.Equal(t, "im_user_42", adv.inputs[0].SessionID)
	assert.Equal(t, "How do I ask for a raise?", adv.inputs[0].Query)
	assert.Equal(t, []sent{{"advisor_bot", "user_42", "Breathe, then ask."}}, nim.sent)
}

func TestCallbackBodyShapes(t *testing.T) {
	nim := &fakeNIM{}
	adv := &scriptedAdvisor{events: []model.Event{model.ContentEvent("ok"), model.DoneEvent()}}
	h := newRouter(NewHandler(nim, adv, "advisor_bot"))

	post(t, h, "/im/callback", `{"from":"u1","to":"advisor_bot","type":"0","body":{"msg":"object body"}}`)
	post(t, h, "/im/callback", `{"from":"u2","to":"advisor_bot","body":"plain text"}`)

	require.Len(t, adv.inputs, 2)
	assert.Equal(t, "object body", adv.inputs[0].Query)
	assert.Equal(t, "plain text", adv.inputs[1].Query)
	assert.Len(t, nim.sent, 2)
}

func TestCallbackIgnoresOtherMessages(t *testing.T) {
	nim := &fakeNIM{}
	adv := &scriptedAdvisor{events: []model.Event{model.ContentEvent("ok")}}
	h := newRouter(NewHandler(nim, adv, "advisor_bot"))

	for _, body := range []string{
		`{"from":"u1","to":"someone_else","body":{"msg":"hi"}}`,
		`{"from":"u1","to":"advisor_bot","type":1,"body":{"msg":"picture"}}`,
		`{"from":"u1","to":"advisor_bot","body":{"msg":"   "}}`,
	} {
		rec := post(t, h, "/im/callback", body)
		assert.Equal(t, http.StatusOK, rec.Code)
	}
	assert.Empty(t, adv.inputs)
	assert.Empty(t, nim.sent)

	assert.Equal(t, http.StatusBadRequest, post(t, h, "/im/callback", `{`).Code)
}

func TestCallbackApologisesOnFailure(t *testing.T) {
	nim := &fakeNIM{}
	adv := &scriptedAdvisor{events: []model.Event{model.ErrorEvent("provider down"), model.DoneEvent()}}
	h := newRouter(NewHandler(nim, adv, "advisor_bot"))

	post(t, h, "/im/callback", `{"from":"u1","to":"advisor_bot","body":{"msg":"hi"}}`)
	assert.Equal(t, []sent{{"advisor_bot", "u1", ApologyMessage}}, nim.sent)
}

func TestCallbackSendFailureStillAcknowledges(t *testing.T) {
	nim := &fakeNIM{sendErr: errors.New("timeout")}
	adv := &scriptedAdvisor{events: []model.Event{model.ContentEvent("ok")}}
	h := newRouter(NewHandler(nim, adv, "advisor_bot"))

	rec := post(t, h, "/im/callback", `{"from":"u1","to":"advisor_bot","body":{"msg":"hi"}}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, nim.sent, 1)
}
