package http

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/hpatro/valkey-http/internal/command"
	"github.com/hpatro/valkey-http/internal/engine"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRouter(t *testing.T) chi.Router {
	t.Helper()
	m, err := engine.NewMemory(nil, engine.WithBcryptCost(bcrypt.MinCost), engine.WithLogger(testLogger()))
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })

	h := NewCommandHandler(command.NewTranslator(m, testLogger(), nil, nil), testLogger())
	r := chi.NewRouter()
	h.Register(r)
	return r
}

func do(r http.Handler, method, target, body string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(method, target, rd))
	return rec
}

func TestCommandRoutes(t *testing.T) {
	r := newTestRouter(t)

	steps := []struct {
		name       string
		method     string
		target     string
		body       string
		wantStatus int
		wantBody   string
	}{
		{"ping", http.MethodGet, "/ping", "", http.StatusOK, `{"code":"Ok","data":"PONG"}`},
		{"get missing", http.MethodGet, "/item/foo", "", http.StatusOK, `{"code":"Ok","data":null}`},
		{"set", http.MethodPost, "/process", `{"args":"set foo bar"}`, http.StatusOK, `{"code":"Ok","data":null}`},
		{"get via process", http.MethodPost, "/process", `{"args":"get foo"}`, http.StatusOK, `{"code":"Ok","data":"bar"}`},
		{"get via item", http.MethodGet, "/item/foo", "", http.StatusOK, `{"code":"Ok","data":"bar"}`},
		{"delete", http.MethodDelete, "/item/foo", "", http.StatusOK, `{"code":"Ok","data":"1"}`},
		{"delete again", http.MethodDelete, "/item/foo", "", http.StatusOK, `{"code":"Ok","data":"0"}`},
		{"unknown verb", http.MethodPost, "/process", `{"args":"incr foo"}`, http.StatusNotFound, `{"code":"Err","data":null}`},
		{"escaped key", http.MethodPost, "/process", `{"args":"set a/b 1"}`, http.StatusOK, `{"code":"Ok","data":null}`},
		{"escaped key via item", http.MethodGet, "/item/a%2Fb", "", http.StatusOK, `{"code":"Ok","data":"1"}`},
	}

	for _, step := range steps {
		rec := do(r, step.method, step.target, step.body)
		assert.Equal(t, step.wantStatus, rec.Code, step.name)
		assert.JSONEq(t, step.wantBody, rec.Body.String(), step.name)
	}
}

type mockProcessor struct {
	mock.Mock
}

func (m *mockProcessor) Process(ctx context.Context, identity, line string) (command.CommandResponse, error) {
	args := m.Called(ctx, identity, line)
	return args.Get(0).(command.CommandResponse), args.Error(1)
}

func (m *mockProcessor) Execute(ctx context.Context, identity string, cmd command.Command) command.CommandResponse {
	args := m.Called(ctx, identity, cmd)
	return args.Get(0).(command.CommandResponse)
}

func TestProcessRejectsBadBodies(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `set foo bar`},
		{"truncated", `{"args":"set`},
		{"missing args", `{}`},
		{"empty args", `{"args":""}`},
		{"empty body", ``},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			processor := &mockProcessor{}
			h := NewCommandHandler(processor, testLogger())
			r := chi.NewRouter()
			h.Register(r)

			rec := do(r, http.MethodPost, "/process", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), "MALFORMED_REQUEST")
			processor.AssertNotCalled(t, "Process", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestProcessMalformedCommandLine(t *testing.T) {
	r := newTestRouter(t)

	rec := do(r, http.MethodPost, "/process", `{"args":"set foo"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "MALFORMED_REQUEST")
}

func TestProcessCarriesIdentity(t *testing.T) {
	processor := &mockProcessor{}
	processor.On("Execute", mock.Anything, "default", command.Command{Verb: command.VerbGet, Key: "k"}).
		Return(command.Ok("v")).Once()

	h := NewCommandHandler(processor, testLogger())
	r := chi.NewRouter()
	h.Register(r)

	rec := do(r, http.MethodGet, "/item/k", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"code":"Ok","data":"v"}`, rec.Body.String())
	processor.AssertExpectations(t)
}
