package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/hpatro/valkey-http/internal/auth"
	"github.com/hpatro/valkey-http/internal/command"
	apierrors "github.com/hpatro/valkey-http/internal/errors"
	"github.com/hpatro/valkey-http/internal/middleware"
)

// CommandProcessor runs command lines against the engine
type CommandProcessor interface {
	Process(ctx context.Context, identity, line string) (command.CommandResponse, error)
	Execute(ctx context.Context, identity string, cmd command.Command) command.CommandResponse
}

// CommandHandler serves the key-value routes
type CommandHandler struct {
	processor CommandProcessor
	validator *middleware.RequestValidator
	logger    *slog.Logger
}

// NewCommandHandler creates a new command handler
func NewCommandHandler(processor CommandProcessor, logger *slog.Logger) *CommandHandler {
	return &CommandHandler{
		processor: processor,
		validator: middleware.NewRequestValidator(logger),
		logger:    logger.With(slog.String("component", "command_handler")),
	}
}

// Register mounts the command routes on r
func (h *CommandHandler) Register(r chi.Router) {
	r.Post("/process", h.Process)
	r.Get("/item/{key}", h.GetItem)
	r.Delete("/item/{key}", h.DeleteItem)
	r.Get("/ping", h.Ping)
}

// Process handles POST /process
func (h *CommandHandler) Process(w http.ResponseWriter, r *http.Request) {
	var req command.CommandRequest
	if apiErr := h.validator.Decode(r, &req); apiErr != nil {
		apierrors.WriteError(w, r, apiErr)
		return
	}

	identity := auth.IdentityFromContext(r.Context())
	resp, err := h.processor.Process(r.Context(), identity, req.Args)
	switch {
	case errors.Is(err, command.ErrUnknownVerb):
		render.Status(r, http.StatusNotFound)
	case errors.Is(err, command.ErrMalformedRequest):
		apierrors.WriteError(w, r, apierrors.MalformedRequestWithError(err))
		return
	}
	h.respond(w, r, resp)
}

// GetItem handles GET /item/{key}
func (h *CommandHandler) GetItem(w http.ResponseWriter, r *http.Request) {
	h.item(w, r, command.VerbGet)
}

// DeleteItem handles DELETE /item/{key}
func (h *CommandHandler) DeleteItem(w http.ResponseWriter, r *http.Request) {
	h.item(w, r, command.VerbDel)
}

func (h *CommandHandler) item(w http.ResponseWriter, r *http.Request, verb command.Verb) {
	key := chi.URLParam(r, "key")
	// chi matches on RawPath when the path holds escapes like %2F
	if r.URL.RawPath != "" {
		if unescaped, err := url.PathUnescape(key); err == nil {
			key = unescaped
		}
	}
	if key == "" {
		apierrors.WriteError(w, r, apierrors.ErrMalformedRequest)
		return
	}

	identity := auth.IdentityFromContext(r.Context())
	resp := h.processor.Execute(r.Context(), identity, command.Command{Verb: verb, Key: key})
	h.respond(w, r, resp)
}

// Ping handles GET /ping without touching the engine
func (h *CommandHandler) Ping(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, command.Ok("PONG"))
}

func (h *CommandHandler) respond(w http.ResponseWriter, r *http.Request, resp command.CommandResponse) {
	if err := render.Render(w, r, resp); err != nil {
		h.logger.ErrorContext(r.Context(), "failed to render response", slog.String("error", err.Error()))
	}
}
