package command

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hpatro/valkey-http/internal/engine"
	"github.com/hpatro/valkey-http/internal/infrastructure"
)

// Translator dispatches parsed commands to the engine.
// Every call is one synchronous round-trip; nothing is retried.
type Translator struct {
	engine  engine.Executor
	logger  *slog.Logger
	metrics *infrastructure.GatewayMetrics
	tracer  trace.Tracer
}

// NewTranslator creates a Translator. A nil tracer falls back to the global provider.
func NewTranslator(exec engine.Executor, logger *slog.Logger, metrics *infrastructure.GatewayMetrics, tracer trace.Tracer) *Translator {
	if tracer == nil {
		tracer = otel.Tracer(infrastructure.MeterName)
	}
	return &Translator{
		engine:  exec,
		logger:  infrastructure.WithComponent(logger, "command.translator"),
		metrics: metrics,
		tracer:  tracer,
	}
}

// Process parses line and executes it as identity. The error is non-nil only
// for ErrMalformedRequest and ErrUnknownVerb; the response is then {Err, null}
// so callers that do not distinguish can send it as is.
func (t *Translator) Process(ctx context.Context, identity, line string) (CommandResponse, error) {
	cmd, err := Parse(line)
	if err != nil {
		t.logger.DebugContext(ctx, "rejected command line",
			slog.String("identity", identity),
			slog.String("error", err.Error()))
		return Empty(CodeErr), err
	}
	return t.Execute(ctx, identity, cmd), nil
}

// Execute runs a parsed command and maps the engine result
func (t *Translator) Execute(ctx context.Context, identity string, cmd Command) CommandResponse {
	ctx, span := t.tracer.Start(ctx, "command."+string(cmd.Verb),
		trace.WithAttributes(
			attribute.String("command.verb", string(cmd.Verb)),
			attribute.String("command.identity", identity),
		))
	defer span.End()

	start := time.Now()
	var resp CommandResponse
	switch cmd.Verb {
	case VerbSet:
		resp = t.set(ctx, identity, cmd)
	case VerbGet:
		resp = t.get(ctx, identity, cmd)
	case VerbDel:
		resp = t.del(ctx, identity, cmd)
	default:
		resp = Empty(CodeErr)
	}

	span.SetAttributes(attribute.String("command.code", string(resp.Code)))
	if resp.Code != CodeOk {
		span.SetStatus(codes.Error, string(resp.Code))
	}
	t.metrics.RecordCommand(ctx, string(cmd.Verb), string(resp.Code), time.Since(start).Seconds())
	return resp
}

func (t *Translator) set(ctx context.Context, identity string, cmd Command) CommandResponse {
	if _, err := t.engine.Execute(ctx, identity, "SET", cmd.Key, cmd.Value); err != nil {
		return t.failure(ctx, cmd, err)
	}
	return Empty(CodeOk)
}

func (t *Translator) get(ctx context.Context, identity string, cmd Command) CommandResponse {
	reply, err := t.engine.Execute(ctx, identity, "GET", cmd.Key)
	if errors.Is(err, engine.ErrNil) {
		return Empty(CodeOk)
	}
	if err != nil {
		return t.failure(ctx, cmd, err)
	}
	if reply.Value == nil {
		return Empty(CodeOk)
	}
	return Ok(lossyUTF8(*reply.Value))
}

// del reports "0" without deleting when the key is absent. Once the key is
// known to exist the answer is "1" even if the delete itself fails.
func (t *Translator) del(ctx context.Context, identity string, cmd Command) CommandResponse {
	reply, err := t.engine.Execute(ctx, identity, "EXISTS", cmd.Key)
	if err != nil {
		return t.failure(ctx, cmd, err)
	}
	if reply.Int == 0 {
		return Ok("0")
	}
	if _, err := t.engine.Execute(ctx, identity, "DEL", cmd.Key); err != nil {
		t.logger.WarnContext(ctx, "delete failed after key was found",
			slog.String("key", cmd.Key),
			slog.String("error", err.Error()))
	}
	return Ok("1")
}

func (t *Translator) failure(ctx context.Context, cmd Command, err error) CommandResponse {
	if errors.Is(err, engine.ErrNotAllowed) {
		t.logger.InfoContext(ctx, "command refused by engine",
			slog.String("verb", string(cmd.Verb)),
			slog.String("error", err.Error()))
		return Empty(CodeNotAllowed)
	}
	t.logger.ErrorContext(ctx, "engine command failed",
		slog.String("verb", string(cmd.Verb)),
		slog.String("error", err.Error()))
	return Empty(CodeErr)
}

// lossyUTF8 replaces each maximal invalid subsequence of s with U+FFFD, so
// "\xff\xff" becomes two replacement characters and a truncated sequence
// becomes one.
func lossyUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 8)
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if r != utf8.RuneError || size > 1 {
			b.WriteString(s[i : i+size])
			i += size
			continue
		}
		b.WriteRune(utf8.RuneError)
		i += invalidPrefixLen(s[i:])
	}
	return b.String()
}

// invalidPrefixLen is the length of the ill-formed prefix of s: the lead byte
// plus every continuation byte that could still have completed it.
func invalidPrefixLen(s string) int {
	lo, hi := byte(0x80), byte(0xBF)
	var need int
	switch lead := s[0]; {
	case lead >= 0xC2 && lead <= 0xDF:
		need = 1
	case lead == 0xE0:
		need, lo = 2, 0xA0
	case lead == 0xED:
		need, hi = 2, 0x9F
	case lead >= 0xE1 && lead <= 0xEF:
		need = 2
	case lead == 0xF0:
		need, lo = 3, 0x90
	case lead == 0xF4:
		need, hi = 3, 0x8F
	case lead >= 0xF1 && lead <= 0xF3:
		need = 3
	default:
		return 1
	}

	n := 1
	for n <= need && n < len(s) && s[n] >= lo && s[n] <= hi {
		n++
		lo, hi = 0x80, 0xBF
	}
	return n
}
