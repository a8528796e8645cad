// Package command turns gateway command lines into engine calls and maps the
// results onto the uniform CommandResponse shape shared by HTTP and WebSocket.
package command

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrMalformedRequest is returned for empty lines and missing or extra tokens
	ErrMalformedRequest = errors.New("command: malformed request")

	// ErrUnknownVerb is returned for verbs other than set, get and del
	ErrUnknownVerb = errors.New("command: unknown verb")
)

// Code is the outcome reported in a CommandResponse
type Code string

const (
	CodeOk         Code = "Ok"
	CodeErr        Code = "Err"
	CodeNotFound   Code = "NotFound"
	CodeNotAllowed Code = "NotAllowed"
)

// CommandResponse is the single result shape returned by every entry point.
// Data is null for writes and errors.
type CommandResponse struct {
	Code Code    `json:"code"`
	Data *string `json:"data"`
}

// Render implements the render.Renderer interface for chi/render
func (c CommandResponse) Render(w http.ResponseWriter, r *http.Request) error {
	return nil
}

// Ok builds a successful response carrying data
func Ok(data string) CommandResponse {
	return CommandResponse{Code: CodeOk, Data: &data}
}

// Empty builds a data-less response with code
func Empty(code Code) CommandResponse {
	return CommandResponse{Code: code}
}

// CommandRequest is the JSON body of POST /process
type CommandRequest struct {
	Args string `json:"args" validate:"required"`
}

// Verb names a supported operation
type Verb string

const (
	VerbSet Verb = "set"
	VerbGet Verb = "get"
	VerbDel Verb = "del"
)

// Command is a parsed command line
type Command struct {
	Verb  Verb
	Key   string
	Value string
}

// String renders the command back into a command line
func (c Command) String() string {
	if c.Verb == VerbSet {
		return fmt.Sprintf("%s %s %s", c.Verb, c.Key, c.Value)
	}
	return fmt.Sprintf("%s %s", c.Verb, c.Key)
}

// Parse tokenizes a command line of the form "<verb> <key> [<value>]".
// Tokens are separated by runs of whitespace and the verb is case-insensitive.
// For set, every token after the key is joined with single spaces into the value.
func Parse(line string) (Command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Command{}, fmt.Errorf("%w: empty command", ErrMalformedRequest)
	}

	verb := Verb(strings.ToLower(fields[0]))
	switch verb {
	case VerbSet:
		if len(fields) < 3 {
			return Command{}, fmt.Errorf("%w: set needs a key and a value", ErrMalformedRequest)
		}
		return Command{Verb: verb, Key: fields[1], Value: strings.Join(fields[2:], " ")}, nil

	case VerbGet, VerbDel:
		if len(fields) != 2 {
			return Command{}, fmt.Errorf("%w: %s needs exactly one key", ErrMalformedRequest, verb)
		}
		return Command{Verb: verb, Key: fields[1]}, nil

	default:
		return Command{}, fmt.Errorf("%w %q", ErrUnknownVerb, fields[0])
	}
}
