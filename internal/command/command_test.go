package command

import (
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		want    Command
		wantErr error
	}{
		{name: "set", line: "set foo bar", want: Command{Verb: VerbSet, Key: "foo", Value: "bar"}},
		{name: "set with spaces in value", line: "set foo hello  big   world", want: Command{Verb: VerbSet, Key: "foo", Value: "hello big world"}},
		{name: "get", line: "get foo", want: Command{Verb: VerbGet, Key: "foo"}},
		{name: "del", line: "del foo", want: Command{Verb: VerbDel, Key: "foo"}},
		{name: "verb is case insensitive", line: "GET foo", want: Command{Verb: VerbGet, Key: "foo"}},
		{name: "surrounding whitespace", line: "  \tget   foo \n", want: Command{Verb: VerbGet, Key: "foo"}},
		{name: "empty", line: "", wantErr: ErrMalformedRequest},
		{name: "blank", line: "   ", wantErr: ErrMalformedRequest},
		{name: "set without value", line: "set foo", wantErr: ErrMalformedRequest},
		{name: "set without key", line: "set", wantErr: ErrMalformedRequest},
		{name: "get without key", line: "get", wantErr: ErrMalformedRequest},
		{name: "get with extra token", line: "get foo bar", wantErr: ErrMalformedRequest},
		{name: "del with extra token", line: "del a b", wantErr: ErrMalformedRequest},
		{name: "unknown verb", line: "incr foo", wantErr: ErrUnknownVerb},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.line)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCommandString(t *testing.T) {
	assert.Equal(t, "set k v w", Command{Verb: VerbSet, Key: "k", Value: "v w"}.String())
	assert.Equal(t, "del k", Command{Verb: VerbDel, Key: "k"}.String())
}

func TestCommandResponseJSON(t *testing.T) {
	b, err := json.Marshal(Empty(CodeErr))
	require.NoError(t, err)
	assert.JSONEq(t, `{"code":"Err","data":null}`, string(b))

	b, err = json.Marshal(Ok("PONG"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"code":"Ok","data":"PONG"}`, string(b))
}
