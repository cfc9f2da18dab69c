package anthropic

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tokenscope/pkg/contract"
)

func TestCompleteOK(t *testing.T) {
	var got request
	var hdr http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hdr = r.Header.Clone()
		assert.Equal(t, "/v1/messages", r.URL.Path)
		b, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(b, &got)
		_, _ = io.WriteString(w, `{"content":[{"type":"text","text":"{\"explanation\":"},{"type":"text","text":"\"ok\"}"}]}`)
	}))
	defer srv.Close()

	c, err := New("claude-x", "key-1", json.RawMessage(`{"base_url":"`+srv.URL+`"}`), nil)
	require.NoError(t, err)
	raw, err := c.Complete(context.Background(), contract.ChatPrompt{
		{Role: "system", Content: "be terse"},
		{Role: "user", Content: "stats"},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"explanation":"ok"}`, raw.Text)
	assert.Equal(t, "key-1", hdr.Get("x-api-key"))
	assert.Equal(t, defaultVersion, hdr.Get("anthropic-version"))
	assert.Equal(t, "be terse", got.System)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "user", got.Messages[0].Role)
	assert.Equal(t, 1024, got.MaxTokens)
}

func TestCompleteErrors(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"auth", http.StatusUnauthorized, `{}`, contract.ErrBackendAuth},
		{"overloaded", 529, `{}`, contract.ErrBackendUnavailable},
		{"rate", http.StatusTooManyRequests, `{}`, contract.ErrRateLimited},
		{"malformed", http.StatusOK, `not json`, contract.ErrResponseInvalid},
		{"empty", http.StatusOK, `{"content":[]}`, contract.ErrResponseInvalid},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = io.WriteString(w, tc.body)
			}))
			defer srv.Close()
			c, err := New("m", "k", json.RawMessage(`{"base_url":"`+srv.URL+`"}`), nil)
			require.NoError(t, err)
			_, err = c.Complete(context.Background(), contract.TextPrompt("x"))
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestNewMissingKey(t *testing.T) {
	_, err := New("m", " ", nil, nil)
	assert.ErrorIs(t, err, contract.ErrConfiguration)
}
