package proxy

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RejectsBadConfig(t *testing.T) {
	_, err := New("not a url", "m")
	assert.Error(t, err)

	_, err = New("https://example.com", "")
	assert.Error(t, err)
}

func TestGateway_Endpoint(t *testing.T) {
	gw, err := New("https://generativelanguage.googleapis.com/", "gemini-2.5-flash")
	require.NoError(t, err)

	assert.Equal(t, "https://generativelanguage.googleapis.com/v1beta/models/gemini-2.5-flash:generateContent", gw.Endpoint())
	assert.Equal(t, gw.Endpoint()+"?key=[REDACTED]", gw.RedactedURL())
}

func TestGateway_StatusText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, "slow down")
	}))
	defer srv.Close()

	gw, err := New(srv.URL, "m")
	require.NoError(t, err)

	res, err := gw.Generate(context.Background(), "k", "hi")
	require.NoError(t, err)
	assert.Equal(t, http.StatusTooManyRequests, res.StatusCode)
	assert.Equal(t, "Too Many Requests", res.StatusText)
	assert.Equal(t, "slow down", string(res.Body))
	assert.False(t, res.OK())
	assert.Greater(t, res.Duration, time.Duration(0))
}

func TestGateway_TimeoutIsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		select {
		case <-time.After(time.Second):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	gw, err := New(srv.URL, "m", WithTimeout(20*time.Millisecond))
	require.NoError(t, err)

	res, err := gw.Generate(context.Background(), "secret-key", "hi")
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "secret-key")
	assert.Zero(t, res.StatusCode)
	assert.Greater(t, res.Duration, time.Duration(0))
}

func TestGateway_ContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The server only notices the client hanging up once the body is consumed.
		_, _ = io.Copy(io.Discard, r.Body)
		select {
		case <-time.After(time.Second):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	gw, err := New(srv.URL, "m")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = gw.Generate(ctx, "k", "hi")
	assert.Error(t, err)
}

func TestRedact(t *testing.T) {
	tests := []struct {
		name, in, secret, want string
	}{
		{"query param", "https://h/x?key=abc&alt=json", "", "https://h/x?key=[REDACTED]&alt=json"},
		{"raw secret", "API key abc invalid", "abc", "API key [REDACTED] invalid"},
		{"escaped secret", `Post "https://h?key=a%2Bb": refused`, "a+b", `Post "https://h?key=[REDACTED]": refused`},
		{"nothing to hide", "plain", "", "plain"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Redact(tt.in, tt.secret))
		})
	}
}

func TestExtractText(t *testing.T) {
	text, err := ExtractText([]byte(candidates("hello")))
	require.NoError(t, err)
	require.NotNil(t, text)
	assert.Equal(t, "hello", *text)

	text, err = ExtractText([]byte(`{"candidates":[{"content":{"parts":[]}}]}`))
	require.NoError(t, err)
	assert.Nil(t, text)

	_, err = ExtractText([]byte("nope"))
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestDetails(t *testing.T) {
	raw, ok := Details([]byte(`{"a":1}`)).(json.RawMessage)
	require.True(t, ok)
	assert.JSONEq(t, `{"a":1}`, string(raw))
	assert.Equal(t, "oops", Details([]byte("oops")))
}
