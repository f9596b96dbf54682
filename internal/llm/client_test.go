package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa/internal/domain"
)

func newTestClient(t *testing.T, url string) *Client {
	t.Helper()
	t.Setenv("DOCQA_TEST_KEY", "secret")
	c, err := NewClient(Config{BaseURL: url, APIKeyEnv: "DOCQA_TEST_KEY", Model: "test-model", Timeout: 5 * time.Second})
	require.NoError(t, err)
	return c
}

func Test_NewClient_MissingKey(t *testing.T) {
	_, err := NewClient(Config{APIKeyEnv: "DOCQA_TEST_KEY_UNSET"})
	assert.ErrorIs(t, err, domain.ErrLLMUnavailable)
}

func Test_Client_Answer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var body struct {
			Model    string    `json:"model"`
			Messages []Message `json:"messages"`
		}
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&body)) || !assert.Len(t, body.Messages, 2) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		assert.Equal(t, "test-model", body.Model)
		assert.Contains(t, body.Messages[1].Content, "the cat sat")
		assert.Contains(t, body.Messages[1].Content, "Question: who sat?")

		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":" The cat. "}}]}`))
	}))
	defer srv.Close()

	answer, err := newTestClient(t, srv.URL+"/").Answer(context.Background(), "who sat?", []string{"the cat sat"})
	require.NoError(t, err)
	assert.Equal(t, "The cat.", answer)
}

func Test_Client_RetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer srv.Close()

	answer, err := newTestClient(t, srv.URL).Complete(context.Background(), []Message{{Role: "user", Content: "hi"}})
	require.NoError(t, err)
	assert.Equal(t, "ok", answer)
	assert.Equal(t, int32(2), calls.Load())
}

func Test_Client_ClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).Complete(context.Background(), []Message{{Role: "user", Content: "hi"}})
	assert.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func Test_Client_EmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).Complete(context.Background(), nil)
	assert.Error(t, err)
}

func Test_retryDelay(t *testing.T) {
	assert.Equal(t, 200*time.Millisecond, retryDelay(0))
	assert.Equal(t, 400*time.Millisecond, retryDelay(1))
	assert.Equal(t, 5*time.Second, retryDelay(10))
}

func Test_Client_CancelledContext(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	t.Setenv("DOCQA_TEST_KEY", "secret")
	c, err := NewClient(Config{BaseURL: srv.URL, APIKeyEnv: "DOCQA_TEST_KEY", RequestsPerSecond: 1})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.Answer(ctx, "q", []string{"c"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls.Load())
}
