package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eagleharbor/monitor/internal/config"
)

func TestCompleteJSONRoundTrip(t *testing.T) {
	t.Parallel()

	var gotAuth string
	var gotReq chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		fmt.Fprint(w, `{"choices":[{"message":{"content":"{\"relevance_score\":7}"}}]}`)
	}))
	defer srv.Close()

	c := NewChatClient(config.ClassifierConfig{
		Endpoint: srv.URL,
		Model:    "gpt-4o-mini",
		APIKey:   "sk-test",
		Timeout:  5 * time.Second,
	})

	raw, err := c.CompleteJSON(context.Background(), "system text", "user text")
	require.NoError(t, err)
	assert.JSONEq(t, `{"relevance_score":7}`, string(raw))

	assert.Equal(t, "Bearer sk-test", gotAuth)
	assert.Equal(t, "gpt-4o-mini", gotReq.Model)
	assert.Equal(t, "json_object", gotReq.ResponseFormat.Type)
	require.Len(t, gotReq.Messages, 2)
	assert.Equal(t, "system", gotReq.Messages[0].Role)
	assert.Equal(t, "user text", gotReq.Messages[1].Content)
}

func TestCompleteJSONStatusErrors(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":"rate limited"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewChatClient(config.ClassifierConfig{Endpoint: srv.URL, Model: "m", Timeout: time.Second})

	_, err := c.CompleteJSON(context.Background(), "s", "u")
	require.Error(t, err)
	var se *statusError
	require.ErrorAs(t, err, &se)
	assert.True(t, se.Retryable())
}

func TestCompleteJSONEmptyChoices(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"choices":[]}`)
	}))
	defer srv.Close()

	c := NewChatClient(config.ClassifierConfig{Endpoint: srv.URL, Model: "m", Timeout: time.Second})

	_, err := c.CompleteJSON(context.Background(), "s", "u")
	require.Error(t, err)
}

func TestCompleteJSONRequiresConfiguration(t *testing.T) {
	t.Parallel()
	c := NewChatClient(config.ClassifierConfig{})
	_, err := c.CompleteJSON(context.Background(), "s", "u")
	require.Error(t, err)
}
