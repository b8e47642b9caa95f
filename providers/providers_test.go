package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPageSpeed(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "https://example.com/", r.URL.Query().Get("url"))
		assert.Equal(t, "mobile", r.URL.Query().Get("strategy"))
		assert.Equal(t, "secret", r.URL.Query().Get("key"))
		_, _ = w.Write([]byte(`{"lighthouseResult":{"categories":{"performance":{"score":0.876}},"audits":{"speed-index":{"displayValue":"2.4 s"}}}}`))
	}))
	defer ts.Close()

	speed, err := NewPageSpeed("secret", ts.URL, time.Second).Speed(context.Background(), "https://example.com/", "")
	require.NoError(t, err)
	assert.Equal(t, Speed{Score: 88, LoadTime: "2.4 s"}, speed)
}

func TestPageSpeed_Failures(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("url") {
		case "https://quota.example/":
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":{"message":"Quota exceeded"}}`))
		case "https://slow.example/":
			time.Sleep(200 * time.Millisecond)
		default:
			_, _ = w.Write([]byte(`{"lighthouseResult":{}}`))
		}
	}))
	defer ts.Close()

	ps := NewPageSpeed("secret", ts.URL, 50*time.Millisecond)

	_, err := ps.Speed(context.Background(), "https://quota.example/", "desktop")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Quota exceeded")

	_, err = ps.Speed(context.Background(), "https://slow.example/", "mobile")
	assert.Error(t, err)

	_, err = ps.Speed(context.Background(), "https://empty.example/", "mobile")
	assert.Error(t, err)

	_, err = NewPageSpeed("", ts.URL, time.Second).Speed(context.Background(), "https://example.com/", "")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestCompletion(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))

		var req struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req.Model)
		require.Len(t, req.Messages, 2)
		assert.LessOrEqual(t, len(req.Messages[1].Content), ExcerptChars+100)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","choices":[{"index":0,"finish_reason":"stop",` +
			`"message":{"role":"assistant","content":"1. Add an FAQ section\n- Use bulleted lists\n\n* **Shorten the title**\n"}}]}`))
	}))
	defer ts.Close()

	c := NewCompletion("key", ts.URL+"/v1", "test-model", time.Second)
	recs, err := c.Recommend(context.Background(), strings.Repeat("text ", 2000))
	require.NoError(t, err)
	assert.Equal(t, []string{"Add an FAQ section", "Use bulleted lists", "Shorten the title"}, recs)
}

func TestCompletion_Failures(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
	}))
	defer ts.Close()

	_, err := NewCompletion("key", ts.URL+"/v1", "", time.Second).Recommend(context.Background(), "text")
	assert.Error(t, err)

	_, err = NewCompletion("", ts.URL+"/v1", "", time.Second).Recommend(context.Background(), "text")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestParseLines(t *testing.T) {
	content := "1) one\n2. two\n• three\n-four\n\nfive\nsix\nseven\neight"
	assert.Equal(t, []string{"one", "two", "three", "four", "five", "six", "seven"}, ParseLines(content, 7))
	assert.Empty(t, ParseLines("\n  \n", 7))
}

func TestExcerpt(t *testing.T) {
	assert.Equal(t, "abc", Excerpt("abc", 10))
	assert.Equal(t, "ab", Excerpt("abcdef", 2))
	assert.Equal(t, "caf", Excerpt("café", 4))
	assert.Len(t, CannedRecommendations, 5)
}
