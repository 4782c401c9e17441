package upstream

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"keyrelay-go/internal/config"
)

func TestForwardInjectsDefaultModelAndAuth(t *testing.T) {
	t.Parallel()

	var gotAuth, gotModel string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotAuth = r.Header.Get("Authorization")
		gotModel = gjson.GetBytes(body, "model").String()
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	cli := New(config.UpstreamConfig{Endpoint: srv.URL, Model: "relay-default", Timeout: 5 * time.Second})
	resp, err := cli.Forward(context.Background(), []byte(`{"prompt":"hi"}`), "sk-pooled", false)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "Bearer sk-pooled", gotAuth)
	require.Equal(t, "relay-default", gotModel)
}

func TestForwardKeepsCallerModel(t *testing.T) {
	t.Parallel()

	var gotModel string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotModel = gjson.GetBytes(body, "model").String()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cli := New(config.UpstreamConfig{Endpoint: srv.URL, Model: "relay-default"})
	resp, err := cli.Forward(context.Background(), []byte(`{"model":"caller-chosen"}`), "sk-pooled", false)
	require.NoError(t, err)
	resp.Body.Close()

	require.Equal(t, "caller-chosen", gotModel)
}

func TestForwardStreamSetsSSEHeaders(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "text/event-stream", r.Header.Get("Accept"))
		require.True(t, strings.Contains(r.URL.RawQuery, "alt=sse"))
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte("data: {\"chunk\":1}\n\n"))
	}))
	defer srv.Close()

	cli := New(config.UpstreamConfig{Endpoint: srv.URL})
	resp, err := cli.Forward(context.Background(), []byte(`{}`), "sk-pooled", true)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(data), "chunk")
}

func TestForwardTimeoutCoversBodyRead(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		time.Sleep(2 * time.Second) // stall mid-body
	}))
	defer srv.Close()

	cli := New(config.UpstreamConfig{Endpoint: srv.URL, Timeout: 100 * time.Millisecond})
	resp, err := cli.Forward(context.Background(), []byte(`{}`), "sk-pooled", true)
	require.NoError(t, err)
	defer resp.Body.Close()

	_, err = io.ReadAll(resp.Body)
	require.Error(t, err, "deadline must fire while the body is stalled")
}

func TestClassify(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		status int
		body   string
		want   FaultKind
	}{
		{"unauthorized", http.StatusUnauthorized, `{}`, FaultCredential},
		{"forbidden", http.StatusForbidden, `{}`, FaultCredential},
		{"quota exhausted", http.StatusTooManyRequests, `{"error":{"status":"RESOURCE_EXHAUSTED"}}`, FaultCredential},
		{"plain rate limit", http.StatusTooManyRequests, `{"error":{"status":"UNAVAILABLE"}}`, FaultTransient},
		{"bad request", http.StatusBadRequest, `{}`, FaultClient},
		{"server error", http.StatusBadGateway, `{}`, FaultTransient},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			resp := &http.Response{
				StatusCode: tc.status,
				Body:       io.NopCloser(strings.NewReader(tc.body)),
			}
			kind, body := Classify(resp)
			require.Equal(t, tc.want, kind)
			require.Equal(t, tc.body, string(body))
		})
	}
}
