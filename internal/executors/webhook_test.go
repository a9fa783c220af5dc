package executors

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/avi3tal/stepflow/internal/execution"
	"github.com/avi3tal/stepflow/internal/types"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"
)

func TestWebhook(t *testing.T) {
	t.Parallel()

	var (
		got  webhookPayload
		auth string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/json":
			body, _ := io.ReadAll(r.Body)
			_ = json.Unmarshal(body, &got)
			auth = r.Header.Get("Authorization")
			w.Header().Set("X-Trace", "abc")
			_, _ = w.Write([]byte(`{"ok":true}`))
		case "/text":
			_, _ = w.Write([]byte("plain"))
		default:
			http.Error(w, "nope", http.StatusBadGateway)
		}
	}))
	t.Cleanup(srv.Close)

	hook := NewWebhook(srv.Client())
	run := func(path, method string) (execution.Outcome, error) {
		return hook.Execute(context.Background(),
			task("r1", "w", types.StepWebhook, map[string]any{
				"url":     srv.URL + path,
				"method":  method,
				"headers": map[string]any{"Authorization": "Bearer t0k"},
			},
				execution.Input{Port: "in", Source: "a", Value: "hello"}), nil)
	}

	out, err := run("/json", "post")
	require.NoError(t, err)
	resp := out.Output.(WebhookResponse)
	require.Equal(t, http.StatusOK, resp.Status)
	require.Equal(t, map[string]any{"ok": true}, resp.Body)
	require.Equal(t, "abc", resp.Header["X-Trace"])
	require.Equal(t, "Bearer t0k", auth)
	require.Equal(t, webhookPayload{RunID: "r1", NodeID: "w", Inputs: map[string]any{"a": "hello"}}, got)

	out, err = run("/text", "GET")
	require.NoError(t, err)
	require.Equal(t, "plain", out.Output.(WebhookResponse).Body)

	_, err = run("/fail", "POST")
	require.ErrorContains(t, err, "502")
}
