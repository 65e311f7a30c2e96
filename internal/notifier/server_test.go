package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/retrosoft-labs/retrosoft/internal/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "webhook-secret"

func newTestServer(t *testing.T, m *metrics.Metrics) (*Server, *httptest.Server) {
	t.Helper()
	s, err := NewServer(testSecret, WithMetrics(m))
	require.NoError(t, err)
	ts := httptest.NewServer(s.Routes())
	t.Cleanup(func() {
		s.Hub().Close()
		ts.Close()
	})
	return s, ts
}

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func dial(t *testing.T, s *Server, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	before := s.Hub().Count()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.Eventually(t, func() bool { return s.Hub().Count() == before+1 }, 5*time.Second, 10*time.Millisecond)
	return conn
}

func postWebhook(t *testing.T, ts *httptest.Server, body []byte, signature string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, ts.URL+"/github-webhook", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-GitHub-Event", "push")
	if signature != "" {
		req.Header.Set(SignatureHeader, signature)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestNewServer_RequiresSecret(t *testing.T) {
	_, err := NewServer("")
	assert.Error(t, err)
}

func TestWebhook_BroadcastsToAllClients(t *testing.T) {
	s, ts := newTestServer(t, nil)
	a := dial(t, s, ts)
	b := dial(t, s, ts)

	body := []byte(`{"ref":"refs/heads/main","after":"abc123"}`)
	resp := postWebhook(t, ts, body, Sign([]byte(testSecret), body))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var status map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.Equal(t, "ok", status["status"])

	for _, conn := range []*websocket.Conn{a, b} {
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		var msg Message
		require.NoError(t, conn.ReadJSON(&msg))
		assert.Equal(t, TypeUpdate, msg.Type)
		assert.JSONEq(t, string(body), string(msg.Data))
	}
}

func TestWebhook_InvalidSignatureRejectedBeforeParsing(t *testing.T) {
	m := metrics.New()
	_, ts := newTestServer(t, m)

	resp := postWebhook(t, ts, []byte("{not json"), "sha256=deadbeef")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = postWebhook(t, ts, []byte(`{"ok":true}`), "")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	metricsResp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer metricsResp.Body.Close()
	text, err := io.ReadAll(metricsResp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(text), `retrosoft_webhooks_total{result="rejected"} 2`)
}

func TestWebhook_MalformedJSON(t *testing.T) {
	_, ts := newTestServer(t, nil)
	body := []byte("{not json")
	resp := postWebhook(t, ts, body, Sign([]byte(testSecret), body))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealthz(t *testing.T) {
	_, ts := newTestServer(t, nil)
	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMetricsDisabled(t *testing.T) {
	_, ts := newTestServer(t, nil)
	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHub_DropsSlowClients(t *testing.T) {
	h := NewHub(nil, nil)
	c := &client{send: make(chan []byte, 1)}
	h.register(c)

	assert.Equal(t, 1, h.Broadcast([]byte("one")))
	assert.Equal(t, 0, h.Broadcast([]byte("two")))
	assert.Equal(t, 0, h.Count())

	_, open := <-c.send
	assert.True(t, open, "buffered message is still delivered")
	_, open = <-c.send
	assert.False(t, open, "send channel is closed once dropped")
}

func TestListenAndServe_StopsOnCancel(t *testing.T) {
	s, err := NewServer(testSecret)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.ListenAndServe(ctx, "127.0.0.1:0") }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not shut down")
	}
}
