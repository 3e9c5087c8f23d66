package main

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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) (*Service, *httptest.Server) {
	ctx, cancel := context.WithCancel(context.Background())
	s, err := NewService(DefaultConfig(), prometheus.NewRegistry())
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- s.Driver.Run(ctx) }()
	require.True(t, s.Driver.Wait(time.Second))

	server := httptest.NewServer(s.Handler(ctx))
	t.Cleanup(func() {
		server.Close()
		cancel()
		<-done
	})
	return s, server
}

// post sends the op and returns the status and the decoded reply.
func post(t *testing.T, server *httptest.Server, op string) (int, map[string]interface{}) {
	resp, err := http.Post(server.URL+"/api", "application/json", strings.NewReader(op))
	require.NoError(t, err)
	defer resp.Body.Close()
	bs, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var reply map[string]interface{}
	require.NoError(t, json.Unmarshal(bs, &reply), string(bs))
	return resp.StatusCode, reply
}

func TestAPI(t *testing.T) {
	_, server := newTestService(t)

	status, reply := post(t, server, `{"register":{"id":"on","source":"(ext:value == 'on')","doc":"Switch"}}`)
	require.Equal(t, http.StatusOK, status, reply)
	assert.Equal(t, "on", reply["register"].(map[string]interface{})["id"])

	status, _ = post(t, server, `{"put":{"path":"value","value":"on"}}`)
	require.Equal(t, http.StatusOK, status)

	status, reply = post(t, server, `{"evaluate":{"id":"on"}}`)
	require.Equal(t, http.StatusOK, status, reply)
	u := reply["evaluate"].(map[string]interface{})["update"].(map[string]interface{})
	assert.Equal(t, "TRUE", u["result"])

	status, reply = post(t, server, `{"list":{}}`)
	require.Equal(t, http.StatusOK, status)
	xs := reply["list"].(map[string]interface{})["expressions"].([]interface{})
	require.Len(t, xs, 1)
	assert.Equal(t, "(ext:value == 'on')", xs[0].(map[string]interface{})["source"])

	status, _ = post(t, server, `{"unregister":"on"}`)
	require.Equal(t, http.StatusOK, status)

	status, reply = post(t, server, `{"get":{"id":"on"}}`)
	assert.Equal(t, http.StatusNotFound, status)
	assert.NotEmpty(t, reply["err"])
}

func TestAPIErrors(t *testing.T) {
	_, server := newTestService(t)

	tests := []struct {
		description string
		op          string
		status      int
	}{
		{description: "not json", op: `{`, status: http.StatusBadRequest},
		{description: "no op", op: `{}`, status: http.StatusUnprocessableEntity},
		{description: "syntax", op: `{"register":{"id":"x","source":"(1 +"}}`, status: http.StatusBadRequest},
		{description: "bad id", op: `{"register":{"id":"a.b","source":"true"}}`, status: http.StatusBadRequest},
		{description: "unknown sensor", op: `{"register":{"id":"x","source":"nope:value"}}`, status: http.StatusUnprocessableEntity},
		{description: "unknown path", op: `{"put":{"path":"nope","value":1}}`, status: http.StatusBadRequest},
		{description: "unknown registration", op: `{"put":{"path":"value","value":1,"for":"nope"}}`, status: http.StatusBadRequest},
		{description: "unknown id", op: `{"evaluate":{"id":"nope"}}`, status: http.StatusNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.description, func(t *testing.T) {
			status, reply := post(t, server, tc.op)
			assert.Equal(t, tc.status, status, reply)
		})
	}

	resp, err := http.Get(server.URL + "/api")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestAPILimits(t *testing.T) {
	s, server := newTestService(t)

	source := strings.Repeat("(", MaxRequestBytes)
	status, reply := post(t, server, `{"register":{"id":"big","source":"`+source+`"}}`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, status, reply)

	source = strings.Repeat("!", 4096) + "true"
	status, reply = post(t, server, `{"register":{"id":"deep","source":"`+source+`"}}`)
	assert.Equal(t, http.StatusBadRequest, status, reply)
	assert.Contains(t, reply["err"], "too deep")

	assert.Empty(t, s.Driver.List(context.Background()))
}

func TestDocPage(t *testing.T) {
	s, server := newTestService(t)
	_, err := s.Driver.Register(context.Background(), "hot", "(ext:value > 5)", "It's *hot*.")
	require.NoError(t, err)

	resp, err := http.Get(server.URL + "/doc")
	require.NoError(t, err)
	defer resp.Body.Close()
	bs, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	page := string(bs)
	assert.Contains(t, page, `id="hot"`)
	assert.Contains(t, page, "<em>hot</em>")
	assert.Contains(t, page, `class="mermaid"`)
}

func TestMetrics(t *testing.T) {
	s, server := newTestService(t)
	_, err := s.Driver.Register(context.Background(), "t", "true", "")
	require.NoError(t, err)

	resp, err := http.Get(server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	bs, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(bs), "swan_driver_")
}

func TestWebsocket(t *testing.T) {
	_, server := newTestService(t)

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.WriteMessage(websocket.TextMessage,
		[]byte(`{"register":{"id":"w","source":"(1 < 2)"}}`)))

	// Expect the op and an update, in either order.
	var sawOp, sawUpdate bool
	require.NoError(t, c.SetReadDeadline(time.Now().Add(5*time.Second)))
	for !(sawOp && sawUpdate) {
		_, bs, err := c.ReadMessage()
		require.NoError(t, err)
		var msg map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(bs, &msg))
		if js, have := msg["op"]; have && bytes.Contains(js, []byte(`"register"`)) {
			sawOp = true
		}
		if js, have := msg["update"]; have && bytes.Contains(js, []byte(`"TRUE"`)) {
			sawUpdate = true
		}
	}
}
