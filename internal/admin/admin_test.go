package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flymqtt/internal/config"
	"flymqtt/internal/engine"
	"flymqtt/internal/protocol"
	"flymqtt/internal/session"
)

type stubController struct {
	listeners []config.ListenerConfig
}

func (c *stubController) Listeners() []config.ListenerConfig { return c.listeners }

func (c *stubController) StopListener(port int) bool {
	for i, l := range c.listeners {
		if l.Port == port {
			c.listeners = append(c.listeners[:i], c.listeners[i+1:]...)
			return true
		}
	}
	return false
}

func newTestAPI(t *testing.T) (*httptest.Server, *engine.Engine, *session.Registry) {
	t.Helper()

	registry := session.NewRegistry()
	eng := engine.New(registry, 64)
	eng.SetListenerController(&stubController{listeners: []config.ListenerConfig{
		{Name: "tcp-default", Protocol: config.ProtocolTCP, Host: "0.0.0.0", Port: 1883},
		{Name: "ws-default", Protocol: config.ProtocolWS, Host: "0.0.0.0", Port: 8083},
	}})
	ctx, cancel := context.WithCancel(context.Background())
	go eng.Run(ctx)

	srv := NewServer(config.AdminConfig{Enabled: true, Addr: ":0"}, eng)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		cancel()
	})
	return ts, eng, registry
}

func addSession(t *testing.T, eng *engine.Engine, registry *session.Registry, clientID string) {
	t.Helper()
	mailbox := make(chan session.Delivery, 4)
	eng.SubmitLifecycle(engine.Connect{
		Packet:  protocol.Connect{ClientID: clientID, CleanSession: true},
		Port:    1883,
		Mailbox: mailbox,
	})
	require.Eventually(t, func() bool {
		return registry.GetSession(clientID) != nil
	}, 2*time.Second, 5*time.Millisecond)
}

func TestGetClients(t *testing.T) {
	ts, eng, registry := newTestAPI(t)
	for _, id := range []string{"a", "b", "c"} {
		addSession(t, eng, registry, id)
	}

	resp, err := http.Get(ts.URL + "/api/v1/clients?page=0&size=2")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var page struct {
		Content []struct {
			ClientID    string `json:"client_id"`
			ConnectedAt string `json:"connected_at"`
		} `json:"content"`
		Page          int `json:"page"`
		Size          int `json:"size"`
		TotalElements int `json:"total_elements"`
		TotalPages    int `json:"total_pages"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&page))
	assert.Len(t, page.Content, 2)
	assert.Equal(t, 3, page.TotalElements)
	assert.Equal(t, 2, page.TotalPages)
	assert.Equal(t, "a", page.Content[0].ClientID)

	// Timestamp uses the admin format, not RFC 3339.
	_, err = time.Parse("2006-01-02 15:04:05", page.Content[0].ConnectedAt)
	assert.NoError(t, err)
}

func TestGetClientsDefaults(t *testing.T) {
	ts, _, _ := newTestAPI(t)

	resp, err := http.Get(ts.URL + "/api/v1/clients?page=-3&size=bogus")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var page map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&page))
	assert.Equal(t, float64(0), page["page"])
	assert.Equal(t, float64(defaultPageSize), page["size"])
}

func TestGetListeners(t *testing.T) {
	ts, _, _ := newTestAPI(t)

	resp, err := http.Get(ts.URL + "/api/v1/listeners")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var listeners []config.ListenerConfig
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&listeners))
	require.Len(t, listeners, 2)
	assert.Equal(t, "tcp-default", listeners[0].Name)
	assert.Equal(t, 1883, listeners[0].Port)
}

func TestStopListener(t *testing.T) {
	ts, _, _ := newTestAPI(t)

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/api/v1/listeners/8083", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// A second delete finds nothing.
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStopListenerBadPort(t *testing.T) {
	ts, _, _ := newTestAPI(t)

	for _, raw := range []string{"abc", "-1", "99999", ""} {
		req, err := http.NewRequest(http.MethodDelete, ts.URL+"/api/v1/listeners/"+raw, nil)
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "port %q", raw)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	ts, _, _ := newTestAPI(t)

	resp, err := http.Post(ts.URL+"/api/v1/clients", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp, err = http.Post(ts.URL+"/api/v1/listeners", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
