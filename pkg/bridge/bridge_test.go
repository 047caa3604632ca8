package bridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/gowrm/pkg/config"
	"github.com/itohio/gowrm/pkg/module"
	"github.com/itohio/gowrm/pkg/monitor"
	"github.com/itohio/gowrm/pkg/protocol"
)

// fakeDevice records commands; when offline every send fails as a real link would.
type fakeDevice struct {
	offline bool
	port    string
	openErr error
	sent    []protocol.CommandFrame
}

func (d *fakeDevice) Connect() error                  { return d.Open("") }
func (d *fakeDevice) Close() error                    { d.offline = true; return nil }
func (d *fakeDevice) Readings() <-chan module.Reading { return nil }
func (d *fakeDevice) IsConnected() bool               { return !d.offline }
func (d *fakeDevice) Port() string                    { return d.port }

func (d *fakeDevice) Open(port string) error {
	if d.openErr != nil {
		return d.openErr
	}
	if port != "" {
		d.port = port
	}
	d.offline = false
	return nil
}

func (d *fakeDevice) SendCommand(kind protocol.Kind, cmd protocol.Command, arg uint16) error {
	if d.offline {
		return fmt.Errorf("%w: not connected", module.ErrLinkUnavailable)
	}
	d.sent = append(d.sent, protocol.CommandFrame{Kind: kind, Command: cmd, Arg: arg})
	return nil
}

func newTestServer(t *testing.T, dev Link) (*httptest.Server, *monitor.Monitor) {
	t.Helper()
	ts, _, mon := newTestBridge(t, dev, nil)
	return ts, mon
}

// newTestBridge serves a bridge whose port enumeration returns ports.
func newTestBridge(t *testing.T, dev Link, ports []module.Port) (*httptest.Server, *Bridge, *monitor.Monitor) {
	t.Helper()
	mon := monitor.New(10)
	b := New(dev, mon, zerolog.Nop())
	b.ports = func() ([]module.Port, error) { return ports, nil }
	ts := httptest.NewServer(b.Handler())
	t.Cleanup(ts.Close)
	return ts, b, mon
}

func wsURL(ts *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + path
}

func testRequest(t *testing.T, ts *httptest.Server, method, path string, body io.Reader) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequest(method, ts.URL+path, body)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(respBody)
}

func TestHealth(t *testing.T) {
	ts, _ := newTestServer(t, &fakeDevice{})
	resp, _ := testRequest(t, ts, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestReadings(t *testing.T) {
	ts, mon := newTestServer(t, &fakeDevice{})
	mon.Add(module.Reading{Kind: protocol.PH, Value: 7.0, Raw: 70, Timestamp: time.Now()})
	mon.Add(module.Reading{Kind: protocol.PH, Value: 7.2, Raw: 72, Timestamp: time.Now()})

	resp, body := testRequest(t, ts, http.MethodGet, "/api/readings", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var snap []monitor.Summary
	require.NoError(t, json.Unmarshal([]byte(body), &snap))
	require.Len(t, snap, 1)
	assert.Equal(t, protocol.PH, snap[0].Kind)
	assert.Equal(t, 2, snap[0].Count)
	assert.InDelta(t, 7.2, snap[0].Last, 1e-9)
	assert.Contains(t, body, `"kind":"ph"`)

	resp, body = testRequest(t, ts, http.MethodGet, "/api/readings/pH", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var history []module.Reading
	require.NoError(t, json.Unmarshal([]byte(body), &history))
	assert.Len(t, history, 2)

	resp, _ = testRequest(t, ts, http.MethodGet, "/api/readings/chlorine", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCommands(t *testing.T) {
	tests := []struct {
		name       string
		offline    bool
		body       string
		wantStatus int
		wantSent   []protocol.CommandFrame
	}{
		{
			name:       "tds calibrate with number",
			body:       `{"kind":"tds","command":"calibrate","value":707}`,
			wantStatus: http.StatusAccepted,
			wantSent:   []protocol.CommandFrame{{Kind: protocol.TDS, Command: protocol.Calibrate, Arg: 7070}},
		},
		{
			name:       "tds calibrate with text",
			body:       `{"kind":"tds","command":"calibrate","value":"1413.5"}`,
			wantStatus: http.StatusAccepted,
			wantSent:   []protocol.CommandFrame{{Kind: protocol.TDS, Command: protocol.Calibrate, Arg: 14135}},
		},
		{
			name:       "ph advanced mode",
			body:       `{"kind":"ph","command":"set-mode","value":true}`,
			wantStatus: http.StatusAccepted,
			wantSent:   []protocol.CommandFrame{{Kind: protocol.PH, Command: protocol.SetMode, Arg: 0x0100}},
		},
		{
			name:       "ph reset",
			body:       `{"kind":"ph","command":"reset"}`,
			wantStatus: http.StatusAccepted,
			wantSent:   []protocol.CommandFrame{{Kind: protocol.PH, Command: protocol.Reset}},
		},
		{
			name:       "non numeric reference",
			body:       `{"kind":"tds","command":"calibrate","value":"lots"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "unknown kind",
			body:       `{"kind":"chlorine","command":"reset"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "unknown command",
			body:       `{"kind":"ph","command":"explode"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "malformed body",
			body:       `{"kind":`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "link unavailable",
			offline:    true,
			body:       `{"kind":"ph","command":"calibrate"}`,
			wantStatus: http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := &fakeDevice{offline: tt.offline}
			ts, _ := newTestServer(t, dev)

			resp, body := testRequest(t, ts, http.MethodPost, "/api/commands", strings.NewReader(tt.body))
			assert.Equal(t, tt.wantStatus, resp.StatusCode, body)
			assert.Equal(t, tt.wantSent, dev.sent)
		})
	}
}

func TestStream(t *testing.T) {
	ts, mon := newTestServer(t, &fakeDevice{})
	mon.Add(module.Reading{Kind: protocol.Temperature, Value: 21.5, Timestamp: time.Now()})

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "/ws"), nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	var snap struct {
		Type string            `json:"type"`
		Data []monitor.Summary `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&snap))
	assert.Equal(t, "snapshot", snap.Type)
	require.Len(t, snap.Data, 1)
	assert.Equal(t, protocol.Temperature, snap.Data[0].Kind)

	mon.Add(module.Reading{Kind: protocol.TDS, Value: 707, Raw: 7070, Timestamp: time.Now()})

	var msg struct {
		Type string         `json:"type"`
		Data module.Reading `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "reading", msg.Type)
	assert.Equal(t, protocol.TDS, msg.Data.Kind)
	assert.Equal(t, uint16(7070), msg.Data.Raw)
}

func TestValueText(t *testing.T) {
	assert.Equal(t, "", valueText(nil))
	assert.Equal(t, "707.5", valueText(707.5))
	assert.Equal(t, "707", valueText(707.0))
	assert.Equal(t, "1", valueText(true))
	assert.Equal(t, "0", valueText(false))
	assert.Equal(t, "basic", valueText("basic"))
}

func TestPorts(t *testing.T) {
	ports := []module.Port{
		{Name: "/dev/ttyACM0", Description: "/dev/ttyACM0 (USB 2341:0043 Uno)", USB: true},
		{Name: "/dev/ttyS0", Description: "/dev/ttyS0"},
	}
	ts, _, _ := newTestBridge(t, &fakeDevice{}, ports)

	resp, body := testRequest(t, ts, http.MethodGet, "/api/ports", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got []module.Port
	require.NoError(t, json.Unmarshal([]byte(body), &got))
	assert.Equal(t, ports, got)
	assert.Contains(t, body, `"usb":true`)
}

func TestPorts_EnumerationFails(t *testing.T) {
	ts, b, _ := newTestBridge(t, &fakeDevice{}, nil)
	b.ports = func() ([]module.Port, error) { return nil, errors.New("no permission") }

	resp, _ := testRequest(t, ts, http.MethodGet, "/api/ports", nil)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestOpenLink_Errors(t *testing.T) {
	tests := []struct {
		name       string
		openErr    error
		body       string
		wantStatus int
	}{
		{"port missing", fmt.Errorf("%w: no such port", module.ErrLinkUnavailable), `{"port":"COM9"}`, http.StatusServiceUnavailable},
		{"stopped", module.ErrLinkStopped, `{}`, http.StatusServiceUnavailable},
		{"already connected", errors.New("already connected"), `{}`, http.StatusInternalServerError},
		{"malformed body", nil, `{"port":`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := &fakeDevice{offline: true, port: "COM1", openErr: tt.openErr}
			ts, _ := newTestServer(t, dev)

			resp, body := testRequest(t, ts, http.MethodPost, "/api/link", strings.NewReader(tt.body))
			assert.Equal(t, tt.wantStatus, resp.StatusCode, body)
			assert.Equal(t, "COM1", dev.port)
		})
	}
}

func TestLinkLifecycle_Mock(t *testing.T) {
	cfg := config.Default()
	cfg.Link.Interval = 10 * time.Millisecond
	mock := module.NewMock(cfg, zerolog.Nop())

	var opened []string
	link := module.NewLink("mock0", 10, func(port string) module.Device {
		opened = append(opened, port)
		return mock
	}, zerolog.Nop())
	defer link.Stop()

	ts, mon := newTestServer(t, link)

	var st LinkStatus
	resp, body := testRequest(t, ts, http.MethodGet, "/api/link", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal([]byte(body), &st))
	assert.Equal(t, LinkStatus{Port: "mock0", Connected: false}, st)

	resp, _ = testRequest(t, ts, http.MethodPost, "/api/commands", strings.NewReader(`{"kind":"ph","command":"reset"}`))
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp, body = testRequest(t, ts, http.MethodPost, "/api/link", strings.NewReader(`{"port":"mock1"}`))
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	require.NoError(t, json.Unmarshal([]byte(body), &st))
	assert.Equal(t, LinkStatus{Port: "mock1", Connected: true}, st)
	assert.Equal(t, []string{"mock1"}, opened)

	select {
	case r := <-link.Readings():
		assert.True(t, r.Kind.Valid())
	case <-time.After(2 * time.Second):
		t.Fatal("no reading after open")
	}

	resp, _ = testRequest(t, ts, http.MethodPost, "/api/commands", strings.NewReader(`{"kind":"ph","command":"reset"}`))
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	mon.Add(module.Reading{Kind: protocol.PH, Value: 7.0, Timestamp: time.Now()})
	resp, body = testRequest(t, ts, http.MethodDelete, "/api/link", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal([]byte(body), &st))
	assert.Equal(t, LinkStatus{Port: "mock1", Connected: false}, st)
	assert.False(t, mock.IsConnected())
	assert.Empty(t, mon.Snapshot())

	// An empty body reopens the selected port.
	resp, _ = testRequest(t, ts, http.MethodPost, "/api/link", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"mock1", "mock1"}, opened)
	assert.True(t, link.IsConnected())
}

func TestStream_SnapshotPrecedesBroadcast(t *testing.T) {
	h := newHub()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		_, _ = h.join(conn, func() Message {
			// A reading published while the snapshot is being built must
			// not overtake it.
			go h.broadcast(Message{Type: "reading"})
			time.Sleep(50 * time.Millisecond)
			return Message{Type: "snapshot"}
		})
	}))
	defer ts.Close()
	defer h.closeAll()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "/"), nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	var first, second Message
	require.NoError(t, conn.ReadJSON(&first))
	require.NoError(t, conn.ReadJSON(&second))
	assert.Equal(t, "snapshot", first.Type)
	assert.Equal(t, "reading", second.Type)
}
