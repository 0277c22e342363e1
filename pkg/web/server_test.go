package web

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teslashibe/go-rover/pkg/odometry"
	"github.com/teslashibe/go-rover/pkg/platform"
	"github.com/teslashibe/go-rover/pkg/protocol"
	"github.com/teslashibe/go-rover/pkg/switchboard"
)

// stubPlatform returns canned results and records calls.
type stubPlatform struct {
	moveErr   error
	statusErr error
	radius    float64
	proto     protocol.Protocol

	moves []protocol.MoveCommand
}

func (p *stubPlatform) Move(_ context.Context, cmd protocol.MoveCommand) (*platform.Result, error) {
	if err := cmd.Validate(); err != nil {
		return nil, &platform.ValidationError{Err: err}
	}
	if p.moveErr != nil {
		return nil, p.moveErr
	}
	p.moves = append(p.moves, cmd)
	return &platform.Result{Status: "success", Position: platform.Position{X: 0.06}, Direction: string(cmd.Direction)}, nil
}

func (p *stubPlatform) Stop(context.Context) (*platform.Result, error) {
	return &platform.Result{}, nil
}

func (p *stubPlatform) Status(context.Context) (*protocol.StatusReply, error) {
	if p.statusErr != nil {
		return nil, p.statusErr
	}
	return &protocol.StatusReply{Status: "ok", CurrentDirection: "stop"}, nil
}

func (p *stubPlatform) Info(context.Context) (*protocol.InfoReply, error) {
	return &protocol.InfoReply{Status: "ok", PlatformName: "stub"}, nil
}

func (p *stubPlatform) Position() platform.PositionReport {
	return platform.PositionReport{X: 1, Y: 2, DistanceTravelled: 3, Angle: 45}
}

func (p *stubPlatform) History() []platform.HistoryEntry {
	return []platform.HistoryEntry{{Direction: protocol.Forward, Speed: 100}}
}

func (p *stubPlatform) ResetPose() platform.Result { return platform.Result{} }

func (p *stubPlatform) SetWheelRadius(r float64) error {
	if r < odometry.MinWheelRadius || r > odometry.MaxWheelRadius {
		return &platform.ValidationError{Err: odometry.ErrInvalidWheelRadius}
	}
	p.radius = r
	return nil
}

func (p *stubPlatform) WheelRadius() float64        { return p.radius }
func (p *stubPlatform) Protocol() protocol.Protocol { return p.proto }
func (p *stubPlatform) Connected() bool             { return true }

func newTestServer(p *stubPlatform, cfg Config) *Server {
	s := NewServer(cfg, nil)
	s.SetPlatform(p)
	return s
}

func do(t *testing.T, s *Server, method, target, body string) (int, map[string]any) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.App().Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	out := map[string]any{}
	if len(data) > 0 && data[0] == '{' {
		require.NoError(t, json.Unmarshal(data, &out))
	}
	return resp.StatusCode, out
}

func TestMoveEndpoint(t *testing.T) {
	p := &stubPlatform{proto: protocol.HTTP}
	s := newTestServer(p, Config{})

	code, body := do(t, s, http.MethodPost, "/api/v1/move", `{"direction":"FORWARD","speed":255,"protocol":"websocket"}`)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "success", body["status"])

	require.Len(t, p.moves, 1)
	assert.Equal(t, protocol.Forward, p.moves[0].Direction)
	assert.Equal(t, protocol.WebSocket, p.moves[0].Protocol)
}

func TestMoveEndpoint_DefaultsToCurrentProtocol(t *testing.T) {
	p := &stubPlatform{proto: protocol.MQTT}
	s := newTestServer(p, Config{})

	code, _ := do(t, s, http.MethodPost, "/api/v1/move", `{"direction":"left","speed":10}`)
	assert.Equal(t, http.StatusOK, code)
	require.Len(t, p.moves, 1)
	assert.Equal(t, protocol.MQTT, p.moves[0].Protocol)
}

func TestMoveEndpoint_BadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown direction", `{"direction":"up","speed":10,"protocol":"HTTP"}`},
		{"speed too high", `{"direction":"left","speed":256,"protocol":"HTTP"}`},
		{"negative speed", `{"direction":"left","speed":-1,"protocol":"HTTP"}`},
		{"unknown protocol", `{"direction":"left","speed":1,"protocol":"LORA"}`},
		{"malformed json", `{"direction":`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(&stubPlatform{proto: protocol.HTTP}, Config{})
			code, body := do(t, s, http.MethodPost, "/api/v1/move", tt.body)
			assert.Equal(t, http.StatusBadRequest, code)
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"device", &platform.DeviceError{Op: "move", Message: "motor fault"}, http.StatusBadGateway},
		{"switch", &switchboard.SwitchError{From: protocol.HTTP, To: protocol.MQTT, Err: fmt.Errorf("refused")}, http.StatusServiceUnavailable},
		{"other", fmt.Errorf("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(&stubPlatform{proto: protocol.HTTP, moveErr: tt.err}, Config{})
			code, body := do(t, s, http.MethodPost, "/api/v1/move", `{"direction":"forward","speed":1,"protocol":"HTTP"}`)
			assert.Equal(t, tt.want, code)
			assert.Equal(t, tt.err.Error(), body["error"])
		})
	}
}

func TestMoveRateLimit(t *testing.T) {
	s := newTestServer(&stubPlatform{proto: protocol.HTTP}, Config{MoveRate: 0.001, MoveBurst: 2})

	body := `{"direction":"forward","speed":1,"protocol":"HTTP"}`
	for i := 0; i < 2; i++ {
		code, _ := do(t, s, http.MethodPost, "/api/v1/move", body)
		assert.Equal(t, http.StatusOK, code)
	}
	code, _ := do(t, s, http.MethodPost, "/api/v1/move", body)
	assert.Equal(t, http.StatusTooManyRequests, code)
}

func TestReadEndpoints(t *testing.T) {
	s := newTestServer(&stubPlatform{proto: protocol.WebSocket}, Config{})

	code, body := do(t, s, http.MethodGet, "/api/v1/position", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, 45.0, body["angle"])
	assert.Equal(t, 3.0, body["distanceTravelled"])

	code, _ = do(t, s, http.MethodGet, "/api/v1/history", "")
	assert.Equal(t, http.StatusOK, code)

	code, body = do(t, s, http.MethodGet, "/api/v1/esp32/status", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "stop", body["currentDirection"])

	code, body = do(t, s, http.MethodGet, "/api/v1/esp32/info", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "stub", body["platformName"])

	code, body = do(t, s, http.MethodGet, "/api/v1/protocol", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "WEBSOCKET", body["protocol"])
	assert.Equal(t, true, body["connected"])

	code, _ = do(t, s, http.MethodPost, "/api/v1/reset", "")
	assert.Equal(t, http.StatusOK, code)

	code, _ = do(t, s, http.MethodGet, "/api/v1/stop", "")
	assert.Equal(t, http.StatusOK, code)
}

func TestStatusDeviceError(t *testing.T) {
	s := newTestServer(&stubPlatform{statusErr: &platform.DeviceError{Op: "status", Message: "null response"}}, Config{})
	code, body := do(t, s, http.MethodGet, "/api/v1/esp32/status", "")
	assert.Equal(t, http.StatusBadGateway, code)
	assert.Contains(t, body["error"], "null response")
}

func TestRadiusUpdate(t *testing.T) {
	p := &stubPlatform{radius: 0.03}
	s := newTestServer(p, Config{})

	code, body := do(t, s, http.MethodPatch, "/api/v1/radius/update?radius=0.05", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, 0.05, body["radius"])

	for _, q := range []string{"", "?radius=abc", "?radius=0.2", "?radius=0.005"} {
		code, _ := do(t, s, http.MethodPatch, "/api/v1/radius/update"+q, "")
		assert.Equal(t, http.StatusBadRequest, code, q)
	}
	assert.Equal(t, 0.05, p.radius)
}

func TestPlatformNotReady(t *testing.T) {
	s := NewServer(Config{}, nil)
	code, _ := do(t, s, http.MethodGet, "/api/v1/position", "")
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestHealth(t *testing.T) {
	code, body := do(t, NewServer(Config{}, nil), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "starting", body["status"])

	code, body = do(t, newTestServer(&stubPlatform{proto: protocol.MQTT}, Config{}), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "MQTT", body["protocol"])
}

func TestWebSocketRoutesRequireUpgrade(t *testing.T) {
	s := newTestServer(&stubPlatform{}, Config{})
	code, _ := do(t, s, http.MethodGet, "/ws/updates", "")
	assert.Equal(t, http.StatusUpgradeRequired, code)
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(&stubPlatform{}, Config{CORSOrigins: []string{"http://dashboard.local"}})

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/move", nil)
	req.Header.Set("Origin", "http://dashboard.local")
	req.Header.Set("Access-Control-Request-Method", "POST")

	resp, err := s.App().Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "http://dashboard.local", resp.Header.Get("Access-Control-Allow-Origin"))
}
