package channel

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/teslashibe/go-rover/pkg/protocol"
)

func newTestMove(direction string) protocol.CommandMessage {
	return protocol.NewMoveMessage(protocol.MoveCommand{
		Direction: protocol.Direction(direction),
		Speed:     128,
	})
}

// deviceBehavior controls how the fake device answers a frame.
type deviceBehavior int

const (
	echoID deviceBehavior = iota
	omitID
	silent
)

// fakeDevice is a minimal socket endpoint that answers command frames the way
// the rover firmware does.
type fakeDevice struct {
	server   *httptest.Server
	behavior atomic.Int32
	received atomic.Int32

	mu    sync.Mutex
	conns []*websocket.Conn
}

func newFakeDevice(t *testing.T, behavior deviceBehavior) *fakeDevice {
	t.Helper()

	d := &fakeDevice{}
	d.behavior.Store(int32(behavior))

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	d.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		d.mu.Lock()
		d.conns = append(d.conns, conn)
		d.mu.Unlock()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			d.received.Add(1)
			reply := d.answer(data)
			if reply == nil {
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, reply); err != nil {
				return
			}
		}
	}))
	t.Cleanup(d.server.Close)
	return d
}

func (d *fakeDevice) url() string {
	return "ws" + strings.TrimPrefix(d.server.URL, "http")
}

// dropAll closes every accepted socket from the device side.
func (d *fakeDevice) dropAll() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, c := range d.conns {
		c.Close()
	}
	d.conns = nil
}

func (d *fakeDevice) answer(frame []byte) []byte {
	behavior := deviceBehavior(d.behavior.Load())
	if behavior == silent {
		return nil
	}

	var msg protocol.CommandMessage
	if err := json.Unmarshal(frame, &msg); err != nil {
		return nil
	}

	reply := map[string]any{"status": protocol.StatusOK}
	switch msg.Command {
	case protocol.CommandMove:
		reply["direction"] = msg.Direction
		if msg.Speed != nil {
			reply["speed"] = *msg.Speed
		}
		if msg.Angle != nil {
			reply["angle"] = *msg.Angle
		}
		reply["isMoving"] = true
	case protocol.CommandStop:
		reply["message"] = "Stopped"
		reply["isMoving"] = false
	case protocol.CommandStatus:
		reply["currentDirection"] = "stop"
		reply["currentSpeed"] = 0
		reply["wifiStatus"] = "connected"
	case protocol.CommandInfo:
		reply["platformName"] = "fake-rover"
		reply["version"] = "test"
	}
	if behavior == echoID {
		reply["id"] = msg.ID
	}

	out, _ := json.Marshal(reply)
	return out
}
