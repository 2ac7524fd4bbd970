package peer

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	apperrors "github.com/agbru/atmoworker/internal/errors"
)

// wsTransport sends one binary message per frame.
type wsTransport struct {
	conn *websocket.Conn
}

func (w *wsTransport) WriteFrame(f Frame) error {
	b, err := f.MarshalBinary()
	if err != nil {
		return err
	}
	return w.conn.WriteMessage(websocket.BinaryMessage, b)
}

func (w *wsTransport) ReadFrame() (Frame, error) {
	mt, payload, err := w.conn.ReadMessage()
	if err != nil {
		return Frame{}, err
	}
	if mt != websocket.BinaryMessage {
		return Frame{}, fmt.Errorf("unexpected websocket message type %d", mt)
	}
	var f Frame
	if err := f.UnmarshalBinary(payload); err != nil {
		return Frame{}, err
	}
	return f, nil
}

func (w *wsTransport) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = w.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return w.conn.Close()
}

// DialWebSocket joins a driver listening at url as its child.
func DialWebSocket(ctx context.Context, url string) (*Conn, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, apperrors.PeerError{Op: "dial", Cause: err}
	}
	c := newConn(&wsTransport{conn: conn}, Child)
	if err := sendHello(ctx, c); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// UpgradeWebSocket accepts a worker connection on the driver side. The
// caller should WaitHello before the first collective.
func UpgradeWebSocket(w http.ResponseWriter, r *http.Request) (*Conn, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, apperrors.PeerError{Op: "upgrade", Cause: err}
	}
	return newConn(&wsTransport{conn: conn}, Parent), nil
}
