package mp

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/xraph/cohort/endpoint"
	"github.com/xraph/cohort/wire"
)

// link is one WebSocket connection to a peer. Either side may have opened
// it; state records which end of the handshake this process played.
type link struct {
	peer    endpoint.Endpoint
	session string
	conn    net.Conn
	state   ws.State
	codec   wire.Codec
	dialed  bool

	wmu    sync.Mutex
	closed atomic.Bool
}

func newLink(conn net.Conn, state ws.State, dialed bool) *link {
	return &link{
		conn:   conn,
		state:  state,
		codec:  &wire.JSONCodec{},
		dialed: dialed,
	}
}

// write encodes and sends f. A zero deadline means no write deadline.
func (l *link) write(f *wire.Frame, deadline time.Time) error {
	data, err := l.codec.Encode(f)
	if err != nil {
		return err
	}
	op := ws.OpText
	if l.codec.Binary() {
		op = ws.OpBinary
	}

	l.wmu.Lock()
	defer l.wmu.Unlock()

	if err := l.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return wsutil.WriteMessage(l.conn, l.state, op, data)
}

// read blocks for the next data frame. Control frames are answered inside
// wsutil.
func (l *link) read() (*wire.Frame, error) {
	data, _, err := wsutil.ReadData(l.conn, l.state)
	if err != nil {
		return nil, err
	}
	return l.codec.Decode(data)
}

// close shuts the connection once.
func (l *link) close() {
	if l.closed.Swap(true) {
		return
	}
	_ = l.conn.Close()
}
