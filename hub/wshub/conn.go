// Package wshub speaks the hub message protocol over websockets.
//
// Messages are text frames of the form "subj#tok\nbody" where token and body are optional. The
// body of a data request or reply is json.
package wshub

import (
	"bytes"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/mb0/resq/hub"
)

const writeTimeout = 10 * time.Second

var bufPool = sync.Pool{New: func() interface{} { return new(bytes.Buffer) }}

type conn struct {
	id   int64
	wc   *websocket.Conn
	send chan *hub.Msg
}

func newConn(id int64, wc *websocket.Conn) *conn {
	return &conn{id: id, wc: wc, send: make(chan *hub.Msg, 32)}
}

func (c *conn) ID() int64             { return c.id }
func (c *conn) Chan() chan<- *hub.Msg { return c.send }

// readAll reads messages and forwards them to route until the socket closes. A normal client
// disconnect returns nil.
func (c *conn) readAll(route chan<- *hub.Msg) error {
	for {
		op, r, err := c.wc.NextReader()
		if err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return nil
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure,
				websocket.CloseGoingAway) {
				return nil
			}
			return errors.WithMessage(err, "next reader")
		}
		if op != websocket.TextMessage {
			continue
		}
		m, err := readMsg(r)
		if err != nil {
			return errors.WithMessage(err, "read message")
		}
		m.From = c
		route <- m
	}
}

func readMsg(r io.Reader) (*hub.Msg, error) {
	b := bufPool.Get().(*bytes.Buffer)
	defer func() { b.Reset(); bufPool.Put(b) }()

	if _, err := b.ReadFrom(r); err != nil {
		return nil, err
	}
	var tok, body []byte
	head := b.Bytes()
	if idx := bytes.IndexByte(head, '\n'); idx >= 0 {
		head, body = head[:idx], head[idx+1:]
	}
	if idx := bytes.IndexByte(head, '#'); idx >= 0 {
		head, tok = head[:idx], head[idx+1:]
	}
	if len(head) == 0 {
		return nil, errors.New("message without subject")
	}
	return &hub.Msg{
		Subj: string(head),
		Tok:  copyBytes(tok),
		Raw:  copyBytes(body),
	}, nil
}

func (c *conn) writeMsg(m *hub.Msg) error {
	b := bufPool.Get().(*bytes.Buffer)
	defer func() { b.Reset(); bufPool.Put(b) }()

	if err := writeMsgTo(b, m); err != nil {
		return err
	}
	c.wc.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.wc.WriteMessage(websocket.TextMessage, b.Bytes())
}

func writeMsgTo(b *bytes.Buffer, m *hub.Msg) error {
	b.WriteString(m.Subj)
	if len(m.Tok) != 0 {
		b.WriteByte('#')
		b.Write(m.Tok)
	}
	if len(m.Raw) != 0 {
		b.WriteByte('\n')
		b.Write(m.Raw)
		return nil
	}
	if m.Data != nil {
		b.WriteByte('\n')
		return json.NewEncoder(b).Encode(m.Data)
	}
	return nil
}

func copyBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	res := make([]byte, len(b))
	copy(res, b)
	return res
}
