package wshub

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mb0/resq/hub"
	"github.com/mb0/resq/log"
)

// Serve returns a handler that upgrades requests to websocket hub connections.
func Serve(h *hub.Hub, lg log.Logger) http.HandlerFunc {
	upgr := &websocket.Upgrader{}
	return func(w http.ResponseWriter, r *http.Request) {
		wc, err := upgr.Upgrade(w, r, nil)
		if err != nil {
			lg.Error("ws upgrade failed", "err", err)
			return
		}
		c := newConn(hub.NextID(), wc)
		hub.Signon(h, c)
		go c.writeAll(lg)
		err = c.readAll(h.Chan())
		hub.Signoff(h, c)
		if err != nil {
			lg.Error("ws read failed", "id", c.id, "err", err)
		}
	}
}

// writeAll drains the send channel onto the socket and keeps the connection alive with pings.
// A nil message from the hub ends the loop with a close frame.
func (c *conn) writeAll(lg log.Logger) {
	t := time.NewTicker(50 * time.Second)
	defer t.Stop()
	defer c.wc.Close()
	for {
		select {
		case m, ok := <-c.send:
			if !ok || m == nil {
				c.wc.SetWriteDeadline(time.Now().Add(writeTimeout))
				c.wc.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.writeMsg(m); err != nil {
				lg.Error("ws write failed", "id", c.id, "subj", m.Subj,
					"err", err)
				return
			}
		case <-t.C:
			c.wc.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.wc.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
