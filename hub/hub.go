// Package hub provides a transport agnostic connection hub that routes request messages into a
// query server and replies to the originating connection.
package hub

import "sync"

// Subjects managed by the hub itself.
const (
	SubjSignon  = "+"
	SubjSignoff = "-"
)

// Msg is the unit passed between connections.
//
// From and Subj must be populated. Tok lets the origin connection match replies to requests and
// travels back unchanged. The body is either raw bytes off the wire or typed data for
// in-process messages; a transport serializes Data as json when Raw is empty.
type Msg struct {
	From Conn
	Subj string
	Tok  []byte
	Raw  []byte
	Data interface{}
}

// Router routes a received message.
type Router interface{ Route(*Msg) }

// RouterFunc implements Router for plain functions.
type RouterFunc func(*Msg)

func (r RouterFunc) Route(m *Msg) { r(m) }

// Conn is a hub participant: a connected client, a service or the hub itself.
type Conn interface {
	// ID identifies the connection. The hub has id 0, transient request connections use -1
	// and signed-on connections a positive id.
	ID() int64
	// Chan returns an unchanging receiver channel. The hub sends a nil message after the
	// sign-off of this conn was routed.
	Chan() chan<- *Msg
}

// Hub fans messages from all connections into one router and tracks sign-ons. Acceptors that
// feed the hub are responsible for sender validation. Hub itself implements Conn with id 0.
type Hub struct {
	mu   sync.Mutex
	cmap map[int64]Conn
	mque chan *Msg
}

func NewHub() *Hub {
	return &Hub{
		cmap: make(map[int64]Conn, 64),
		mque: make(chan *Msg, 128),
	}
}

func (h *Hub) ID() int64         { return 0 }
func (h *Hub) Chan() chan<- *Msg { return h.mque }

// Run routes received messages until the queue closes or a nil message arrives. It is usually
// run in a go routine.
func (h *Hub) Run(r Router) {
	for m := range h.mque {
		if m == nil {
			break
		}
		if m.Subj == SubjSignon {
			h.mu.Lock()
			h.cmap[m.From.ID()] = m.From
			h.mu.Unlock()
		}
		r.Route(m)
		if m.Subj == SubjSignoff {
			h.mu.Lock()
			delete(h.cmap, m.From.ID())
			m.From.Chan() <- nil
			h.mu.Unlock()
		}
	}
}

// Signon announces c to the hub.
func Signon(h *Hub, c Conn) { h.Chan() <- &Msg{From: c, Subj: SubjSignon} }

// Signoff retracts c from the hub. The hub replies with a nil message once routed.
func Signoff(h *Hub, c Conn) { h.Chan() <- &Msg{From: c, Subj: SubjSignoff} }
