package wshub

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/mb0/resq/hub"
	"github.com/mb0/resq/log"
)

// Client is a hub connection dialing out to a remote hub.
type Client struct {
	URL    string
	Header http.Header
	Log    log.Logger
	*websocket.Dialer

	id   int64
	send chan *hub.Msg
}

func NewClient(url string) *Client {
	return &Client{URL: url, id: hub.NextID(), send: make(chan *hub.Msg, 32)}
}

func (c *Client) ID() int64             { return c.id }
func (c *Client) Chan() chan<- *hub.Msg { return c.send }

// Connect dials the remote hub and blocks reading messages into r until the connection closes.
// The client signs itself on and off of r like a served connection.
func (c *Client) Connect(r chan<- *hub.Msg) error {
	c.init()
	wc, _, err := c.Dial(c.URL, c.Header)
	if err != nil {
		return err
	}
	cc := &conn{id: c.id, wc: wc, send: c.send}
	r <- &hub.Msg{From: c, Subj: hub.SubjSignon}
	go cc.writeAll(c.Log)
	err = cc.readAll(r)
	r <- &hub.Msg{From: c, Subj: hub.SubjSignoff}
	return err
}

func (c *Client) init() {
	if c.Dialer == nil {
		c.Dialer = websocket.DefaultDialer
	}
	if c.Log == nil {
		c.Log = log.Root
	}
}
