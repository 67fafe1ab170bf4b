package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxFrameBytes  = 64 << 10
	sendQueueDepth = 64
)

// Client represents a single WebSocket peer. Each request frame runs in its
// own goroutine, at most sendQueueDepth at a time; replies are matched by
// id, not by order.
type Client struct {
	conn *websocket.Conn
	hub  *Hub
	send chan []byte
	sem  chan struct{} // in-flight requests

	// done is closed when the read side ends, writerDone when the write
	// side ends; pending replies are dropped after either.
	done       chan struct{}
	writerDone chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newClient(h *Hub, conn *websocket.Conn) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		conn:       conn,
		hub:        h,
		send:       make(chan []byte, sendQueueDepth),
		sem:        make(chan struct{}, sendQueueDepth),
		done:       make(chan struct{}),
		writerDone: make(chan struct{}),
		ctx:        ctx,
		cancel:     cancel,
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		close(c.writerDone)
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		c.cancel()
		close(c.done)
		c.hub.RemoveClient(c)
		c.conn.Close()
		c.wg.Wait()
		c.hub.log.Info("ws client disconnected")
	}()

	c.conn.SetReadLimit(maxFrameBytes)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		var req Request
		if err := json.Unmarshal(msg, &req); err != nil || req.Op == "" {
			c.reply(Response{ID: req.ID, Error: &ErrorBody{Kind: "invalid_request", Message: "frame must be {\"id\",\"op\",\"args\"}"}})
			continue
		}

		select {
		case c.sem <- struct{}{}:
		case <-c.writerDone:
			return
		}
		c.wg.Add(1)
		go func() {
			defer func() {
				<-c.sem
				c.wg.Done()
			}()
			c.hub.svc.metrics.ObserveInvoke(req.Op, "ws")
			result, err := c.hub.svc.Invoke(c.ctx, req.Op, req.Args)
			c.reply(NewResponse(req.ID, result, err))
		}()
	}
}

func (c *Client) reply(resp Response) {
	b, err := json.Marshal(resp)
	if err != nil {
		b, _ = json.Marshal(NewResponse(resp.ID, nil, err))
	}
	select {
	case c.send <- b:
	case <-c.done:
	case <-c.writerDone:
	}
}
