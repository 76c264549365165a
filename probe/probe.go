// Package probe 一个最小的线协议客户端：排队、获准入场、spawn，然后用 pingSync 测量往返时延。
package probe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"walkaround/wire"
)

// Options 探测参数
type Options struct {
	URL      string
	Count    int
	Interval time.Duration
}

// Result 探测结果
type Result struct {
	QueuePositions []int
	Samples        []time.Duration
}

func (r Result) Min() time.Duration {
	var m time.Duration
	for i, s := range r.Samples {
		if i == 0 || s < m {
			m = s
		}
	}
	return m
}

func (r Result) Max() time.Duration {
	var m time.Duration
	for _, s := range r.Samples {
		if s > m {
			m = s
		}
	}
	return m
}

func (r Result) Avg() time.Duration {
	if len(r.Samples) == 0 {
		return 0
	}
	var sum time.Duration
	for _, s := range r.Samples {
		sum += s
	}
	return sum / time.Duration(len(r.Samples))
}

// Observer 每收到一个服务端事件时回调（可为 nil）
type Observer func(f wire.Frame)

type conn struct {
	ws     *websocket.Conn
	frames chan wire.Frame
	errc   chan error
	done   chan struct{}
}

func dial(ctx context.Context, url string) (*conn, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	c := &conn{
		ws:     ws,
		frames: make(chan wire.Frame, 64),
		errc:   make(chan error, 1),
		done:   make(chan struct{}),
	}
	go c.read()
	return c, nil
}

func (c *conn) read() {
	for {
		_, b, err := c.ws.ReadMessage()
		if err != nil {
			c.errc <- err
			return
		}
		f, err := wire.Decode(b)
		if err != nil {
			continue
		}
		select {
		case c.frames <- f:
		case <-c.done:
			return
		}
	}
}

func (c *conn) close() {
	close(c.done)
	_ = c.ws.Close()
}

func (c *conn) next(ctx context.Context) (wire.Frame, error) {
	select {
	case f := <-c.frames:
		return f, nil
	case err := <-c.errc:
		return wire.Frame{}, fmt.Errorf("connection lost: %w", err)
	case <-ctx.Done():
		return wire.Frame{}, ctx.Err()
	}
}

func (c *conn) write(b []byte, err error) error {
	if err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, b)
}

// Run 连接服务器，等待准入后 spawn，再发送 Count 次 pingSync 并统计往返时延
func Run(ctx context.Context, opts Options, observe Observer) (Result, error) {
	if opts.Count <= 0 {
		return Result{}, errors.New("count must be positive")
	}
	c, err := dial(ctx, opts.URL)
	if err != nil {
		return Result{}, err
	}
	defer c.close()

	var res Result
	emit := func(f wire.Frame) {
		if observe != nil {
			observe(f)
		}
	}

	// 排队直到 loginAllowed
	for admitted := false; !admitted; {
		f, err := c.next(ctx)
		if err != nil {
			return res, err
		}
		emit(f)
		switch f.Event {
		case wire.EventQueueUpdate:
			var pos int
			if err := f.Arg(0, &pos); err == nil {
				res.QueuePositions = append(res.QueuePositions, pos)
			}
		case wire.EventLoginAllowed:
			admitted = true
		}
	}

	if err := c.write(wire.Encode(wire.EventSpawn)); err != nil {
		return res, fmt.Errorf("send spawn: %w", err)
	}

	for i := 1; i <= opts.Count; i++ {
		id := uint64(i)
		start := time.Now()
		if err := c.write(wire.EncodeRequest(id, wire.EventPingSync)); err != nil {
			return res, fmt.Errorf("send pingSync: %w", err)
		}
		for {
			f, err := c.next(ctx)
			if err != nil {
				return res, err
			}
			if f.IsAck() && *f.Ack == id {
				res.Samples = append(res.Samples, time.Since(start))
				break
			}
			emit(f)
		}
		if i < opts.Count && opts.Interval > 0 {
			select {
			case <-time.After(opts.Interval):
			case <-ctx.Done():
				return res, ctx.Err()
			}
		}
	}
	return res, nil
}
