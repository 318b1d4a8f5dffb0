/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package party

import "context"

// Loop owns a Gateway and runs every call against it on one goroutine,
// so no two events ever interleave between reading and writing room
// state. Calls from one caller keep their order.
type Loop struct {
	gateway *Gateway
	calls   chan func(*Gateway)
	done    chan struct{}
}

func NewLoop(g *Gateway, backlog int) *Loop {
	if backlog < 0 {
		backlog = 0
	}

	return &Loop{
		gateway: g,
		calls:   make(chan func(*Gateway), backlog),
		done:    make(chan struct{}),
	}
}

// Run processes calls until ctx is cancelled. Calls made afterwards are
// dropped.
func (l *Loop) Run(ctx context.Context) {
	defer close(l.done)

	for {
		select {
		case <-ctx.Done():
			return
		case call := <-l.calls:
			call(l.gateway)
		}
	}
}

func (l *Loop) Connect(conn Conn, identity string) {
	l.do(func(g *Gateway) {
		g.Connect(conn, identity)
	})
}

func (l *Loop) Dispatch(connID, msgType string, payload []byte) {
	l.do(func(g *Gateway) {
		g.Dispatch(connID, msgType, payload)
	})
}

func (l *Loop) Disconnect(connID string) {
	l.do(func(g *Gateway) {
		g.Disconnect(connID)
	})
}

func (l *Loop) Stats() (rooms, connections int) {
	type stats struct{ rooms, connections int }

	reply := make(chan stats, 1)

	if !l.do(func(g *Gateway) {
		r, c := g.Stats()
		reply <- stats{r, c}
	}) {
		return 0, 0
	}

	select {
	case s := <-reply:
		return s.rooms, s.connections
	case <-l.done:
		return 0, 0
	}
}

func (l *Loop) do(call func(*Gateway)) bool {
	select {
	case <-l.done:
		return false
	default:
	}

	select {
	case l.calls <- call:
		return true
	case <-l.done:
		return false
	}
}
