package agent

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
)

// errChannelClosed is reported for calls outstanding when the stream ends.
var errChannelClosed = errors.New("agent channel closed")

// JSON-RPC 2.0 error code for an unsupported inbound request.
const codeMethodNotFound = -32601

// rpcMessage is the wire envelope for requests, responses and notifications.
type rpcMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// sessionNotification is the params of a session/notification message.
type sessionNotification struct {
	SessionID string `json:"sessionId"`
	Update    struct {
		Kind string `json:"kind"`
		Text string `json:"text"`
	} `json:"update"`
}

// Notification update kinds.
const (
	updateMessageChunk = "agent_message_chunk"
	updateTurnEnd      = "turn_end"
)

// listener assembles the streamed text of one prompt.
type listener struct {
	mu   sync.Mutex
	text strings.Builder
	live io.Writer

	ended chan struct{}
	once  sync.Once
}

func newListener(live io.Writer) *listener {
	return &listener{live: live, ended: make(chan struct{})}
}

func (l *listener) chunk(s string) {
	l.mu.Lock()
	l.text.WriteString(s)
	l.mu.Unlock()
	if l.live != nil {
		_, _ = io.WriteString(l.live, s)
	}
}

func (l *listener) end() {
	l.once.Do(func() { close(l.ended) })
}

func (l *listener) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.text.String()
}

// rpcClient multiplexes calls and session streams over one byte stream. A
// single reader goroutine owns all inbound traffic.
type rpcClient struct {
	rwc     io.ReadWriteCloser
	writeMu sync.Mutex

	mu        sync.Mutex
	nextID    int64
	pending   map[int64]chan rpcMessage
	listeners map[string]*listener

	done      chan struct{}
	closeOnce sync.Once
	err       error
}

func newRPCClient(rwc io.ReadWriteCloser) *rpcClient {
	c := &rpcClient{
		rwc:       rwc,
		pending:   make(map[int64]chan rpcMessage),
		listeners: make(map[string]*listener),
		done:      make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// start sends a request and returns a channel that receives its response.
func (c *rpcClient) start(method string, params any) (int64, <-chan rpcMessage, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return 0, nil, fmt.Errorf("encode %s params: %w", method, err)
	}

	c.mu.Lock()
	if c.isDone() {
		c.mu.Unlock()
		return 0, nil, errChannelClosed
	}
	c.nextID++
	id := c.nextID
	ch := make(chan rpcMessage, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	if err := c.write(rpcMessage{JSONRPC: "2.0", ID: &id, Method: method, Params: raw}); err != nil {
		c.forget(id)
		return 0, nil, err
	}
	return id, ch, nil
}

// call sends a request and waits for its response, decoding the result into
// out when out is non-nil.
func (c *rpcClient) call(ctx context.Context, method string, params, out any) error {
	id, ch, err := c.start(method, params)
	if err != nil {
		return err
	}
	defer c.forget(id)

	select {
	case msg := <-ch:
		if msg.Error != nil {
			return fmt.Errorf("%s: %w", method, msg.Error)
		}
		if out != nil && len(msg.Result) > 0 {
			if err := json.Unmarshal(msg.Result, out); err != nil {
				return fmt.Errorf("decode %s result: %w", method, err)
			}
		}
		return nil
	case <-c.done:
		return errChannelClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *rpcClient) forget(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// listen routes notifications for sessionID to a new listener.
func (c *rpcClient) listen(sessionID string, live io.Writer) *listener {
	l := newListener(live)
	c.mu.Lock()
	c.listeners[sessionID] = l
	c.mu.Unlock()
	return l
}

func (c *rpcClient) unlisten(sessionID string) {
	c.mu.Lock()
	delete(c.listeners, sessionID)
	c.mu.Unlock()
}

func (c *rpcClient) write(msg rpcMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.rwc.Write(data); err != nil {
		c.shutdown(err)
		return errChannelClosed
	}
	return nil
}

func (c *rpcClient) readLoop() {
	r := bufio.NewReader(c.rwc)
	for {
		line, err := r.ReadBytes('\n')
		if len(strings.TrimSpace(string(line))) > 0 {
			c.dispatch(line)
		}
		if err != nil {
			c.shutdown(err)
			return
		}
	}
}

func (c *rpcClient) dispatch(line []byte) {
	var msg rpcMessage
	if err := json.Unmarshal(line, &msg); err != nil {
		return
	}

	switch {
	case msg.Method == "" && msg.ID != nil:
		c.mu.Lock()
		ch, ok := c.pending[*msg.ID]
		delete(c.pending, *msg.ID)
		c.mu.Unlock()
		if ok {
			ch <- msg
		}
	case msg.Method == "session/notification":
		var n sessionNotification
		if err := json.Unmarshal(msg.Params, &n); err != nil {
			return
		}
		c.mu.Lock()
		l := c.listeners[n.SessionID]
		c.mu.Unlock()
		if l == nil {
			return
		}
		switch n.Update.Kind {
		case updateMessageChunk:
			l.chunk(n.Update.Text)
		case updateTurnEnd:
			l.end()
		}
	case msg.ID != nil:
		// The agent asked us something we do not serve. Answer so it does
		// not wait forever.
		id := *msg.ID
		go func() {
			_ = c.write(rpcMessage{JSONRPC: "2.0", ID: &id, Error: &rpcError{Code: codeMethodNotFound, Message: "method not found: " + msg.Method}})
		}()
	}
}

func (c *rpcClient) isDone() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *rpcClient) shutdown(err error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.err = err
		c.pending = make(map[int64]chan rpcMessage)
		c.mu.Unlock()
		close(c.done)
		_ = c.rwc.Close()
	})
}

func (c *rpcClient) close() error {
	c.shutdown(errChannelClosed)
	return nil
}
