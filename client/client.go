// Package client is a Go client for the teamboard websocket protocol, used
// by CLI agents and tests.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/GoCodeAlone/teamboard/board"
)

// ErrAccessDenied is returned by Dial when the server refuses the
// subscription.
var ErrAccessDenied = errors.New("access denied")

// ErrClosed is returned by calls made after the connection ended.
var ErrClosed = errors.New("client closed")

// Message is one inbound event.
type Message struct {
	board.Envelope
	Raw json.RawMessage
}

// Decode unmarshals the event's payload fields into v.
func (m Message) Decode(v any) error {
	return json.Unmarshal(m.Raw, v)
}

// Error is an error event returned for a request.
type Error struct {
	board.ErrorPayload
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.TaskID != "" {
		msg += " (task " + e.TaskID + ")"
	}
	return msg
}

// Options tunes a Client.
type Options struct {
	Logger *slog.Logger
	// EventBuffer is the capacity of the Events channel. Broadcasts that do
	// not fit are dropped; recover them with Sync.
	EventBuffer int
	Dialer      *websocket.Dialer
}

// Client is one subscription to a project room.
type Client struct {
	conn      *websocket.Conn
	logger    *slog.Logger
	connected board.ConnectedPayload

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan Message
	err     error

	events chan Message
	done   chan struct{}
}

// Dial connects to the server at baseURL (http, https, ws or wss) and
// subscribes to projectID. It returns once the connected event arrives.
func Dial(ctx context.Context, baseURL, projectID, token string, opts Options) (*Client, error) {
	u, err := wsURL(baseURL, projectID)
	if err != nil {
		return nil, err
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	conn, resp, err := dialer.DialContext(ctx, u, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %s: %w", u, resp.Status, err)
		}
		return nil, fmt.Errorf("dial %s: %w", u, err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	}
	_, data, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		if websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
			return nil, ErrAccessDenied
		}
		return nil, fmt.Errorf("await connected: %w", err)
	}
	_ = conn.SetReadDeadline(time.Time{})
	first, err := decode(data)
	if err != nil || first.Type != board.EventConnected {
		conn.Close()
		return nil, fmt.Errorf("expected connected event, got %q", data)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	buffer := opts.EventBuffer
	if buffer <= 0 {
		buffer = 256
	}
	c := &Client{
		conn:    conn,
		logger:  logger,
		pending: make(map[string]chan Message),
		events:  make(chan Message, buffer),
		done:    make(chan struct{}),
	}
	if err := first.Decode(&c.connected); err != nil {
		conn.Close()
		return nil, fmt.Errorf("decode connected: %w", err)
	}
	go c.readLoop()
	return c, nil
}

func wsURL(base, projectID string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws", "":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	u.RawQuery = url.Values{"project_id": {projectID}}.Encode()
	return u.String(), nil
}

func decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m.Envelope); err != nil {
		return m, err
	}
	m.Raw = data
	return m, nil
}

// Connected returns the connected event received by Dial.
func (c *Client) Connected() board.ConnectedPayload { return c.connected }

// Events returns the room broadcasts. It is closed when the connection ends.
func (c *Client) Events() <-chan Message { return c.events }

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} { return c.done }

// Err returns why the connection ended, or nil while it is open.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Client) readLoop() {
	var err error
	for {
		var data []byte
		if _, data, err = c.conn.ReadMessage(); err != nil {
			break
		}
		m, derr := decode(data)
		if derr != nil {
			c.logger.Warn("undecodable event", slog.Any("err", derr))
			continue
		}
		if m.RequestID != "" {
			c.mu.Lock()
			ch, ok := c.pending[m.RequestID]
			delete(c.pending, m.RequestID)
			c.mu.Unlock()
			if ok {
				ch <- m
				continue
			}
		}
		select {
		case c.events <- m:
		default:
			c.logger.Warn("event dropped", slog.String("type", string(m.Type)))
		}
	}

	c.mu.Lock()
	if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		err = ErrClosed
	}
	c.err = err
	c.pending = nil
	c.mu.Unlock()
	close(c.events)
	close(c.done)
}

// call sends req as a typ message and waits for the reply carrying the same
// request id.
func (c *Client) call(ctx context.Context, typ board.MessageType, req any) (Message, error) {
	fields := map[string]any{}
	if req != nil {
		raw, err := json.Marshal(req)
		if err != nil {
			return Message{}, fmt.Errorf("encode %s: %w", typ, err)
		}
		if err := json.Unmarshal(raw, &fields); err != nil {
			return Message{}, fmt.Errorf("encode %s: %w", typ, err)
		}
	}
	id := uuid.New().String()
	fields["type"] = typ
	fields["request_id"] = id

	ch := make(chan Message, 1)
	c.mu.Lock()
	if c.pending == nil {
		c.mu.Unlock()
		return Message{}, ErrClosed
	}
	c.pending[id] = ch
	c.mu.Unlock()

	c.writeMu.Lock()
	err := c.conn.WriteJSON(fields)
	c.writeMu.Unlock()
	if err != nil {
		c.forget(id)
		return Message{}, fmt.Errorf("send %s: %w", typ, err)
	}

	select {
	case m := <-ch:
		if m.Type == board.EventError {
			e := &Error{}
			if err := m.Decode(&e.ErrorPayload); err != nil {
				return m, fmt.Errorf("decode error event: %w", err)
			}
			return m, e
		}
		return m, nil
	case <-c.done:
		return Message{}, ErrClosed
	case <-ctx.Done():
		c.forget(id)
		return Message{}, ctx.Err()
	}
}

func (c *Client) forget(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, id)
}

func expectType(m Message, want board.EventType) error {
	if m.Type != want {
		return fmt.Errorf("unexpected reply %s, want %s", m.Type, want)
	}
	return nil
}

// CreateTask creates a task and returns its acknowledgement.
func (c *Client) CreateTask(ctx context.Context, req board.CreateTaskRequest) (board.TaskAck, error) {
	var ack board.TaskAck
	m, err := c.call(ctx, board.TypeCreateTask, req)
	if err != nil {
		return ack, err
	}
	if err := expectType(m, board.EventTaskCreatedAck); err != nil {
		return ack, err
	}
	return ack, m.Decode(&ack)
}

// UpdateResult is the outcome of UpdateTask. Exactly one field is set.
type UpdateResult struct {
	Ack      *board.TaskAck
	Conflict *board.ConflictPayload
}

// UpdateTask applies a partial update. A stale version is not an error: the
// result carries the server's current task instead.
func (c *Client) UpdateTask(ctx context.Context, req board.UpdateTaskRequest) (UpdateResult, error) {
	m, err := c.call(ctx, board.TypeUpdateTask, req)
	if err != nil {
		return UpdateResult{}, err
	}
	switch m.Type {
	case board.EventTaskUpdatedAck:
		var ack board.TaskAck
		return UpdateResult{Ack: &ack}, m.Decode(&ack)
	case board.EventConflict:
		var cp board.ConflictPayload
		return UpdateResult{Conflict: &cp}, m.Decode(&cp)
	}
	return UpdateResult{}, expectType(m, board.EventTaskUpdatedAck)
}

// Sync fetches every task with a version above since.
func (c *Client) Sync(ctx context.Context, since int64) (board.SyncResponsePayload, error) {
	var resp board.SyncResponsePayload
	m, err := c.call(ctx, board.TypeSyncRequest, board.SyncRequest{SinceVersion: since})
	if err != nil {
		return resp, err
	}
	if err := expectType(m, board.EventSyncResponse); err != nil {
		return resp, err
	}
	return resp, m.Decode(&resp)
}

// Ping measures the round trip to the server.
func (c *Client) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	m, err := c.call(ctx, board.TypePing, nil)
	if err != nil {
		return 0, err
	}
	return time.Since(start), expectType(m, board.EventPong)
}

// RegisterAgent announces an agent presence to the room.
func (c *Client) RegisterAgent(ctx context.Context, req board.AgentRegisteredRequest) (board.AgentPayload, error) {
	var p board.AgentPayload
	m, err := c.call(ctx, board.TypeAgentRegistered, req)
	if err != nil {
		return p, err
	}
	if err := expectType(m, board.EventAgentRegisteredAck); err != nil {
		return p, err
	}
	return p, m.Decode(&p)
}

// Close ends the connection.
func (c *Client) Close() error {
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	err := c.conn.Close()
	<-c.done
	return err
}
