package ledger

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/teranos/weave/errors"
	"github.com/teranos/weave/logger"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 1024 * 1024

	// DefaultAppID is the installed app addressed when none is configured.
	DefaultAppID = "main-app"

	msgCallZome = "call_zome"
)

type zomeCall struct {
	AppID    string      `json:"app_id"`
	RoleName string      `json:"role_name"`
	ZomeName string      `json:"zome_name"`
	FnName   string      `json:"fn_name"`
	Payload  interface{} `json:"payload"`
}

type zomeRequest struct {
	ID   string   `json:"id"`
	Type string   `json:"type"`
	Data zomeCall `json:"data"`
}

type zomeResponse struct {
	ID    string          `json:"id"`
	Type  string          `json:"type"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
}

// ZomeClient speaks a JSON request/response protocol to a ledger app
// interface over one websocket. Calls are rate limited and may run
// concurrently; responses are matched by id.
type ZomeClient struct {
	conn    *websocket.Conn
	appID   string
	limiter *rate.Limiter
	logger  *zap.SugaredLogger

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan zomeResponse

	done     chan struct{}
	doneOnce sync.Once
	err      error
}

// ZomeOption configures a ZomeClient.
type ZomeOption func(*ZomeClient)

// WithAppID sets the installed app id sent with every call.
func WithAppID(id string) ZomeOption {
	return func(c *ZomeClient) { c.appID = id }
}

// WithRateLimit bounds outgoing calls. perSecond <= 0 disables limiting.
func WithRateLimit(perSecond float64, burst int) ZomeOption {
	return func(c *ZomeClient) {
		if perSecond <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithZomeLogger sets the logger.
func WithZomeLogger(l *zap.SugaredLogger) ZomeOption {
	return func(c *ZomeClient) { c.logger = l }
}

// DialZome connects to a ledger app interface.
func DialZome(ctx context.Context, url string, opts ...ZomeOption) (*ZomeClient, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, errors.Wrapf(errors.Mark(err, errors.ErrServiceUnavailable), "dial ledger %s", url)
	}
	c := &ZomeClient{
		conn:    conn,
		appID:   DefaultAppID,
		limiter: rate.NewLimiter(rate.Inf, 1),
		logger:  zap.NewNop().Sugar(),
		pending: make(map[string]chan zomeResponse),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(logger.FieldAddress, url)
	conn.SetReadLimit(maxMessageSize)
	go c.readLoop()
	return c, nil
}

// Call implements Client.
func (c *ZomeClient) Call(ctx context.Context, role, zome, fn string, payload interface{}) (json.RawMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, errors.Wrap(errors.Mark(err, errors.ErrTimeout), "ledger rate limit")
	}

	req := zomeRequest{
		ID:   uuid.NewString(),
		Type: msgCallZome,
		Data: zomeCall{AppID: c.appID, RoleName: role, ZomeName: zome, FnName: fn, Payload: payload},
	}
	ch := make(chan zomeResponse, 1)
	c.mu.Lock()
	c.pending[req.ID] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
	}()

	c.writeMu.Lock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	err := c.conn.WriteJSON(req)
	c.writeMu.Unlock()
	if err != nil {
		return nil, errors.Wrapf(errors.Mark(err, errors.ErrServiceUnavailable), "send zome call %s.%s", zome, fn)
	}

	select {
	case resp := <-ch:
		if resp.Error != "" {
			return nil, errors.Newf("zome %s/%s.%s: %s", role, zome, fn, resp.Error)
		}
		return resp.Data, nil
	case <-ctx.Done():
		return nil, errors.Wrapf(errors.Mark(ctx.Err(), errors.ErrTimeout), "zome call %s.%s", zome, fn)
	case <-c.done:
		return nil, errors.Wrapf(errors.Mark(c.err, errors.ErrServiceUnavailable), "zome call %s.%s", zome, fn)
	}
}

func (c *ZomeClient) readLoop() {
	for {
		var resp zomeResponse
		if err := c.conn.ReadJSON(&resp); err != nil {
			c.shutdown(err)
			return
		}
		c.mu.Lock()
		ch, ok := c.pending[resp.ID]
		c.mu.Unlock()
		if !ok {
			c.logger.Debugw("Dropping unmatched ledger response", "id", resp.ID)
			continue
		}
		select {
		case ch <- resp:
		default:
		}
	}
}

func (c *ZomeClient) shutdown(err error) {
	c.doneOnce.Do(func() {
		if err == nil {
			err = errors.New("ledger connection closed")
		}
		c.err = err
		close(c.done)
	})
}

// Close tears down the connection; in-flight calls fail.
func (c *ZomeClient) Close() error {
	c.shutdown(errors.New("ledger client closed"))
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	return c.conn.Close()
}
