package carrier

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/teranos/weave/errors"
	"github.com/teranos/weave/logger"
)

// WebSocketPath is where carriers accept peer connections.
const WebSocketPath = "/carrier"

const (
	wsWriteWait      = 10 * time.Second
	wsMaxMessageSize = 4 * 1024 * 1024
)

// WebSocketCarrier keeps one websocket per known peer, accepted on
// WebSocketPath or dialed with Connect. Sends fan out to every peer in
// turn; receivers filter by recipient.
type WebSocketCarrier struct {
	id     string
	logger *zap.SugaredLogger

	handlers handlers
	upgrader websocket.Upgrader
	dialer   websocket.Dialer

	mu       sync.Mutex
	peers    map[*wsPeer]struct{}
	server   *http.Server
	listener net.Listener
	closed   bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type wsPeer struct {
	conn    *websocket.Conn
	addr    string
	writeMu sync.Mutex
}

func (p *wsPeer) write(env *Envelope) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	p.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return p.conn.WriteJSON(env)
}

// NewWebSocketCarrier creates a carrier with no peers.
func NewWebSocketCarrier(id string, log *zap.SugaredLogger) *WebSocketCarrier {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &WebSocketCarrier{
		id:     id,
		logger: log.Named("websocket").With(logger.FieldDID, id),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// peers are agents, not browsers
			CheckOrigin: func(*http.Request) bool { return true },
		},
		dialer: websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		peers:  make(map[*wsPeer]struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Listen serves WebSocketPath on addr in the background.
func (c *WebSocketCarrier) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "listen on %s", addr)
	}
	mux := http.NewServeMux()
	mux.HandleFunc(WebSocketPath, c.handleUpgrade)
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		ln.Close()
		return errors.Wrap(errors.ErrServiceUnavailable, "websocket carrier closed")
	}
	c.server, c.listener = srv, ln
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			c.logger.Errorw("Carrier server stopped", logger.FieldError, err)
		}
	}()
	c.logger.Infow("Websocket carrier listening", logger.FieldAddress, ln.Addr().String())
	return nil
}

// Addr is the listening address, empty before Listen.
func (c *WebSocketCarrier) Addr() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.listener == nil {
		return ""
	}
	return c.listener.Addr().String()
}

// URL is the ws:// address peers should Connect to.
func (c *WebSocketCarrier) URL() string {
	if addr := c.Addr(); addr != "" {
		return "ws://" + addr + WebSocketPath
	}
	return ""
}

func (c *WebSocketCarrier) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := c.upgrader.Upgrade(w, r, nil)
	if err != nil {
		c.logger.Warnw("Carrier upgrade failed", logger.FieldPeer, r.RemoteAddr, logger.FieldError, err)
		return
	}
	c.addPeer(conn, r.RemoteAddr)
}

// Connect dials a peer carrier.
func (c *WebSocketCarrier) Connect(ctx context.Context, url string) error {
	conn, _, err := c.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return errors.Wrapf(errors.Mark(err, errors.ErrServiceUnavailable), "connect to %s", url)
	}
	c.addPeer(conn, url)
	return nil
}

func (c *WebSocketCarrier) addPeer(conn *websocket.Conn, addr string) {
	conn.SetReadLimit(wsMaxMessageSize)
	p := &wsPeer{conn: conn, addr: addr}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.peers[p] = struct{}{}
	c.mu.Unlock()

	c.logger.Infow("Peer connected", logger.FieldPeer, addr)
	c.wg.Add(1)
	go c.readLoop(p)
}

func (c *WebSocketCarrier) dropPeer(p *wsPeer) {
	c.mu.Lock()
	_, ok := c.peers[p]
	delete(c.peers, p)
	c.mu.Unlock()
	if ok {
		p.conn.Close()
		c.logger.Infow("Peer disconnected", logger.FieldPeer, p.addr)
	}
}

func (c *WebSocketCarrier) readLoop(p *wsPeer) {
	defer c.wg.Done()
	defer c.dropPeer(p)
	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			if c.ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debugw("Peer read ended", logger.FieldPeer, p.addr, logger.FieldError, err)
			}
			return
		}
		env, err := Decode(data)
		if err != nil {
			c.logger.Debugw("Skipping malformed frame", logger.FieldPeer, p.addr, logger.FieldError, err)
			continue
		}
		c.handlers.deliver(c.ctx, c.id, env)
	}
}

// Peers is the number of live connections.
func (c *WebSocketCarrier) Peers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.peers)
}

// ID implements Carrier.
func (c *WebSocketCarrier) ID() string { return c.id }

// OnMessage implements Carrier.
func (c *WebSocketCarrier) OnMessage(h Handler) { c.handlers.add(h) }

// Send writes env to each peer in turn. A failing peer is logged and dropped
// and the remaining peers still receive the envelope.
func (c *WebSocketCarrier) Send(ctx context.Context, env *Envelope) error {
	c.mu.Lock()
	peers := make([]*wsPeer, 0, len(c.peers))
	for p := range c.peers {
		peers = append(peers, p)
	}
	c.mu.Unlock()

	for _, p := range peers {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.write(env); err != nil {
			c.logger.Warnw("Send to peer failed", logger.FieldPeer, p.addr, logger.FieldEnvelopeID, env.ID, logger.FieldError, err)
			c.dropPeer(p)
		}
	}
	return nil
}

// Close stops the listener and disconnects every peer.
func (c *WebSocketCarrier) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	srv := c.server
	peers := make([]*wsPeer, 0, len(c.peers))
	for p := range c.peers {
		peers = append(peers, p)
	}
	c.mu.Unlock()

	c.cancel()
	var err error
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = srv.Shutdown(shutdownCtx)
		cancel()
	}
	for _, p := range peers {
		p.writeMu.Lock()
		_ = p.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		p.writeMu.Unlock()
		p.conn.Close()
	}
	c.wg.Wait()
	return err
}
