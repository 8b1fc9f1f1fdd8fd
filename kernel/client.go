package kernel

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/jupytergo/kernelws/messaging"
)

// Rich display payloads (inline images etc.) can be large.
const readLimit = 1 << 20

// Client talks to one kernel over the notebook server's channels WebSocket.
//
// The channel is opened lazily on first use and reused across Execute calls.
// A Client must not be shared for concurrent Execute calls: replies are
// correlated by parent msg_id, but two in-flight requests on one channel
// could still race on their terminal idle messages, so calls are serialized
// by contract rather than by an internal lock. Run concurrent executions
// against the same kernel from separate Client instances instead.
type Client struct {
	log        *zap.SugaredLogger
	httpClient *http.Client

	scheme    string
	host      string
	port      int
	basePath  string
	kernelID  string
	sessionID string
	header    http.Header

	conn *websocket.Conn
}

type Option func(c *Client)

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		c.log = l.Named("kernel_client").Sugar()
	}
}

// WithHTTPClient sets the HTTP client used for the WebSocket handshake.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTLS dials wss:// instead of ws://.
func WithTLS() Option {
	return func(c *Client) {
		c.scheme = "wss"
	}
}

// WithBasePath prefixes the channels URL path, for notebook servers mounted
// under a base URL.
func WithBasePath(p string) Option {
	return func(c *Client) {
		p = strings.Trim(p, "/")
		if p != "" {
			c.basePath = "/" + p
		}
	}
}

// WithAuthHeader replaces the default "Authorization: token <t>" handshake
// headers entirely.
func WithAuthHeader(h http.Header) Option {
	return func(c *Client) {
		c.header = h
	}
}

// WithSessionID overrides the generated client session id sent in message
// headers and the channels URL.
func WithSessionID(id string) Option {
	return func(c *Client) {
		c.sessionID = id
	}
}

// NewClient builds a client for the kernel with the given id, reachable
// through the notebook server at host:port and authenticated by token.
func NewClient(host string, port int, kernelID, token string, opts ...Option) (*Client, error) {
	if kernelID == "" {
		return nil, fmt.Errorf("kernel id is required")
	}
	logger, err := zap.NewDevelopment()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	c := &Client{
		log:       logger.Named("kernel_client").Sugar(),
		scheme:    "ws",
		host:      host,
		port:      port,
		kernelID:  kernelID,
		sessionID: uuid.NewString(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.header == nil {
		c.header = http.Header{}
		if token != "" {
			c.header.Set("Authorization", "token "+token)
		}
	}
	return c, nil
}

// SessionID returns the client session id stamped into outgoing headers.
func (c *Client) SessionID() string { return c.sessionID }

func (c *Client) channelsURL() string {
	u := url.URL{
		Scheme:   c.scheme,
		Host:     net.JoinHostPort(c.host, strconv.Itoa(c.port)),
		Path:     c.basePath + "/api/kernels/" + c.kernelID + "/channels",
		RawQuery: url.Values{"session_id": {c.sessionID}}.Encode(),
	}
	return u.String()
}

// Connect opens the kernel channels WebSocket. It is idempotent: if the
// channel is already open it is left untouched. Handshake failures (bad
// token, unknown kernel, unreachable host) surface as a ConnectionError and
// are not retried.
func (c *Client) Connect(ctx context.Context) error {
	if c.conn != nil {
		return nil
	}
	u := c.channelsURL()
	c.log.Debugw("dialing kernel channels", "URL", u)
	conn, resp, err := websocket.Dial(ctx, u, &websocket.DialOptions{
		HTTPClient: c.httpClient,
		HTTPHeader: c.header,
	})
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("%w (HTTP status %d)", err, resp.StatusCode)
		}
		return &ConnectionError{Op: "dial", Err: err}
	}
	conn.SetReadLimit(readLimit)
	c.conn = conn
	return nil
}

// Close closes the kernel channel if it is open. It is safe to call
// repeatedly; a closed client reconnects on the next Execute. Closing while
// an Execute is in flight aborts it with an ExecutionError.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	conn := c.conn
	c.conn = nil
	err := conn.Close(websocket.StatusNormalClosure, "")
	if err != nil {
		c.log.Debugf("error closing kernel channel: %s", err)
	}
	return err
}

func (c *Client) send(ctx context.Context, msg *messaging.Message) error {
	if c.conn == nil {
		return &ConnectionError{Op: "send", Err: ErrClosed}
	}
	if err := wsjson.Write(ctx, c.conn, msg); err != nil {
		return &ConnectionError{Op: "send", Err: err}
	}
	return nil
}

func (c *Client) receive(ctx context.Context) (messaging.Message, error) {
	var msg messaging.Message
	if c.conn == nil {
		return msg, &ConnectionError{Op: "receive", Err: ErrClosed}
	}
	err := wsjson.Read(ctx, c.conn, &msg)
	if websocket.CloseStatus(err) != -1 {
		return msg, &ConnectionError{Op: "receive", Err: fmt.Errorf("%w: %s", ErrClosed, err)}
	}
	if err != nil {
		return msg, &ConnectionError{Op: "receive", Err: err}
	}
	return msg, nil
}
