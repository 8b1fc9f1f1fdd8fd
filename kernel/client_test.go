package kernel

import (
	"context"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jupytergo/kernelws/internal/kerneltest"
)

var (
	zlog *zap.Logger
	log  *zap.SugaredLogger
)

func init() {
	l, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	zlog = l
	log = l.Sugar()
}

// startKernel serves the fake kernel over httptest and returns its address.
func startKernel(t *testing.T, srv *kerneltest.Server) (host string, port int) {
	t.Helper()
	if srv.Log == nil {
		srv.Log = log.Named("kerneltest")
	}
	hs := httptest.NewServer(srv.Router())
	t.Cleanup(hs.Close)
	u, err := url.Parse(hs.URL)
	require.NoError(t, err)
	port, err = strconv.Atoi(u.Port())
	require.NoError(t, err)
	return u.Hostname(), port
}

func newTestClient(t *testing.T, srv *kerneltest.Server, token string, opts ...Option) *Client {
	t.Helper()
	host, port := startKernel(t, srv)
	c, err := NewClient(host, port, "test-kernel", token, append([]Option{WithLogger(zlog)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestNewClientRequiresKernelID(t *testing.T) {
	_, err := NewClient("localhost", 8888, "", "tok")
	require.Error(t, err)
}

func TestConnectRejectsBadToken(t *testing.T) {
	srv := &kerneltest.Server{Token: "secret"}
	c := newTestClient(t, srv, "wrong")

	err := c.Connect(context.Background())
	require.Error(t, err)
	var connErr *ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, "dial", connErr.Op)
}

func TestConnectIdempotent(t *testing.T) {
	ctx := context.Background()
	srv := &kerneltest.Server{}
	c := newTestClient(t, srv, "")

	require.NoError(t, c.Connect(ctx))
	require.Eventually(t, func() bool { return srv.Accepted() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, c.Connect(ctx))
	assert.Equal(t, 1, srv.Accepted())
}

func TestCloseIdempotent(t *testing.T) {
	srv := &kerneltest.Server{}
	c := newTestClient(t, srv, "")

	require.NoError(t, c.Connect(context.Background()))
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
}

func TestExecuteReconnectsAfterClose(t *testing.T) {
	ctx := context.Background()
	srv := &kerneltest.Server{}
	c := newTestClient(t, srv, "")

	res, err := c.Execute(ctx, "")
	require.NoError(t, err)
	require.NotNil(t, res.ExecutionCount)
	assert.Equal(t, 1, *res.ExecutionCount)

	require.NoError(t, c.Close())

	res, err = c.Execute(ctx, "")
	require.NoError(t, err)
	require.NotNil(t, res.ExecutionCount)
	assert.Equal(t, 2, *res.ExecutionCount)
	require.Eventually(t, func() bool { return srv.Accepted() == 2 }, time.Second, 10*time.Millisecond)
}

func TestWaitForIdle(t *testing.T) {
	srv := &kerneltest.Server{}
	c := newTestClient(t, srv, "")

	require.NoError(t, c.WaitForIdle(context.Background()))
}

func TestSessionIDOverride(t *testing.T) {
	c, err := NewClient("localhost", 8888, "test-kernel", "tok", WithSessionID("my-session"))
	require.NoError(t, err)
	assert.Equal(t, "my-session", c.SessionID())
}
