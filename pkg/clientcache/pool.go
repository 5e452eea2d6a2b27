package clientcache

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"

	"github.com/tablestream-project/tablestream/pkg/util/closer"
)

const (
	keepaliveTime    = 30 * time.Second
	keepaliveTimeout = 20 * time.Second
)

// ConnectionPool is a fixed-size set of client connections to one endpoint,
// handed out round-robin. It is the underlying resource of a pooled handle.
type ConnectionPool struct {
	conns []*grpc.ClientConn
	next  atomic.Uint64
}

// DialPool opens cfg.ChannelPoolSize connections to the configured endpoint.
func DialPool(ctx context.Context, cfg ClientConfig) (*ConnectionPool, error) {
	cfg = cfg.normalized()

	opts := []grpc.DialOption{
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                keepaliveTime,
			Timeout:             keepaliveTimeout,
			PermitWithoutStream: true,
		}),
	}
	if cfg.UserAgent != "" {
		opts = append(opts, grpc.WithUserAgent(cfg.UserAgent))
	}
	if cfg.Insecure {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	} else {
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewClientTLSFromCert(nil, "")))
	}
	if cfg.ProxyAddress != "" {
		opts = append(opts, grpc.WithContextDialer(connectProxyDialer(cfg.ProxyAddress)))
	}

	pool := &ConnectionPool{}
	for i := 0; i < cfg.ChannelPoolSize; i++ {
		conn, err := grpc.DialContext(ctx, cfg.Endpoint, opts...)
		if err != nil {
			closer.CloseWithLogOnError("connection pool", pool)
			return nil, errors.Wrapf(err, "dialing %s", cfg.Endpoint)
		}
		pool.conns = append(pool.conns, conn)
	}

	return pool, nil
}

// Conn returns the next connection in round-robin order.
func (p *ConnectionPool) Conn() *grpc.ClientConn {
	n := p.next.Add(1)
	return p.conns[int(n-1)%len(p.conns)]
}

func (p *ConnectionPool) Size() int {
	return len(p.conns)
}

func (p *ConnectionPool) Close() error {
	var result *multierror.Error
	for _, conn := range p.conns {
		result = multierror.Append(result, conn.Close())
	}
	return result.ErrorOrNil()
}

// connectProxyDialer dials the target through an HTTP CONNECT proxy.
func connectProxyDialer(proxyAddress string) func(ctx context.Context, target string) (net.Conn, error) {
	return func(ctx context.Context, target string) (net.Conn, error) {
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", proxyAddress)
		if err != nil {
			return nil, errors.Wrapf(err, "dialing proxy %s", proxyAddress)
		}

		req := &http.Request{
			Method: http.MethodConnect,
			URL:    &url.URL{Host: target},
			Host:   target,
			Header: make(http.Header),
		}
		if err := req.Write(conn); err != nil {
			closer.CloseWithLogOnError("proxy connection", conn)
			return nil, errors.Wrap(err, "writing CONNECT request")
		}

		resp, err := http.ReadResponse(bufio.NewReader(conn), req)
		if err != nil {
			closer.CloseWithLogOnError("proxy connection", conn)
			return nil, errors.Wrap(err, "reading CONNECT response")
		}
		closer.CloseWithLogOnError("CONNECT response body", resp.Body)
		if resp.StatusCode != http.StatusOK {
			closer.CloseWithLogOnError("proxy connection", conn)
			return nil, fmt.Errorf("proxy refused CONNECT to %s: %s", target, resp.Status)
		}

		return conn, nil
	}
}
