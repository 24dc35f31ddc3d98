package ssh

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/openfroyo/syncprobe/pkg/engine"
)

// Tunnel publishes local addresses through remote port forwards on an SSH
// host. It implements engine.Exposer. One SSH connection is shared by all
// forwards and is opened on the first Expose.
type Tunnel struct {
	config *Config
	logger zerolog.Logger

	connMu      sync.Mutex
	client      *ssh.Client
	closeAuth   func() error
	connectedAt time.Time
	forwards    []*forward
	closed      bool
	done        chan struct{}

	wg sync.WaitGroup
}

var _ engine.Exposer = (*Tunnel)(nil)

type forward struct {
	localAddr string
	listener  net.Listener
	endpoint  engine.Endpoint
}

// TunnelOption configures a Tunnel.
type TunnelOption func(*Tunnel)

// WithLogger sets the tunnel logger.
func WithLogger(logger zerolog.Logger) TunnelOption {
	return func(t *Tunnel) {
		t.logger = logger
	}
}

// NewTunnel creates a tunnel to the configured host. No connection is made
// until Connect or Expose is called.
func NewTunnel(config *Config, opts ...TunnelOption) (*Tunnel, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	t := &Tunnel{
		config: config,
		logger: log.Logger,
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.With().Str("component", "ssh-tunnel").Str("host", config.Address()).Logger()

	return t, nil
}

// Connect establishes the SSH connection if it is not already open.
func (t *Tunnel) Connect(ctx context.Context) error {
	t.connMu.Lock()
	defer t.connMu.Unlock()

	return t.connectLocked(ctx)
}

func (t *Tunnel) connectLocked(ctx context.Context) error {
	if t.closed {
		return &TunnelError{Op: "connect", Err: errors.New("tunnel is closed")}
	}
	if t.client != nil {
		return nil
	}

	clientConfig, closeAuth, err := t.config.BuildSSHClientConfig()
	if err != nil {
		return &TunnelError{Op: "connect", Err: err, Auth: true}
	}

	address := t.config.Address()
	t.logger.Debug().Msg("Establishing SSH connection")

	dialer := net.Dialer{Timeout: t.config.ConnectionTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		_ = closeAuth()
		return &TunnelError{Op: "connect", Err: err, Retryable: true}
	}

	// The handshake is bounded by the connection timeout or ctx, whichever
	// ends first.
	deadline := time.Now().Add(t.config.ConnectionTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, address, clientConfig)
	if err != nil {
		_ = conn.Close()
		_ = closeAuth()
		return &TunnelError{Op: "handshake", Err: err, Auth: isAuthError(err)}
	}
	_ = conn.SetDeadline(time.Time{})

	t.client = ssh.NewClient(sshConn, chans, reqs)
	t.closeAuth = closeAuth
	t.connectedAt = time.Now()

	if t.config.KeepAliveInterval > 0 {
		t.wg.Add(1)
		go t.keepAlive(t.client)
	}

	t.logger.Info().Msg("SSH connection established")
	return nil
}

// Expose opens a remote port on the tunnel host that forwards to
// localAddr, and returns the public endpoint of that port.
func (t *Tunnel) Expose(ctx context.Context, localAddr string) (engine.Endpoint, error) {
	t.connMu.Lock()
	defer t.connMu.Unlock()

	if err := t.connectLocked(ctx); err != nil {
		return engine.Endpoint{}, err
	}

	bind := net.JoinHostPort(t.config.RemoteBindHost, "0")
	listener, err := t.client.Listen("tcp", bind)
	if err != nil {
		return engine.Endpoint{}, &TunnelError{Op: "listen", Err: fmt.Errorf("remote listen on %s: %w", bind, err)}
	}

	port, err := listenerPort(listener)
	if err != nil {
		_ = listener.Close()
		return engine.Endpoint{}, &TunnelError{Op: "listen", Err: err}
	}

	fwd := &forward{
		localAddr: localAddr,
		listener:  listener,
		endpoint:  engine.Endpoint{Host: t.config.PublicAddress(), Port: port},
	}
	t.forwards = append(t.forwards, fwd)

	t.wg.Add(1)
	go t.serve(fwd)

	t.logger.Info().
		Str("local", localAddr).
		Str("public", fwd.endpoint.String()).
		Msg("Remote forward opened")

	return fwd.endpoint, nil
}

func listenerPort(l net.Listener) (int, error) {
	if addr, ok := l.Addr().(*net.TCPAddr); ok {
		return addr.Port, nil
	}
	_, portStr, err := net.SplitHostPort(l.Addr().String())
	if err != nil {
		return 0, fmt.Errorf("failed to read forwarded port: %w", err)
	}
	return strconv.Atoi(portStr)
}

// serve accepts forwarded connections until the listener closes.
func (t *Tunnel) serve(fwd *forward) {
	defer t.wg.Done()

	for {
		remote, err := fwd.listener.Accept()
		if err != nil {
			select {
			case <-t.done:
			default:
				t.logger.Warn().Err(err).Str("local", fwd.localAddr).Msg("Remote forward stopped accepting")
			}
			return
		}

		t.wg.Add(1)
		go t.pipe(remote, fwd.localAddr)
	}
}

// pipe copies data both ways between a forwarded connection and a new
// connection to localAddr.
func (t *Tunnel) pipe(remote net.Conn, localAddr string) {
	defer t.wg.Done()
	defer remote.Close()

	local, err := net.DialTimeout("tcp", localAddr, t.config.ConnectionTimeout)
	if err != nil {
		t.logger.Warn().Err(err).Str("local", localAddr).Msg("Failed to dial local address")
		return
	}
	defer local.Close()

	copied := make(chan struct{}, 2)
	go func() {
		_, _ = io.Copy(local, remote)
		closeWrite(local)
		copied <- struct{}{}
	}()
	go func() {
		_, _ = io.Copy(remote, local)
		closeWrite(remote)
		copied <- struct{}{}
	}()

	select {
	case <-copied:
	case <-t.done:
		return
	}
	select {
	case <-copied:
	case <-t.done:
	}
}

func closeWrite(c net.Conn) {
	if cw, ok := c.(interface{ CloseWrite() error }); ok {
		_ = cw.CloseWrite()
	}
}

// keepAlive sends periodic keep-alive requests. After MaxKeepAliveRetries
// consecutive failures the connection is considered dead and closed.
func (t *Tunnel) keepAlive(client *ssh.Client) {
	defer t.wg.Done()

	ticker := time.NewTicker(t.config.KeepAliveInterval)
	defer ticker.Stop()

	retries := 0
	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
		}

		_, _, err := client.SendRequest("keepalive@openssh.com", true, nil)
		if err == nil {
			retries = 0
			continue
		}

		retries++
		t.logger.Warn().Err(err).Int("retries", retries).Msg("Keep-alive failed")
		if retries >= t.config.MaxKeepAliveRetries {
			t.logger.Error().Msg("Keep-alive failed too many times, dropping connection")
			t.connMu.Lock()
			if t.client == client {
				_ = client.Close()
				t.client = nil
				t.forwards = nil
			}
			t.connMu.Unlock()
			return
		}
	}
}

// Endpoints returns the public endpoints of every open forward.
func (t *Tunnel) Endpoints() []engine.Endpoint {
	t.connMu.Lock()
	defer t.connMu.Unlock()

	out := make([]engine.Endpoint, 0, len(t.forwards))
	for _, f := range t.forwards {
		out = append(out, f.endpoint)
	}
	return out
}

// ConnectionInfo describes the tunnel connection.
type ConnectionInfo struct {
	Host        string
	Port        int
	User        string
	Connected   bool
	ConnectedAt time.Time
	Forwards    int
}

// Info returns details about the current connection.
func (t *Tunnel) Info() ConnectionInfo {
	t.connMu.Lock()
	defer t.connMu.Unlock()

	return ConnectionInfo{
		Host:        t.config.Host,
		Port:        t.config.Port,
		User:        t.config.User,
		Connected:   t.client != nil,
		ConnectedAt: t.connectedAt,
		Forwards:    len(t.forwards),
	}
}

// IsConnected reports whether the SSH connection is open.
func (t *Tunnel) IsConnected() bool {
	t.connMu.Lock()
	defer t.connMu.Unlock()
	return t.client != nil
}

// Close stops every forward and closes the SSH connection. It waits for
// in-flight copies to stop.
func (t *Tunnel) Close() error {
	t.connMu.Lock()
	if t.closed {
		t.connMu.Unlock()
		return nil
	}
	t.closed = true
	close(t.done)

	for _, f := range t.forwards {
		if err := f.listener.Close(); err != nil {
			t.logger.Debug().Err(err).Str("local", f.localAddr).Msg("Failed to cancel remote forward")
		}
	}
	t.forwards = nil

	var err error
	if t.client != nil {
		if cerr := t.client.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = &TunnelError{Op: "disconnect", Err: cerr}
		}
		t.client = nil
	}
	if t.closeAuth != nil {
		_ = t.closeAuth()
	}
	t.connMu.Unlock()

	t.wg.Wait()
	t.logger.Debug().Msg("Tunnel closed")

	return err
}

func isAuthError(err error) bool {
	var keyErr *knownhosts.KeyError
	if errors.As(err, &keyErr) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "unable to authenticate") || strings.Contains(msg, "knownhosts:")
}
