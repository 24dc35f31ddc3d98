package ssh

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// testSSHServer is a minimal SSH server that supports remote port
// forwarding, enough to exercise a Tunnel end to end.
type testSSHServer struct {
	listener net.Listener
	config   *ssh.ServerConfig
	hostKey  ssh.PublicKey
	addr     string
	done     chan struct{}

	mu       sync.Mutex
	forwards map[uint32]net.Listener
}

func newTestSSHServer(t *testing.T) *testSSHServer {
	t.Helper()

	hostKey, signer, err := generateTestKey()
	if err != nil {
		t.Fatalf("failed to generate host key: %v", err)
	}

	config := &ssh.ServerConfig{
		PasswordCallback: func(c ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if c.User() == "testuser" && string(pass) == "testpass" {
				return nil, nil
			}
			return nil, fmt.Errorf("invalid credentials")
		},
	}
	config.AddHostKey(signer)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}

	server := &testSSHServer{
		listener: listener,
		config:   config,
		hostKey:  hostKey,
		addr:     listener.Addr().String(),
		done:     make(chan struct{}),
		forwards: make(map[uint32]net.Listener),
	}

	go server.serve()
	t.Cleanup(server.close)

	return server
}

func (s *testSSHServer) serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		go s.handleConnection(conn)
	}
}

func (s *testSSHServer) handleConnection(netConn net.Conn) {
	defer netConn.Close()

	sshConn, chans, reqs, err := ssh.NewServerConn(netConn, s.config)
	if err != nil {
		return
	}
	defer sshConn.Close()

	go func() {
		for newChannel := range chans {
			newChannel.Reject(ssh.UnknownChannelType, "unsupported channel type")
		}
	}()

	for req := range reqs {
		switch req.Type {
		case "tcpip-forward":
			var msg struct {
				Addr string
				Port uint32
			}
			if err := ssh.Unmarshal(req.Payload, &msg); err != nil {
				req.Reply(false, nil)
				continue
			}
			l, err := net.Listen("tcp", net.JoinHostPort(msg.Addr, strconv.Itoa(int(msg.Port))))
			if err != nil {
				req.Reply(false, nil)
				continue
			}
			port := uint32(l.Addr().(*net.TCPAddr).Port)

			s.mu.Lock()
			s.forwards[port] = l
			s.mu.Unlock()

			req.Reply(true, ssh.Marshal(struct{ Port uint32 }{port}))
			go s.forward(sshConn, l, msg.Addr, port)

		case "cancel-tcpip-forward":
			var msg struct {
				Addr string
				Port uint32
			}
			if err := ssh.Unmarshal(req.Payload, &msg); err == nil {
				s.mu.Lock()
				if l, ok := s.forwards[msg.Port]; ok {
					l.Close()
					delete(s.forwards, msg.Port)
				}
				s.mu.Unlock()
			}
			req.Reply(true, nil)

		default:
			if req.WantReply {
				req.Reply(false, nil)
			}
		}
	}
}

// forward opens a forwarded-tcpip channel back to the client for every
// connection accepted on l.
func (s *testSSHServer) forward(conn *ssh.ServerConn, l net.Listener, addr string, port uint32) {
	for {
		c, err := l.Accept()
		if err != nil {
			return
		}

		go func() {
			defer c.Close()

			origin := c.RemoteAddr().(*net.TCPAddr)
			payload := ssh.Marshal(struct {
				Addr       string
				Port       uint32
				OriginAddr string
				OriginPort uint32
			}{addr, port, origin.IP.String(), uint32(origin.Port)})

			ch, reqs, err := conn.OpenChannel("forwarded-tcpip", payload)
			if err != nil {
				return
			}
			defer ch.Close()
			go ssh.DiscardRequests(reqs)

			done := make(chan struct{}, 2)
			go func() {
				io.Copy(ch, c)
				ch.CloseWrite()
				done <- struct{}{}
			}()
			go func() {
				io.Copy(c, ch)
				done <- struct{}{}
			}()
			<-done
			<-done
		}()
	}
}

func (s *testSSHServer) close() {
	close(s.done)
	s.listener.Close()

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.forwards {
		l.Close()
	}
}

// generateTestKey generates a test SSH key pair.
func generateTestKey() (ssh.PublicKey, ssh.Signer, error) {
	pubKey, privKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, err
	}

	signer, err := ssh.NewSignerFromKey(privKey)
	if err != nil {
		return nil, nil, err
	}

	publicKey, err := ssh.NewPublicKey(pubKey)
	if err != nil {
		return nil, nil, err
	}

	return publicKey, signer, nil
}

// startEchoServer starts a TCP server that echoes everything it reads.
func startEchoServer(t *testing.T) string {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	t.Cleanup(func() { l.Close() })

	go func() {
		for {
			c, err := l.Accept()
			if err != nil {
				return
			}
			go func() {
				defer c.Close()
				io.Copy(c, c)
			}()
		}
	}()

	return l.Addr().String()
}

func testTunnelConfig(t *testing.T, server *testSSHServer) *Config {
	t.Helper()

	host, portStr, err := net.SplitHostPort(server.addr)
	if err != nil {
		t.Fatalf("bad server address: %v", err)
	}
	port, _ := strconv.Atoi(portStr)

	config := DefaultConfig(host, "testuser")
	config.Port = port
	config.AuthMethod = AuthMethodPassword
	config.Password = "testpass"
	config.InsecureIgnoreHostKey = true
	config.ConnectionTimeout = 5 * time.Second
	config.KeepAliveInterval = 0
	config.RemoteBindHost = "127.0.0.1"
	return config
}

func TestTunnelExposeForwardsTraffic(t *testing.T) {
	server := newTestSSHServer(t)
	echoAddr := startEchoServer(t)

	tunnel, err := NewTunnel(testTunnelConfig(t, server))
	if err != nil {
		t.Fatalf("failed to create tunnel: %v", err)
	}
	defer tunnel.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	endpoint, err := tunnel.Expose(ctx, echoAddr)
	if err != nil {
		t.Fatalf("failed to expose: %v", err)
	}

	if endpoint.Host != "127.0.0.1" {
		t.Errorf("expected endpoint host '127.0.0.1', got '%s'", endpoint.Host)
	}
	if endpoint.Port == 0 {
		t.Fatal("expected a forwarded port")
	}

	conn, err := net.DialTimeout("tcp", endpoint.String(), 5*time.Second)
	if err != nil {
		t.Fatalf("failed to dial forwarded port: %v", err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

	if _, err := conn.Write([]byte("ping")); err != nil {
		t.Fatalf("failed to write: %v", err)
	}
	buf := make([]byte, 4)
	if _, err := io.ReadFull(conn, buf); err != nil {
		t.Fatalf("failed to read echo: %v", err)
	}
	if string(buf) != "ping" {
		t.Errorf("expected 'ping', got '%s'", buf)
	}

	info := tunnel.Info()
	if !info.Connected {
		t.Error("expected tunnel to be connected")
	}
	if info.Forwards != 1 {
		t.Errorf("expected 1 forward, got %d", info.Forwards)
	}
}

func TestTunnelExposeTwiceSharesConnection(t *testing.T) {
	server := newTestSSHServer(t)
	echoAddr := startEchoServer(t)

	config := testTunnelConfig(t, server)
	config.PublicHost = "tunnel.example.com"

	tunnel, err := NewTunnel(config)
	if err != nil {
		t.Fatalf("failed to create tunnel: %v", err)
	}
	defer tunnel.Close()

	ctx := context.Background()
	first, err := tunnel.Expose(ctx, echoAddr)
	if err != nil {
		t.Fatalf("first expose failed: %v", err)
	}
	second, err := tunnel.Expose(ctx, echoAddr)
	if err != nil {
		t.Fatalf("second expose failed: %v", err)
	}

	if first.Port == second.Port {
		t.Errorf("expected distinct ports, got %d twice", first.Port)
	}
	for _, ep := range tunnel.Endpoints() {
		if ep.Host != "tunnel.example.com" {
			t.Errorf("expected public host 'tunnel.example.com', got '%s'", ep.Host)
		}
	}
	if len(tunnel.Endpoints()) != 2 {
		t.Errorf("expected 2 endpoints, got %d", len(tunnel.Endpoints()))
	}
}

func TestTunnelWrongPassword(t *testing.T) {
	server := newTestSSHServer(t)

	config := testTunnelConfig(t, server)
	config.Password = "wrong"

	tunnel, err := NewTunnel(config)
	if err != nil {
		t.Fatalf("failed to create tunnel: %v", err)
	}
	defer tunnel.Close()

	err = tunnel.Connect(context.Background())
	var terr *TunnelError
	if !errors.As(err, &terr) {
		t.Fatalf("expected TunnelError, got %v", err)
	}
	if !terr.Auth {
		t.Errorf("expected auth error, got %v", terr)
	}
}

func TestTunnelKnownHosts(t *testing.T) {
	server := newTestSSHServer(t)

	writeKnownHosts := func(t *testing.T, key ssh.PublicKey) string {
		path := filepath.Join(t.TempDir(), "known_hosts")
		line := knownhosts.Line([]string{knownhosts.Normalize(server.addr)}, key)
		if err := os.WriteFile(path, []byte(line+"\n"), 0600); err != nil {
			t.Fatalf("failed to write known_hosts: %v", err)
		}
		return path
	}

	t.Run("matching key", func(t *testing.T) {
		config := testTunnelConfig(t, server)
		config.InsecureIgnoreHostKey = false
		config.KnownHostsPath = writeKnownHosts(t, server.hostKey)

		tunnel, err := NewTunnel(config)
		if err != nil {
			t.Fatalf("failed to create tunnel: %v", err)
		}
		defer tunnel.Close()

		if err := tunnel.Connect(context.Background()); err != nil {
			t.Fatalf("expected connect to succeed: %v", err)
		}
		if !tunnel.IsConnected() {
			t.Error("expected tunnel to be connected")
		}
	})

	t.Run("mismatched key", func(t *testing.T) {
		otherKey, _, err := generateTestKey()
		if err != nil {
			t.Fatalf("failed to generate key: %v", err)
		}

		config := testTunnelConfig(t, server)
		config.InsecureIgnoreHostKey = false
		config.KnownHostsPath = writeKnownHosts(t, otherKey)

		tunnel, err := NewTunnel(config)
		if err != nil {
			t.Fatalf("failed to create tunnel: %v", err)
		}
		defer tunnel.Close()

		err = tunnel.Connect(context.Background())
		var terr *TunnelError
		if !errors.As(err, &terr) || !terr.Auth {
			t.Fatalf("expected host key error, got %v", err)
		}
	})
}

func TestTunnelClose(t *testing.T) {
	server := newTestSSHServer(t)
	echoAddr := startEchoServer(t)

	tunnel, err := NewTunnel(testTunnelConfig(t, server))
	if err != nil {
		t.Fatalf("failed to create tunnel: %v", err)
	}

	endpoint, err := tunnel.Expose(context.Background(), echoAddr)
	if err != nil {
		t.Fatalf("failed to expose: %v", err)
	}

	if err := tunnel.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if err := tunnel.Close(); err != nil {
		t.Errorf("second close should be a no-op, got %v", err)
	}

	if tunnel.IsConnected() {
		t.Error("expected tunnel to be disconnected")
	}
	if _, err := tunnel.Expose(context.Background(), echoAddr); err == nil {
		t.Error("expected expose on a closed tunnel to fail")
	}

	// The server drops the forward once the client cancels it.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", endpoint.String(), time.Second)
		if err != nil {
			return
		}
		conn.Close()
		time.Sleep(50 * time.Millisecond)
	}
	t.Error("expected forwarded port to be closed")
}

func TestNewTunnelInvalidConfig(t *testing.T) {
	config := DefaultConfig("", "testuser")

	if _, err := NewTunnel(config); err == nil {
		t.Error("expected error for invalid config")
	}
}
