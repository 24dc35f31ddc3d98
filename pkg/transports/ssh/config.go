package ssh

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

// AuthMethod represents the type of SSH authentication.
type AuthMethod string

const (
	// AuthMethodPassword uses password authentication
	AuthMethodPassword AuthMethod = "password"

	// AuthMethodKey uses private key authentication
	AuthMethodKey AuthMethod = "key"

	// AuthMethodAgent uses the agent listening on SSH_AUTH_SOCK
	AuthMethodAgent AuthMethod = "agent"
)

// Config holds the connection settings of the tunnel host.
type Config struct {
	// Host is the tunnel host name or IP address
	Host string `yaml:"host" json:"host" env:"SYNCPROBE_TUNNEL_HOST"`

	// Port is the SSH port (default: 22)
	Port int `yaml:"port" json:"port" env:"SYNCPROBE_TUNNEL_PORT" env-default:"22"`

	// User is the SSH username
	User string `yaml:"user" json:"user" env:"SYNCPROBE_TUNNEL_USER"`

	// AuthMethod specifies which authentication method to use
	AuthMethod AuthMethod `yaml:"auth_method" json:"auth_method" env-default:"key"`

	// Password for password-based authentication
	Password string `yaml:"-" json:"-" env:"SYNCPROBE_TUNNEL_PASSWORD"`

	// PrivateKeyPath is the path to the private key file
	PrivateKeyPath string `yaml:"private_key_path" json:"private_key_path" env:"SYNCPROBE_TUNNEL_KEY_PATH"`

	// PrivateKeyPassphrase is the passphrase for encrypted private keys
	PrivateKeyPassphrase string `yaml:"-" json:"-" env:"SYNCPROBE_TUNNEL_KEY_PASSPHRASE"`

	// KnownHostsPath is the path to the known_hosts file
	KnownHostsPath string `yaml:"known_hosts_path" json:"known_hosts_path"`

	// InsecureIgnoreHostKey accepts any host key. When false the host must
	// be listed in KnownHostsPath.
	InsecureIgnoreHostKey bool `yaml:"insecure_ignore_host_key" json:"insecure_ignore_host_key" env:"SYNCPROBE_TUNNEL_INSECURE_IGNORE_HOST_KEY"`

	// ConnectionTimeout is the timeout for establishing a connection
	ConnectionTimeout time.Duration `yaml:"connection_timeout" json:"connection_timeout" env-default:"30s"`

	// KeepAliveInterval is the interval for sending keep-alive messages
	// Set to 0 to disable keep-alive
	KeepAliveInterval time.Duration `yaml:"keep_alive_interval" json:"keep_alive_interval" env-default:"30s"`

	// MaxKeepAliveRetries is the number of failed keep-alives after which
	// the tunnel is considered dead
	MaxKeepAliveRetries int `yaml:"max_keep_alive_retries" json:"max_keep_alive_retries" env-default:"3"`

	// RemoteBindHost is the address the tunnel host listens on for
	// forwarded ports. Binding to anything other than loopback needs
	// GatewayPorts enabled on the server.
	RemoteBindHost string `yaml:"remote_bind_host" json:"remote_bind_host" env-default:"0.0.0.0"`

	// PublicHost is the address the platform uses to reach forwarded
	// ports. Empty means Host.
	PublicHost string `yaml:"public_host" json:"public_host" env:"SYNCPROBE_TUNNEL_PUBLIC_HOST"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig(host string, user string) *Config {
	return &Config{
		Host:                host,
		Port:                22,
		User:                user,
		AuthMethod:          AuthMethodKey,
		KnownHostsPath:      filepath.Join(os.Getenv("HOME"), ".ssh", "known_hosts"),
		ConnectionTimeout:   30 * time.Second,
		KeepAliveInterval:   30 * time.Second,
		MaxKeepAliveRetries: 3,
		RemoteBindHost:      "0.0.0.0",
	}
}

// Validate reports every problem with the configuration at once.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...interface{}) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Host != "", "host is required")
	check(c.Port > 0 && c.Port <= 65535, "invalid port: %d", c.Port)
	check(c.User != "", "user is required")

	switch c.AuthMethod {
	case AuthMethodPassword:
		check(c.Password != "", "password is required for password authentication")
	case AuthMethodKey:
		path := c.keyPath()
		if path == "" {
			errs = append(errs, errors.New("private key path is required for key authentication and no default key found"))
		} else if _, err := os.Stat(path); err != nil {
			errs = append(errs, fmt.Errorf("private key file not found: %s", path))
		}
	case AuthMethodAgent:
		check(os.Getenv("SSH_AUTH_SOCK") != "", "SSH_AUTH_SOCK is not set for agent authentication")
	default:
		errs = append(errs, fmt.Errorf("unsupported auth method: %s", c.AuthMethod))
	}

	check(c.InsecureIgnoreHostKey || c.KnownHostsPath != "", "known hosts path is required unless insecure_ignore_host_key is set")
	check(c.ConnectionTimeout > 0, "connection timeout must be positive")
	check(c.KeepAliveInterval >= 0, "keep-alive interval must not be negative")
	check(c.RemoteBindHost != "", "remote bind host is required")

	return errors.Join(errs...)
}

// defaultKeyNames are tried in ~/.ssh, in order, when no key path is set.
var defaultKeyNames = []string{"id_ed25519", "id_ecdsa", "id_rsa"}

// keyPath returns PrivateKeyPath, or the first default key that exists.
func (c *Config) keyPath() string {
	if c.PrivateKeyPath != "" {
		return c.PrivateKeyPath
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	for _, name := range defaultKeyNames {
		candidate := filepath.Join(home, ".ssh", name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

// BuildSSHClientConfig creates an ssh.ClientConfig from the Config. The
// returned closer releases the agent connection, if any.
func (c *Config) BuildSSHClientConfig() (*ssh.ClientConfig, func() error, error) {
	var authMethods []ssh.AuthMethod
	closer := func() error { return nil }

	switch c.AuthMethod {
	case AuthMethodPassword:
		authMethods = append(authMethods, ssh.Password(c.Password))

		// Many servers only offer keyboard-interactive for passwords.
		authMethods = append(authMethods, ssh.KeyboardInteractive(
			func(user, instruction string, questions []string, echos []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = c.Password
				}
				return answers, nil
			},
		))

	case AuthMethodKey:
		keyBytes, err := os.ReadFile(c.keyPath())
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read private key: %w", err)
		}

		var signer ssh.Signer
		if c.PrivateKeyPassphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(keyBytes, []byte(c.PrivateKeyPassphrase))
		} else {
			signer, err = ssh.ParsePrivateKey(keyBytes)
		}
		if err != nil {
			return nil, nil, fmt.Errorf("failed to parse private key: %w", err)
		}

		authMethods = append(authMethods, ssh.PublicKeys(signer))

	case AuthMethodAgent:
		sock, err := net.Dial("unix", os.Getenv("SSH_AUTH_SOCK"))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to ssh agent: %w", err)
		}
		authMethods = append(authMethods, ssh.PublicKeysCallback(agent.NewClient(sock).Signers))
		closer = sock.Close

	default:
		return nil, nil, fmt.Errorf("unsupported auth method: %s", c.AuthMethod)
	}

	hostKeyCallback, err := c.hostKeyCallback()
	if err != nil {
		_ = closer()
		return nil, nil, err
	}

	clientConfig := &ssh.ClientConfig{
		User:            c.User,
		Auth:            authMethods,
		HostKeyCallback: hostKeyCallback,
		Timeout:         c.ConnectionTimeout,
	}

	return clientConfig, closer, nil
}

func (c *Config) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if c.InsecureIgnoreHostKey {
		return ssh.InsecureIgnoreHostKey(), nil
	}

	callback, err := knownhosts.New(c.KnownHostsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load known_hosts: %w", err)
	}
	return callback, nil
}

// Address returns the formatted SSH address (host:port).
func (c *Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// PublicAddress returns the host the platform should dial for forwarded ports.
func (c *Config) PublicAddress() string {
	if c.PublicHost != "" {
		return c.PublicHost
	}
	return c.Host
}
