// Package ssh exposes local addresses to the platform through remote port
// forwarding on an SSH host.
package ssh

// TunnelError is a failed tunnel operation: connect, handshake, listen or
// disconnect.
type TunnelError struct {
	Op  string
	Err error

	// Retryable is set when the tunnel host could not be reached.
	Retryable bool

	// Auth is set for authentication and host key failures, which do not
	// go away on retry.
	Auth bool
}

func (e *TunnelError) Error() string {
	return "ssh tunnel " + e.Op + ": " + e.Err.Error()
}

func (e *TunnelError) Unwrap() error {
	return e.Err
}
