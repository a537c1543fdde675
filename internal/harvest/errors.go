package harvest

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"
)

// ErrInvalidRequest marks an item whose request cannot be built. Such items are never retried.
var ErrInvalidRequest = errors.New("invalid request")

// TransportKind groups transport-level failures.
type TransportKind string

// Transport failure kinds.
const (
	TransportTimeout  TransportKind = "timeout"
	TransportReset    TransportKind = "connection_reset"
	TransportDNS      TransportKind = "dns"
	TransportCanceled TransportKind = "canceled"
	TransportOther    TransportKind = "other"
)

// TransportError is a typed network failure for a single attempt.
type TransportError struct {
	Kind TransportKind
	Op   string
	Err  error
}

func (e *TransportError) Error() string {
	if e == nil {
		return "transport error"
	}
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TransportError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewTransportError wraps err with a derived TransportKind. A nil err yields nil.
func NewTransportError(op string, err error) error {
	if err == nil {
		return nil
	}
	var existing *TransportError
	if errors.As(err, &existing) {
		return err
	}
	return &TransportError{Kind: transportKind(err), Op: op, Err: err}
}

func transportKind(err error) TransportKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return TransportTimeout
	}
	if errors.Is(err, context.Canceled) {
		return TransportCanceled
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsTimeout {
			return TransportTimeout
		}
		return TransportDNS
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return TransportTimeout
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) ||
		strings.Contains(strings.ToLower(err.Error()), "connection reset") {
		return TransportReset
	}
	return TransportOther
}
