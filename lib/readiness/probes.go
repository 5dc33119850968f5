package readiness

import (
	"context"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

// PortProbe dials a TCP port. A successful connection means something is
// listening, which is a conflict when choosing a port and readiness when
// waiting for a service.
type PortProbe struct {
	Host    string
	Timeout time.Duration
}

// NewPortProbe returns a probe against host with the given dial timeout.
func NewPortProbe(host string, timeout time.Duration) *PortProbe {
	return &PortProbe{Host: host, Timeout: timeout}
}

// Listening reports whether port accepts TCP connections.
func (p *PortProbe) Listening(ctx context.Context, port int) bool {
	dialer := net.Dialer{Timeout: p.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(p.Host, strconv.Itoa(port)))
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// Port returns a Predicate for Listening on port.
func (p *PortProbe) Port(port int) Predicate {
	return func(ctx context.Context) bool { return p.Listening(ctx, port) }
}

// LogMarker returns a Predicate that holds once the file at path contains
// marker. A missing or unreadable file does not hold.
func LogMarker(path, marker string) Predicate {
	return func(context.Context) bool {
		data, err := os.ReadFile(path)
		if err != nil {
			return false
		}
		return strings.Contains(string(data), marker)
	}
}
