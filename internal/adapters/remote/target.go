// Package remote runs provisioning against another machine: commands over
// SSH sessions and file operations over SFTP on the same connection.
package remote

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

const defaultPort = 22

// Target is the machine to provision, parsed from user@host[:port].
type Target struct {
	User string
	Host string
	Port int
}

// ParseTarget parses "user@host", "user@host:2222" or "host". An IPv6 host
// with a port must be bracketed: "root@[2001:db8::1]:22".
func ParseTarget(s string) (Target, error) {
	t := Target{Port: defaultPort}
	rest := s
	if i := strings.LastIndex(rest, "@"); i >= 0 {
		t.User, rest = rest[:i], rest[i+1:]
		if t.User == "" {
			return Target{}, fmt.Errorf("target %q: empty user", s)
		}
	}

	host, port, err := net.SplitHostPort(rest)
	if err != nil {
		// No port given.
		host = strings.TrimSuffix(strings.TrimPrefix(rest, "["), "]")
	} else {
		p, err := strconv.Atoi(port)
		if err != nil || p < 1 || p > 65535 {
			return Target{}, fmt.Errorf("target %q: invalid port %q", s, port)
		}
		t.Port = p
	}
	if host == "" {
		return Target{}, fmt.Errorf("target %q: empty host", s)
	}
	t.Host = host
	return t, nil
}

// Addr returns host:port for dialing.
func (t Target) Addr() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

// String returns the target in user@host:port form.
func (t Target) String() string {
	if t.User == "" {
		return t.Addr()
	}
	return t.User + "@" + t.Addr()
}
