package transport

import (
	"fmt"
	"net"
	"strconv"
)

// NodeAddress is a transport endpoint.
type NodeAddress struct {
	Host string `json:"host" yaml:"host"`
	Port int    `json:"port" yaml:"port"`
}

func (a NodeAddress) String() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

func (a NodeAddress) IsZero() bool { return a.Host == "" && a.Port == 0 }

// ParseNodeAddress parses "host:port". An empty host means all interfaces when
// listening and localhost when dialing.
func ParseNodeAddress(s string) (NodeAddress, error) {
	host, port, err := net.SplitHostPort(s)
	if err != nil {
		return NodeAddress{}, fmt.Errorf("parse node address %q: %w", s, err)
	}
	p, err := strconv.Atoi(port)
	if err != nil || p < 0 || p > 65535 {
		return NodeAddress{}, fmt.Errorf("parse node address %q: invalid port", s)
	}
	return NodeAddress{Host: host, Port: p}, nil
}

func MustParseNodeAddress(s string) NodeAddress {
	a, err := ParseNodeAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

func addressOf(addr net.Addr) NodeAddress {
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return NodeAddress{Host: tcp.IP.String(), Port: tcp.Port}
	}
	a, _ := ParseNodeAddress(addr.String())
	return a
}

func dialAddress(a NodeAddress) string {
	if a.Host == "" {
		return net.JoinHostPort("localhost", strconv.Itoa(a.Port))
	}
	return a.String()
}
