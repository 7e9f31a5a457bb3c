package transport

import (
	"errors"
	"fmt"
	"strings"
)

// Names lists the transports New accepts.
var Names = []string{"tcp", "udp", "ws"}

var ErrUnknownTransport = errors.New("unknown transport")

// New builds the transport called name.
func New(name string, opts Options) (Transport, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "tcp":
		return NewTCP(opts), nil
	case "udp":
		if opts.SSHJump != "" {
			return nil, errors.New("udp cannot be tunnelled through an ssh jump host")
		}
		return NewUDP(opts), nil
	case "ws":
		return NewWebSocket(opts), nil
	default:
		return nil, fmt.Errorf("%w %q (want one of %s)", ErrUnknownTransport, name, strings.Join(Names, ", "))
	}
}

// Valid reports whether name is a transport New accepts
func Valid(name string) bool {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, n := range Names {
		if n == name {
			return true
		}
	}
	return false
}
