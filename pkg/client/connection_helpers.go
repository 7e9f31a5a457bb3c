package client

import (
	"net"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/aeolun/ipk24chat/pkg/transport"
)

// FallbackTransport is used when neither a flag, the config file nor the
// connection history names one.
const FallbackTransport = "tcp"

// ServerKey is the connection history key for a server.
func ServerKey(server string, port int) string {
	return net.JoinHostPort(strings.ToLower(strings.TrimSpace(server)), strconv.Itoa(port))
}

// ResolveTransport picks the transport name for server:port. An explicit
// choice wins; otherwise the last transport that reached the Open state
// against the same server is reused, checking the exact host:port first and
// then the bare host on the default port.
func ResolveTransport(explicit, server string, port int, store StateStore, logger *zap.Logger) string {
	if explicit != "" {
		return strings.ToLower(explicit)
	}
	if store == nil {
		return FallbackTransport
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	for _, key := range buildLookupAddresses(server, port) {
		name, err := store.GetLastSuccessfulTransport(key)
		if err != nil {
			logger.Debug("connection history lookup failed", zap.String("server", key), zap.Error(err))
			continue
		}
		if name != "" && transport.Valid(name) {
			logger.Debug("found connection history", zap.String("server", key), zap.String("transport", name))
			return name
		}
	}

	return FallbackTransport
}

func buildLookupAddresses(server string, port int) []string {
	lookup := []string{ServerKey(server, port)}
	if port != transport.DefaultPort {
		lookup = append(lookup, ServerKey(server, transport.DefaultPort))
	}
	return lookup
}
