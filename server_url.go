package main

import (
	"net"
	"strings"
)

// listenerURL renders a reachable URL for a listener address, e.g. "ws://localhost:43217/ws".
func listenerURL(scheme, address, path string) string {
	return scheme + "://" + dialAddress(address) + path
}

// dialAddress turns a bind address into one a local client can dial. Wildcard hosts become
// localhost.
func dialAddress(address string) string {
	trimmed := strings.TrimSpace(address)
	if trimmed == "" {
		return "localhost"
	}
	host, port, err := net.SplitHostPort(trimmed)
	if err != nil {
		if strings.HasPrefix(trimmed, ":") {
			return "localhost" + trimmed
		}
		return trimmed
	}
	switch strings.TrimSpace(host) {
	case "", "0.0.0.0", "::", "[::]":
		host = "localhost"
	}
	return net.JoinHostPort(strings.TrimSpace(host), port)
}
