package main

import "testing"

func TestListenerURL(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		scheme  string
		address string
		path    string
		want    string
	}{
		"default_port_only":    {scheme: "http", address: ":43217", want: "http://localhost:43217"},
		"explicit_ipv4_any":    {scheme: "http", address: "0.0.0.0:9000", path: "/readyz", want: "http://localhost:9000/readyz"},
		"explicit_ipv4_local":  {scheme: "ws", address: "127.0.0.1:43217", path: "/ws", want: "ws://127.0.0.1:43217/ws"},
		"explicit_ipv6_any":    {scheme: "http", address: "[::]:43217", want: "http://localhost:43217"},
		"explicit_ipv6_custom": {scheme: "grpc", address: "[2001:db8::1]:43218", want: "grpc://[2001:db8::1]:43218"},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			if got := listenerURL(tc.scheme, tc.address, tc.path); got != tc.want {
				t.Fatalf("listenerURL(%q, %q, %q) = %q, want %q", tc.scheme, tc.address, tc.path, got, tc.want)
			}
		})
	}
}

func TestDialAddressWithoutPort(t *testing.T) {
	t.Parallel()

	if got := dialAddress(""); got != "localhost" {
		t.Fatalf("expected localhost for empty address, got %q", got)
	}
	if got := dialAddress("replay.internal"); got != "replay.internal" {
		t.Fatalf("expected bare host to pass through, got %q", got)
	}
}
