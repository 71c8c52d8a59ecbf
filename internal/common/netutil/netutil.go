// Package netutil holds address helpers shared by the supervisor and the smoke client.
package netutil

import (
	"net"
	"strconv"
	"strings"
)

// LoopbackHost maps wildcard bind addresses to the matching loopback address.
// Bracketed IPv6 literals are unwrapped so the result can go to net.JoinHostPort.
func LoopbackHost(host string) string {
	h := strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
	switch h {
	case "", "0.0.0.0":
		return "127.0.0.1"
	case "::":
		return "::1"
	}
	return h
}

// LoopbackAddr is host:port with the host passed through LoopbackHost.
func LoopbackAddr(host string, port int) string {
	return net.JoinHostPort(LoopbackHost(host), strconv.Itoa(port))
}
