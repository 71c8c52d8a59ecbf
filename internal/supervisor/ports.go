package supervisor

import (
	"net"
	"time"

	"servectl/internal/common/netutil"
)

// portBusy reports whether something accepts connections on host:port.
// Wildcard hosts are probed on loopback.
func portBusy(host string, port int) bool {
	conn, err := net.DialTimeout("tcp", netutil.LoopbackAddr(host, port), 300*time.Millisecond)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}
