package driver

import (
	"regexp"
	"strconv"
)

var serverRe = regexp.MustCompile(`^(?:\[([^\]]+)\]|([^:]+))(?::(\d+))?$`)

// ParseServer splits "host", "host:port" and "[v6addr]:port" forms,
// defaulting to the engine's standard port.
func ParseServer(server string, defaultPort int) (string, int) {
	if server == "" {
		return "127.0.0.1", defaultPort
	}
	m := serverRe.FindStringSubmatch(server)
	if m == nil {
		return server, defaultPort
	}
	host := m[1]
	if host == "" {
		host = m[2]
	}
	port := defaultPort
	if m[3] != "" {
		port, _ = strconv.Atoi(m[3])
	}
	return host, port
}
