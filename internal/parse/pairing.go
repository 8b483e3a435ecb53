// Package parse validates the loosely typed fields of pairing payloads.
// Values arrive as JSON strings or numbers rendered to text.
package parse

import (
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
)

var hostnameRe = regexp.MustCompile(`^(?i)[a-z0-9](?:[a-z0-9-]{0,61}[a-z0-9])?(?:\.[a-z0-9](?:[a-z0-9-]{0,61}[a-z0-9])?)*$`)

// Host normalises a server address: surrounding whitespace and IPv6
// brackets are removed and the result must be an IP or a hostname.
func Host(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")
	if s == "" {
		return "", fmt.Errorf("empty host")
	}
	if ip := net.ParseIP(s); ip != nil {
		return ip.String(), nil
	}
	if len(s) > 253 || !hostnameRe.MatchString(s) {
		return "", fmt.Errorf("invalid host: %q", raw)
	}
	return strings.ToLower(s), nil
}

// Port parses a TCP port in 1..65535.
func Port(raw string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid port: %q", raw)
	}
	if n < 1 || n > 65535 {
		return 0, fmt.Errorf("port out of range: %d", n)
	}
	return n, nil
}

// PlayerID parses the vendor player id, a positive 64-bit integer.
func PlayerID(raw string) (int64, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid player id: %q", raw)
	}
	return n, nil
}

// PlayerToken parses the per-server player token, a signed 32-bit integer.
func PlayerToken(raw string) (int32, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid player token: %q", raw)
	}
	return int32(n), nil
}
