package admission

import (
	"net"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// IdentifierType namespaces rate-limit counters. Counters for different types never
// share a row, even if their values collide (an org slug that happens to look like
// an IP must not inherit that IP's budget).
type IdentifierType string

const (
	IdentifierIP  IdentifierType = "ip"
	IdentifierOrg IdentifierType = "org"
)

// UnknownIdentifier is the sentinel value used when a caller cannot be identified.
// Identification fails open: a malformed proxy header must not reject the request,
// it just folds the caller into the shared "unknown" bucket.
const UnknownIdentifier = "unknown"

// Identifier is the composite identity a rate-limit counter is keyed by.
type Identifier struct {
	Type  IdentifierType
	Value string
}

func IPIdentifier(value string) Identifier {
	return Identifier{Type: IdentifierIP, Value: value}
}

func OrgIdentifier(value string) Identifier {
	return Identifier{Type: IdentifierOrg, Value: value}
}

// ClientIP extracts the originating client address from the request. It prefers the
// left-most X-Forwarded-For entry (the original client when behind proxies), then the
// direct connection address. It never fails; anything unparseable yields
// UnknownIdentifier.
func ClientIP(c *fiber.Ctx) string {
	if xff := c.Get(fiber.HeaderXForwardedFor); xff != "" {
		first := strings.TrimSpace(strings.Split(xff, ",")[0])
		if ip := parseAddr(first); ip != "" {
			return ip
		}
	}
	if ip := parseAddr(c.IP()); ip != "" {
		return ip
	}
	return UnknownIdentifier
}

// parseAddr normalizes a candidate address, tolerating an attached port.
func parseAddr(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(s); err == nil {
		s = host
	}
	if ip := net.ParseIP(strings.Trim(s, "[]")); ip != nil {
		return ip.String()
	}
	return ""
}
