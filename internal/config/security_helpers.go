package config

import (
	"net/url"
	"strings"
)

func dsnUsesInsecureSSL(dsn string) bool {
	u, err := url.Parse(strings.TrimSpace(dsn))
	if err != nil {
		return false
	}
	q := strings.TrimSpace(strings.ToLower(u.Query().Get("sslmode")))
	return q == "" || q == "disable" || q == "allow" || q == "prefer"
}

func isTLSRedisURL(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Scheme, "rediss")
}
