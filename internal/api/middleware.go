package api

import (
	"crypto/subtle"
	"net"
	"net/http"
	"strings"

	"github.com/saiki-69420/Supply-Chain-Management-System-in-Blockchain/internal/protocol"
)

// BearerAuthMiddleware requires the token on every request that changes
// ledger or registry state. GET requests and the health probe stay open.
// An empty token disables the check.
func BearerAuthMiddleware(token string) func(http.Handler) http.Handler {
	token = strings.TrimSpace(token)
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet || r.Method == http.MethodHead {
				next.ServeHTTP(w, r)
				return
			}
			hdr := strings.TrimSpace(r.Header.Get("Authorization"))
			parts := strings.SplitN(hdr, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				writeJSON(w, http.StatusUnauthorized, protocol.ErrorResponse{Error: protocol.ErrorBody{
					Code:      "UNAUTHORIZED",
					Message:   "missing bearer token",
					Retryable: false,
				}})
				return
			}
			given := strings.TrimSpace(parts[1])
			if subtle.ConstantTimeCompare([]byte(given), []byte(token)) != 1 {
				writeJSON(w, http.StatusUnauthorized, protocol.ErrorResponse{Error: protocol.ErrorBody{
					Code:      "UNAUTHORIZED",
					Message:   "invalid bearer token",
					Retryable: false,
				}})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// IPAllowListMiddleware rejects callers outside cidrs. No CIDRs means no
// restriction.
func IPAllowListMiddleware(cidrs []string) (func(http.Handler) http.Handler, error) {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		_, netw, err := net.ParseCIDR(c)
		if err != nil {
			return nil, err
		}
		nets = append(nets, netw)
	}
	if len(nets) == 0 {
		return func(next http.Handler) http.Handler { return next }, nil
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			host, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				host = r.RemoteAddr
			}
			if !allowed(nets, net.ParseIP(host)) {
				writeJSON(w, http.StatusForbidden, protocol.ErrorResponse{Error: protocol.ErrorBody{
					Code:      "FORBIDDEN",
					Message:   "source ip not allowed",
					Retryable: false,
				}})
				return
			}
			next.ServeHTTP(w, r)
		})
	}, nil
}

func allowed(nets []*net.IPNet, ip net.IP) bool {
	if ip == nil {
		return false
	}
	for _, n := range nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}
