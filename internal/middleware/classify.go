package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/affbridge/affbridge/internal/geoip"
	"github.com/affbridge/affbridge/internal/uaclass"
)

type classificationKey struct{}

// Classification carries the per-request classifier results handlers read
// from the request context.
type Classification struct {
	ClientIP string
	IP       geoip.Classification
	UA       uaclass.Result
}

// TrustConfig decides when proxy-supplied client-IP headers are believed.
type TrustConfig struct {
	// TrustAll skips the peer check; for single-tier deployments where the
	// process sits directly behind one reverse proxy.
	TrustAll bool
	// Proxies lists upstream CIDRs whose headers are trusted.
	Proxies []*net.IPNet
}

// ParseTrustedProxies converts CIDR strings into a TrustConfig. Invalid
// entries are skipped; a bare IP is treated as a /32 (or /128).
func ParseTrustedProxies(cidrs []string, trustAll bool) TrustConfig {
	tc := TrustConfig{TrustAll: trustAll}
	for _, c := range cidrs {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if !strings.Contains(c, "/") {
			if ip := net.ParseIP(c); ip != nil {
				if ip.To4() != nil {
					c += "/32"
				} else {
					c += "/128"
				}
			}
		}
		if _, n, err := net.ParseCIDR(c); err == nil {
			tc.Proxies = append(tc.Proxies, n)
		}
	}
	return tc
}

func (tc TrustConfig) trusts(peer string) bool {
	if tc.TrustAll {
		return true
	}
	ip := net.ParseIP(peer)
	if ip == nil {
		return false
	}
	for _, n := range tc.Proxies {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// ClientIP extracts the visitor IP, preferring CF-Connecting-IP, X-Real-IP,
// then the first non-private X-Forwarded-For entry, then the socket peer.
// Proxy headers are only consulted when the immediate peer is trusted.
func ClientIP(r *http.Request, trust TrustConfig) string {
	peer := r.RemoteAddr
	if host, _, err := net.SplitHostPort(peer); err == nil {
		peer = host
	}
	peer = strings.TrimPrefix(peer, "::ffff:")

	if !trust.trusts(peer) {
		return peer
	}

	if v := r.Header.Get("CF-Connecting-IP"); v != "" {
		return strings.TrimPrefix(strings.TrimSpace(v), "::ffff:")
	}
	if v := r.Header.Get("X-Real-IP"); v != "" {
		return strings.TrimPrefix(strings.TrimSpace(v), "::ffff:")
	}
	if v := r.Header.Get("X-Forwarded-For"); v != "" {
		for _, part := range strings.Split(v, ",") {
			cand := strings.TrimPrefix(strings.TrimSpace(part), "::ffff:")
			ip := net.ParseIP(cand)
			if ip == nil {
				continue
			}
			if ip.IsPrivate() || ip.IsLoopback() || ip.IsLinkLocalUnicast() {
				continue
			}
			return cand
		}
	}
	return peer
}

// WithClassification returns middleware that classifies every request's IP
// and User-Agent and attaches the result to the context.
func WithClassification(classifier *geoip.Classifier, trust TrustConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := ClientIP(r, trust)
			cls := Classification{
				ClientIP: ip,
				IP:       classifier.Classify(ip),
				UA:       uaclass.Classify(r.Header.Get("User-Agent")),
			}
			ctx := context.WithValue(r.Context(), classificationKey{}, cls)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClassificationFromRequest returns the classifier results attached by
// WithClassification. The zero value is returned when the middleware did not
// run, which classifies as a non-bot with an unparseable IP.
func ClassificationFromRequest(r *http.Request) Classification {
	if cls, ok := r.Context().Value(classificationKey{}).(Classification); ok {
		return cls
	}
	return Classification{}
}
