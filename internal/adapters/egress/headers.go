package egress

import (
	"net/http"
	"strings"
)

var strippedHeaders = []string{
	"Cookie",
	"Origin",
	"Referer",
	"Forwarded",
	"X-Real-Ip",
	"X-Client-Ip",
	"True-Client-Ip",
	"Cf-Connecting-Ip",
	"Proxy-Authorization",
}

var strippedPrefixes = []string{"X-Forwarded-", "Sec-Ch-"}

// StripHeaders removes headers that would leak the caller's identity or
// session to the destination.
func StripHeaders(h http.Header) {
	if h == nil {
		return
	}
	for _, name := range strippedHeaders {
		h.Del(name)
	}
	for name := range h {
		canonical := http.CanonicalHeaderKey(name)
		for _, prefix := range strippedPrefixes {
			if strings.HasPrefix(canonical, prefix) {
				delete(h, name)
				break
			}
		}
	}
}
