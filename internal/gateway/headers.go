package gateway

import (
	"net/http"
	"strings"
)

// HeaderOriginalAuthorization carries the caller's own credential upstream
// when a static upstream key is configured.
const HeaderOriginalAuthorization = "X-Original-Authorization"

// AuthHeaders derives the upstream credential headers. A configured apiKey is
// the primary credential and the caller's Authorization travels along under
// HeaderOriginalAuthorization; otherwise the caller's Authorization is relayed
// as is. Both may be absent.
func AuthHeaders(apiKey, clientAuth string) http.Header {
	h := http.Header{}
	apiKey = strings.TrimSpace(apiKey)
	clientAuth = strings.TrimSpace(clientAuth)
	switch {
	case apiKey != "":
		h.Set("Authorization", "Bearer "+apiKey)
		if clientAuth != "" {
			h.Set(HeaderOriginalAuthorization, clientAuth)
		}
	case clientAuth != "":
		h.Set("Authorization", clientAuth)
	}
	return h
}
