package ratelimit

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/af-corp/chatlog-relay/internal/httputil"
	"github.com/af-corp/chatlog-relay/internal/telemetry"
)

const (
	headerRateLimitRequests          = "X-RateLimit-Limit-Requests"
	headerRateLimitRemainingRequests = "X-RateLimit-Remaining-Requests"
	headerRateLimitReset             = "X-RateLimit-Reset-Requests"
	headerRetryAfter                 = "Retry-After"
)

// Middleware returns chi middleware that limits requests per client IP. The
// rate is read per request so a config reload applies immediately; a zero
// rate lets everything through.
func Middleware(limiter *Limiter, rate func() Rate, metrics *telemetry.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rt := rate()
			if rt.Unlimited() {
				next.ServeHTTP(w, r)
				return
			}
			reqID := w.Header().Get("X-Request-ID")
			client := clientIP(r)

			result, _ := limiter.Check(r.Context(), "ip:"+client, rt.Limit, rt.Window)

			w.Header().Set(headerRateLimitRequests, strconv.FormatInt(rt.Limit, 10))
			w.Header().Set(headerRateLimitRemainingRequests, strconv.FormatInt(result.Remaining, 10))
			w.Header().Set(headerRateLimitReset, result.ResetAt.Format(time.RFC3339))

			if !result.Allowed {
				slog.Warn("rate limit exceeded",
					"request_id", reqID,
					"client_ip", client,
					"limit", rt.String(),
				)
				metrics.RecordRateLimited()
				w.Header().Set(headerRetryAfter, strconv.Itoa(max(int(result.RetryAfter.Seconds()), 1)))
				httputil.WriteRateLimitError(w, reqID,
					fmt.Sprintf("Rate limit exceeded: %s. Retry after %s", rt, result.ResetAt.Format(time.RFC3339)))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// clientIP strips the port from RemoteAddr, which chi's RealIP middleware has
// already replaced with the forwarded address when present.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
