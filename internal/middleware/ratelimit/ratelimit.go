package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	httprate "github.com/go-chi/httprate"
	"github.com/go-chi/render"

	resp "keymanager/internal/lib/api/response"
	sl "keymanager/internal/lib/logger"
)

type Counter interface {
	IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error)
}

// New builds a per-IP fixed-window limiter. With a counter (Redis) the
// window state is shared across instances; without one it falls back to
// the in-memory httprate limiter. The backend is a deployment choice,
// not part of the request contract.
func New(log *slog.Logger, requests int, window time.Duration, counter Counter) func(http.Handler) http.Handler {
	if counter == nil {
		log.Info("rate limiter using in-memory backend")

		return httprate.Limit(requests, window,
			httprate.WithKeyFuncs(httprate.KeyByIP),
			httprate.WithLimitHandler(limitExceeded),
		)
	}

	log.Info("rate limiter using redis backend")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				ip = r.RemoteAddr
			}

			bucket := time.Now().Unix() / int64(window.Seconds())
			key := fmt.Sprintf("ratelimit:%s:%d", ip, bucket)

			n, err := counter.IncrWindow(r.Context(), key, window)
			if err != nil {
				// Counter unavailable: serve the request unlimited.
				log.Warn("rate limit counter unavailable", sl.Err(err))
				next.ServeHTTP(w, r)

				return
			}

			if n > int64(requests) {
				limitExceeded(w, r)

				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func limitExceeded(w http.ResponseWriter, r *http.Request) {
	render.Status(r, http.StatusTooManyRequests)
	render.JSON(w, r, resp.Error("rate limit exceeded"))
}
