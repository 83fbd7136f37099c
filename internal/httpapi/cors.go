package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"keepalive_engine/internal/config"
)

var (
	corsAllowHeaders = strings.Join([]string{"Content-Type", "Authorization"}, ", ")
	corsAllowMethods = strings.Join([]string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}, ", ")
)

const corsMaxAge = 600

func corsMiddleware(cfg config.CorsConfig, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Add("Vary", "Origin")
		if allowed, ok := cfg.Match(r.Header.Get("Origin")); ok && allowed != "" {
			h.Set("Access-Control-Allow-Origin", allowed)
			if cfg.AllowCredentials && allowed != "*" {
				h.Set("Access-Control-Allow-Credentials", "true")
			}
			h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
			h.Set("Access-Control-Allow-Methods", corsAllowMethods)
			h.Set("Access-Control-Max-Age", strconv.Itoa(corsMaxAge))
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
