package cachecontrol

import (
	"log"
	"net/http"
)

// CacheControl logs the request's Cache-Control header and sets the
// same value on the response; the proxy under test is the one that
// interprets it, so the mock origin stays a dumb echo.
func CacheControl(next http.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cc := r.Header.Get("Cache-Control")
		log.Printf("cache-control set %q", cc)

		w.Header().Set("Cache-Control", cc)

		next.ServeHTTP(w, r)
	}
}
