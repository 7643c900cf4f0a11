package api

import (
	"log"
	"net/http"

	"github.com/hgdev/sonos-bridge/internal/apperrors"
)

// Handler is an http.Handler that reports failures as error returns; the
// adapter turns them into the JSON error envelope so route code never writes
// error bodies by hand.
type Handler func(w http.ResponseWriter, r *http.Request) error

func (fn Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := fn(w, r); err != nil {
		WriteError(w, r, err)
	}
}

// RecovererMiddleware turns a panicking route into a 500 response instead of
// a dropped connection.
func RecovererMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if recovered := recover(); recovered != nil {
				log.Printf("API: panic on %s %s rid=%s: %v", r.Method, r.URL.Path, GetRequestID(r), recovered)
				WriteError(w, r, apperrors.NewInternalError("Internal server error"))
			}
		}()
		next.ServeHTTP(w, r)
	})
}
