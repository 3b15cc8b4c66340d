package handlers

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"notekeep/utils"
)

// LoadSession attaches the authenticated session, if the request carries a
// live one, to the request context. Stale cookies are cleared.
func (h *Handler) LoadSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := utils.SessionToken(r)
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}

		session, err := h.sessions.Get(r.Context(), token)
		switch {
		case errors.Is(err, utils.ErrSessionNotFound):
			h.clearSessionCookie(w)
			next.ServeHTTP(w, r)
		case err != nil:
			h.serverError(w, r, err, "error loading session")
		default:
			next.ServeHTTP(w, r.WithContext(withSession(r.Context(), session)))
		}
	})
}

// RequireAuth redirects anonymous requests to the login page, optionally
// leaving a flash message. Form posts must echo the session's CSRF token.
func (h *Handler) RequireAuth(message string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			session, ok := sessionFrom(r.Context())
			if !ok {
				if message != "" {
					h.flash(w, r, "warning", message)
				}
				http.Redirect(w, r, "/login", http.StatusSeeOther)
				return
			}

			if r.Method == http.MethodPost {
				csrf := r.PostFormValue("csrf_token")
				if csrf == "" || subtle.ConstantTimeCompare([]byte(csrf), []byte(session.CSRFToken)) != 1 {
					log.Warn().Int64("user_id", session.UserID).Str("route", routePattern(r)).Msg("invalid CSRF token")
					http.Error(w, "Invalid CSRF token", http.StatusForbidden)
					return
				}
			}

			if err := h.sessions.Touch(r.Context(), session.SessionToken); err != nil {
				log.Warn().Err(err).Int64("user_id", session.UserID).Msg("error updating last activity")
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequestLogger logs one line per request with zerolog.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		defer func() {
			log.Info().
				Str("request_id", middleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("route", routePattern(r)).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Msg("request")
		}()

		next.ServeHTTP(ww, r)
	})
}
