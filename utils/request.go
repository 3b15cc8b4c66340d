package utils

import (
	"net"
	"net/http"
	"strings"
)

const SessionCookie = "session_token"

// SessionToken returns the session cookie value, or "" when absent.
func SessionToken(r *http.Request) string {
	st, err := r.Cookie(SessionCookie)
	if err != nil {
		return ""
	}
	return st.Value
}

// GetUserAgent returns the User-Agent string from the request
func GetUserAgent(r *http.Request) string {
	return r.Header.Get("User-Agent")
}

// GetIP returns the client address: the first X-Forwarded-For hop when
// present, otherwise the host part of RemoteAddr.
func GetIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
