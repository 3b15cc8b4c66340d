package handlers

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/gob"
	"net/http"

	"github.com/gorilla/sessions"
	"github.com/rs/zerolog/log"

	"notekeep/models"
)

const flashCookie = "notekeep_flash"

func init() {
	gob.Register(models.Flash{})
}

// NewFlashStore returns a signed cookie store for one-shot status messages.
func NewFlashStore(secret string, secure bool) *sessions.CookieStore {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte("flash-messages"))

	store := sessions.NewCookieStore(mac.Sum(nil))
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   300,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
	return store
}

func (h *Handler) flash(w http.ResponseWriter, r *http.Request, category, message string) {
	// A tampered or stale cookie yields a fresh session alongside the error.
	sess, _ := h.flashes.Get(r, flashCookie)
	sess.AddFlash(models.Flash{Category: category, Message: message})
	if err := sess.Save(r, w); err != nil {
		log.Error().Err(err).Msg("failed to save flash message")
	}
}

func (h *Handler) popFlashes(w http.ResponseWriter, r *http.Request) []models.Flash {
	if _, err := r.Cookie(flashCookie); err != nil {
		return nil
	}
	sess, _ := h.flashes.Get(r, flashCookie)
	raw := sess.Flashes()
	if len(raw) == 0 {
		return nil
	}
	if err := sess.Save(r, w); err != nil {
		log.Error().Err(err).Msg("failed to clear flash messages")
	}

	flashes := make([]models.Flash, 0, len(raw))
	for _, f := range raw {
		if fl, ok := f.(models.Flash); ok {
			flashes = append(flashes, fl)
		}
	}
	return flashes
}
