package handlers

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"notekeep/models"
	"notekeep/utils"
)

func (h *Handler) RegisterPage(w http.ResponseWriter, r *http.Request) {
	if _, ok := sessionFrom(r.Context()); ok {
		http.Redirect(w, r, "/viewall", http.StatusSeeOther)
		return
	}
	h.render(w, r, http.StatusOK, "register", models.PageData{})
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	user := models.User{
		Firstname: strings.TrimSpace(r.PostFormValue("firstname")),
		Lastname:  strings.TrimSpace(r.PostFormValue("lastname")),
		Username:  strings.TrimSpace(r.PostFormValue("username")),
		Email:     strings.TrimSpace(r.PostFormValue("email")),
	}
	password := r.PostFormValue("password")

	form := map[string]string{
		"firstname": user.Firstname,
		"lastname":  user.Lastname,
		"username":  user.Username,
		"email":     user.Email,
	}
	retry := func(warning string) {
		h.render(w, r, http.StatusUnprocessableEntity, "register", models.PageData{Warning: warning, Form: form})
	}

	if user.Username == "" || user.Email == "" || password == "" {
		retry("Please fill all fields.")
		return
	}
	if err := utils.ValidateEmail(user.Email); err != nil {
		retry("Please enter a valid email address.")
		return
	}
	if err := utils.ValidatePassword(password); err != nil {
		retry("Password must be at most 72 bytes long.")
		return
	}

	created, err := h.users.CreateUser(r.Context(), user, password)
	switch {
	case errors.Is(err, utils.ErrDuplicateUsername):
		form["username"] = ""
		retry("Username already taken.")
		return
	case errors.Is(err, utils.ErrDuplicateEmail):
		form["email"] = ""
		retry("Email already registered.")
		return
	case err != nil:
		h.serverError(w, r, err, "error creating user")
		return
	}

	log.Info().Int64("user_id", created.ID).Str("username", created.Username).Msg("user registered")
	h.flash(w, r, "success", "Registration successful! Please login.")
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

func (h *Handler) LoginPage(w http.ResponseWriter, r *http.Request) {
	if _, ok := sessionFrom(r.Context()); ok {
		http.Redirect(w, r, "/viewall", http.StatusSeeOther)
		return
	}
	h.render(w, r, http.StatusOK, "login", models.PageData{})
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	username := strings.TrimSpace(r.PostFormValue("username"))
	password := r.PostFormValue("password")

	user, err := h.authenticate(r, username, password)
	if err != nil {
		if !errors.Is(err, utils.ErrInvalidCredentials) {
			h.serverError(w, r, err, "error looking up user")
			return
		}
		log.Info().Str("username", username).Msg("failed login attempt")
		h.flash(w, r, "danger", "Invalid username or password.")
		http.Redirect(w, r, "/login", http.StatusSeeOther)
		return
	}

	// Replace any previous session rather than reuse its token.
	if old, ok := sessionFrom(r.Context()); ok {
		if err := h.sessions.Delete(r.Context(), old.SessionToken); err != nil {
			log.Warn().Err(err).Msg("failed to delete previous session")
		}
	}

	session, err := h.sessions.Create(r.Context(), user, r)
	if err != nil {
		h.serverError(w, r, err, "error creating session")
		return
	}
	h.setSessionCookie(w, session)

	log.Info().Int64("user_id", user.ID).Msg("login successful")
	h.flash(w, r, "success", "Login successful!")
	http.Redirect(w, r, "/viewall", http.StatusSeeOther)
}

// authenticate never tells an unknown username apart from a wrong password.
func (h *Handler) authenticate(r *http.Request, username, password string) (models.User, error) {
	if username == "" || password == "" {
		return models.User{}, utils.ErrInvalidCredentials
	}
	user, err := h.users.FindByUsername(r.Context(), username)
	if errors.Is(err, utils.ErrNotFound) {
		return models.User{}, utils.ErrInvalidCredentials
	}
	if err != nil {
		return models.User{}, err
	}
	if !utils.CheckPasswordHash(password, user.PasswordHash) {
		return models.User{}, utils.ErrInvalidCredentials
	}
	return user, nil
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if token := utils.SessionToken(r); token != "" {
		if err := h.sessions.Delete(r.Context(), token); err != nil {
			log.Error().Err(err).Msg("failed to delete session")
		}
	}
	h.clearSessionCookie(w)

	h.flash(w, r, "info", "Logged out successfully.")
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

func (h *Handler) ForgotPage(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusOK, "forgot", models.PageData{})
}

// Forgot answers identically whether or not the address is registered.
func (h *Handler) Forgot(w http.ResponseWriter, r *http.Request) {
	email := strings.TrimSpace(r.PostFormValue("email"))
	if email == "" {
		h.render(w, r, http.StatusUnprocessableEntity, "forgot", models.PageData{Warning: "Please enter your email address."})
		return
	}

	user, err := h.users.FindByEmail(r.Context(), email)
	switch {
	case errors.Is(err, utils.ErrNotFound):
		log.Info().Msg("password reset requested for unknown email")
	case err != nil:
		h.serverError(w, r, err, "error looking up email")
		return
	default:
		token, err := h.tokens.Issue(user.Email)
		if err != nil {
			h.serverError(w, r, err, "error issuing reset token")
			return
		}
		if err := h.mailer.SendPasswordReset(r.Context(), user.Email, h.resetURL(r, token)); err != nil {
			log.Error().Err(err).Int64("user_id", user.ID).Msg("failed to queue password reset email")
		}
	}

	h.flash(w, r, "info", "Reset link sent to email.")
	http.Redirect(w, r, "/forgot", http.StatusSeeOther)
}

func (h *Handler) ResetPage(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.verifyResetLink(w, r); !ok {
		return
	}
	h.render(w, r, http.StatusOK, "reset", models.PageData{})
}

func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	rt, ok := h.verifyResetLink(w, r)
	if !ok {
		return
	}

	password := r.PostFormValue("password")
	confirmed := r.PostFormValue("confirm-password")
	retry := func(warning string) {
		h.render(w, r, http.StatusUnprocessableEntity, "reset", models.PageData{Warning: warning})
	}
	if password == "" {
		retry("Please enter a new password.")
		return
	}
	if err := utils.ValidatePassword(password); err != nil {
		retry("Password must be at most 72 bytes long.")
		return
	}
	if !utils.SamePassword(password, confirmed) {
		retry("Passwords must match.")
		return
	}

	maxAge := h.cfg.ResetTokenMaxAge
	fresh, err := h.usedTokens.Consume(r.Context(), rt.ID, h.tokens.Remaining(rt, maxAge))
	if err != nil {
		h.serverError(w, r, err, "error consuming reset token")
		return
	}
	if !fresh {
		invalidResetLink(w)
		return
	}

	user, err := h.users.UpdatePassword(r.Context(), rt.Email, password)
	if errors.Is(err, utils.ErrNotFound) {
		invalidResetLink(w)
		return
	}
	if err != nil {
		if err := h.usedTokens.Release(r.Context(), rt.ID); err != nil {
			log.Error().Err(err).Msg("failed to release reset token")
		}
		h.serverError(w, r, err, "error updating password")
		return
	}

	if err := h.sessions.DeleteAllForUser(r.Context(), user.ID); err != nil {
		log.Error().Err(err).Int64("user_id", user.ID).Msg("failed to revoke sessions after password reset")
	}
	h.clearSessionCookie(w)

	log.Info().Int64("user_id", user.ID).Msg("password reset")
	h.flash(w, r, "success", "Password reset successful. Please login.")
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

// verifyResetLink writes the failure response itself when it reports false.
func (h *Handler) verifyResetLink(w http.ResponseWriter, r *http.Request) (models.ResetToken, bool) {
	rt, err := h.tokens.Verify(chi.URLParam(r, "token"), h.cfg.ResetTokenMaxAge)
	if err != nil {
		log.Info().Err(err).Msg("rejected reset link")
		invalidResetLink(w)
		return models.ResetToken{}, false
	}

	used, err := h.usedTokens.IsUsed(r.Context(), rt.ID)
	if err != nil {
		h.serverError(w, r, err, "error checking reset token")
		return models.ResetToken{}, false
	}
	if used {
		invalidResetLink(w)
		return models.ResetToken{}, false
	}
	return rt, true
}

func invalidResetLink(w http.ResponseWriter) {
	http.Error(w, "Invalid or expired link", http.StatusBadRequest)
}

func (h *Handler) resetURL(r *http.Request, token string) string {
	base := strings.TrimRight(h.cfg.BaseURL, "/")
	if base == "" {
		scheme := "http"
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			scheme = "https"
		}
		base = scheme + "://" + r.Host
	}
	return base + "/reset/" + url.PathEscape(token)
}

func (h *Handler) setSessionCookie(w http.ResponseWriter, s models.Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     utils.SessionCookie,
		Value:    s.SessionToken,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.cfg.IsProduction(),
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(h.cfg.SessionTTL.Seconds()),
	})
}

func (h *Handler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     utils.SessionCookie,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   h.cfg.IsProduction(),
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}
