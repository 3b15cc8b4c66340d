package handlers

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/sessions"
	"github.com/rs/zerolog/log"

	"notekeep/config"
	"notekeep/models"
)

type UserStore interface {
	CreateUser(ctx context.Context, u models.User, password string) (models.User, error)
	FindByUsername(ctx context.Context, username string) (models.User, error)
	FindByEmail(ctx context.Context, email string) (models.User, error)
	UpdatePassword(ctx context.Context, email, password string) (models.User, error)
}

type NoteStore interface {
	CreateNote(ctx context.Context, ownerID int64, title, content string) (models.Note, error)
	ListNotes(ctx context.Context, ownerID int64) ([]models.Note, error)
	GetNote(ctx context.Context, ownerID, noteID int64) (models.Note, error)
	UpdateNote(ctx context.Context, ownerID, noteID int64, title, content string) (models.Note, error)
	DeleteNote(ctx context.Context, ownerID, noteID int64) error
	SearchNotes(ctx context.Context, ownerID int64, query string) ([]models.Note, error)
}

type SessionStore interface {
	Create(ctx context.Context, user models.User, r *http.Request) (models.Session, error)
	Get(ctx context.Context, token string) (models.Session, error)
	Touch(ctx context.Context, token string) error
	Delete(ctx context.Context, token string) error
	DeleteAllForUser(ctx context.Context, userID int64) error
}

type TokenService interface {
	Issue(email string) (string, error)
	Verify(token string, maxAge time.Duration) (models.ResetToken, error)
	Remaining(rt models.ResetToken, maxAge time.Duration) time.Duration
}

// TokenLedger tracks reset tokens that have already been redeemed.
type TokenLedger interface {
	IsUsed(ctx context.Context, id string) (bool, error)
	Consume(ctx context.Context, id string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, id string) error
}

type Notifier interface {
	SendPasswordReset(ctx context.Context, email, link string) error
}

type Renderer interface {
	Render(w io.Writer, view string, data models.PageData) error
}

// HealthCheck reports whether a backing service is reachable.
type HealthCheck func(ctx context.Context) error

// Deps are the collaborators a Handler composes.
type Deps struct {
	Config     *config.Config
	Users      UserStore
	Notes      NoteStore
	Sessions   SessionStore
	Tokens     TokenService
	UsedTokens TokenLedger
	Mailer     Notifier
	Views      Renderer
	Flashes    sessions.Store
	Checks     map[string]HealthCheck
}

// Handler serves every page of the application. It carries no per-request
// state; the authenticated session travels in the request context.
type Handler struct {
	cfg        *config.Config
	users      UserStore
	notes      NoteStore
	sessions   SessionStore
	tokens     TokenService
	usedTokens TokenLedger
	mailer     Notifier
	views      Renderer
	flashes    sessions.Store
	checks     map[string]HealthCheck
}

func New(d Deps) *Handler {
	return &Handler{
		cfg:        d.Config,
		users:      d.Users,
		notes:      d.Notes,
		sessions:   d.Sessions,
		tokens:     d.Tokens,
		usedTokens: d.UsedTokens,
		mailer:     d.Mailer,
		views:      d.Views,
		flashes:    d.Flashes,
		checks:     d.Checks,
	}
}

type contextKey string

const sessionContextKey = contextKey("session")

func withSession(ctx context.Context, s models.Session) context.Context {
	return context.WithValue(ctx, sessionContextKey, s)
}

// sessionFrom returns the authenticated session of the request, if any.
func sessionFrom(ctx context.Context) (models.Session, bool) {
	s, ok := ctx.Value(sessionContextKey).(models.Session)
	return s, ok
}

// render writes view with status. Flashes and session details are filled in
// here so individual handlers only provide page content.
func (h *Handler) render(w http.ResponseWriter, r *http.Request, status int, view string, data models.PageData) {
	if data.Title == "" {
		data.Title = titles[view]
	}
	if s, ok := sessionFrom(r.Context()); ok {
		data.IsLoggedIn = true
		data.Username = s.Username
		data.CSRFtoken = s.CSRFToken
	}
	data.Flashes = h.popFlashes(w, r)

	var buf bytes.Buffer
	if err := h.views.Render(&buf, view, data); err != nil {
		log.Error().Err(err).Str("view", view).Msg("error rendering template")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	w.Write(buf.Bytes())
}

func (h *Handler) serverError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	log.Error().Err(err).Str("route", routePattern(r)).Msg(msg)
	http.Error(w, "Internal server error", http.StatusInternalServerError)
}

// routePattern names the matched route, e.g. /reset/{token}. Raw paths are
// never logged since reset links carry their token in the path.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}

var titles = map[string]string{
	"home":       "Home",
	"about":      "About",
	"contact":    "Contact",
	"register":   "Register",
	"login":      "Log in",
	"forgot":     "Forgot password",
	"reset":      "Reset password",
	"addnote":    "Add note",
	"viewnotes":  "My notes",
	"singlenote": "Note",
	"updatenote": "Edit note",
	"search":     "Search",
}
