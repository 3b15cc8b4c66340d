package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notekeep/config"
	"notekeep/handlers"
	"notekeep/models"
	"notekeep/ui"
	"notekeep/utils"
)

var (
	csrfPattern = regexp.MustCompile(`name="csrf_token" value="([^"]+)"`)
	notePattern = regexp.MustCompile(`/viewnotes/(\d+)`)
)

type testClock struct{ offset atomic.Int64 }

func (c *testClock) Now() time.Time { return time.Now().Add(time.Duration(c.offset.Load())) }

func (c *testClock) Advance(d time.Duration) { c.offset.Add(int64(d)) }

type outbox struct {
	mu    sync.Mutex
	links map[string][]string
}

func (o *outbox) SendPasswordReset(_ context.Context, email, link string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.links[email] = append(o.links[email], link)
	return nil
}

func (o *outbox) Links(email string) []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.links[email]...)
}

type testApp struct {
	t     *testing.T
	srv   *httptest.Server
	clock *testClock
	mail  *outbox
}

func newTestApp(t *testing.T, overrides ...func(*handlers.Deps)) *testApp {
	t.Helper()
	ctx := context.Background()

	cfg := &config.Config{
		Env:              "test",
		SecretKey:        "test-secret",
		ResetTokenMaxAge: time.Hour,
		SessionTTL:       24 * time.Hour,
	}

	db, err := utils.OpenDB(ctx, "sqlite://"+filepath.Join(t.TempDir(), "notes.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, utils.Migrate(ctx, db))

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	views, err := ui.New()
	require.NoError(t, err)

	clock := &testClock{}
	mail := &outbox{links: map[string][]string{}}
	sessions := utils.NewSessionStore(rdb, cfg.SessionTTL)

	deps := handlers.Deps{
		Config:     cfg,
		Users:      utils.NewUserStore(db),
		Notes:      utils.NewNoteStore(db, nil),
		Sessions:   sessions,
		Tokens:     utils.NewResetTokens(cfg.SecretKey, clock.Now),
		UsedTokens: utils.NewUsedResetTokens(rdb),
		Mailer:     mail,
		Views:      views,
		Flashes:    handlers.NewFlashStore(cfg.SecretKey, false),
		Checks: map[string]handlers.HealthCheck{
			"database": db.PingContext,
			"redis":    sessions.Ping,
		},
	}
	for _, override := range overrides {
		override(&deps)
	}

	srv := httptest.NewServer(handlers.New(deps).Routes())
	t.Cleanup(srv.Close)

	return &testApp{t: t, srv: srv, clock: clock, mail: mail}
}

// browser is one user agent with its own cookie jar.
type browser struct {
	t      *testing.T
	base   string
	client *http.Client
}

func (a *testApp) browser() *browser {
	jar, err := cookiejar.New(nil)
	require.NoError(a.t, err)
	return &browser{
		t:    a.t,
		base: a.srv.URL,
		client: &http.Client{
			Jar: jar,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

type page struct {
	status   int
	location string
	body     string
}

func (b *browser) do(method, path string, form url.Values) page {
	b.t.Helper()

	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequest(method, b.base+path, body)
	require.NoError(b.t, err)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := b.client.Do(req)
	require.NoError(b.t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(b.t, err)
	return page{status: resp.StatusCode, location: resp.Header.Get("Location"), body: string(raw)}
}

func (b *browser) get(path string) page { return b.do(http.MethodGet, path, nil) }

func (b *browser) post(path string, form url.Values) page { return b.do(http.MethodPost, path, form) }

// follow asserts a 303 to location and loads it.
func (b *browser) follow(p page, location string) page {
	b.t.Helper()
	require.Equal(b.t, http.StatusSeeOther, p.status, p.body)
	require.Equal(b.t, location, p.location)
	return b.get(location)
}

func (b *browser) csrf(path string) string {
	b.t.Helper()
	p := b.get(path)
	require.Equal(b.t, http.StatusOK, p.status)
	m := csrfPattern.FindStringSubmatch(p.body)
	require.NotNil(b.t, m, "no csrf token on %s", path)
	return m[1]
}

func (b *browser) register(username, email, password string) page {
	return b.post("/register", url.Values{
		"firstname": {"First"},
		"lastname":  {"Last"},
		"username":  {username},
		"email":     {email},
		"password":  {password},
	})
}

func (b *browser) login(username, password string) page {
	return b.post("/login", url.Values{"username": {username}, "password": {password}})
}

// signedIn registers a user and logs in, returning their browser.
func (a *testApp) signedIn(username, email, password string) *browser {
	a.t.Helper()
	b := a.browser()
	require.Equal(a.t, http.StatusSeeOther, b.register(username, email, password).status)
	p := b.login(username, password)
	require.Equal(a.t, http.StatusSeeOther, p.status)
	require.Equal(a.t, "/viewall", p.location)
	return b
}

func (b *browser) addNote(title, content string) int64 {
	b.t.Helper()
	token := b.csrf("/addnote")
	p := b.post("/addnote", url.Values{"csrf_token": {token}, "title": {title}, "content": {content}})
	require.Equal(b.t, http.StatusSeeOther, p.status, p.body)

	list := b.get("/viewall")
	m := notePattern.FindStringSubmatch(list.body)
	require.NotNil(b.t, m)
	id, err := strconv.ParseInt(m[1], 10, 64)
	require.NoError(b.t, err)
	return id
}

func notePath(prefix string, id int64) string {
	return prefix + "/" + strconv.FormatInt(id, 10)
}

func TestRegisterAndLogin(t *testing.T) {
	app := newTestApp(t)
	b := app.browser()

	assert.Equal(t, http.StatusOK, b.get("/register").status)

	p := b.follow(b.register("alice", "alice@example.com", "secret1"), "/login")
	assert.Contains(t, p.body, "Registration successful! Please login.")

	p = b.follow(b.login("alice", "wrong"), "/login")
	assert.Contains(t, p.body, "Invalid username or password.")

	p = b.follow(b.login("nobody", "secret1"), "/login")
	assert.Contains(t, p.body, "Invalid username or password.")

	p = b.follow(b.login("alice", "secret1"), "/viewall")
	assert.Equal(t, http.StatusOK, p.status)
	assert.Contains(t, p.body, "Login successful!")
	assert.Contains(t, p.body, "alice")

	// Flashes are shown once.
	p = b.get("/viewall")
	assert.NotContains(t, p.body, "Login successful!")

	p = b.get("/login")
	assert.Equal(t, http.StatusSeeOther, p.status)
	assert.Equal(t, "/viewall", p.location)
}

func TestRegisterValidation(t *testing.T) {
	app := newTestApp(t)
	first := app.browser()
	require.Equal(t, http.StatusSeeOther, first.register("alice", "alice@example.com", "secret1").status)

	tests := []struct {
		name                      string
		username, email, password string
		warning                   string
	}{
		{"missing username", "", "x@example.com", "pw", "Please fill all fields."},
		{"missing password", "carol", "carol@example.com", "", "Please fill all fields."},
		{"invalid email", "carol", "not-an-email", "pw", "Please enter a valid email address."},
		{"password too long", "carol", "carol@example.com", strings.Repeat("x", 73), "Password must be at most 72 bytes long."},
		{"multibyte password over 72 bytes", "carol", "carol@example.com", strings.Repeat("é", 40), "Password must be at most 72 bytes long."},
		{"duplicate username", "alice", "other@example.com", "pw", "Username already taken."},
		{"duplicate email", "alice2", "alice@example.com", "pw", "Email already registered."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := app.browser().register(tt.username, tt.email, tt.password)
			assert.Equal(t, http.StatusUnprocessableEntity, p.status)
			assert.Contains(t, p.body, tt.warning)
		})
	}

	// The first account is untouched by the rejected duplicates.
	p := app.browser().login("alice", "secret1")
	assert.Equal(t, "/viewall", p.location)
}

func TestAnonymousAccess(t *testing.T) {
	app := newTestApp(t)
	b := app.browser()

	for _, path := range []string{"/viewall", "/viewnotes/1", "/updatenote/1", "/search?q=x"} {
		p := b.get(path)
		assert.Equal(t, http.StatusSeeOther, p.status, path)
		assert.Equal(t, "/login", p.location, path)
	}

	p := b.post("/deletenote/1", url.Values{})
	assert.Equal(t, "/login", p.location)

	p = b.follow(b.get("/addnote"), "/login")
	assert.Contains(t, p.body, "Login required.")

	p = b.get("/")
	assert.Equal(t, "/login", p.location)

	for _, path := range []string{"/home", "/about", "/contact", "/login", "/register", "/forgot"} {
		assert.Equal(t, http.StatusOK, b.get(path).status, path)
	}
}

func TestNoteLifecycle(t *testing.T) {
	app := newTestApp(t)
	alice := app.signedIn("alice", "alice@example.com", "secret1")

	token := alice.csrf("/addnote")
	p := alice.post("/addnote", url.Values{"csrf_token": {token}, "title": {"Groceries"}, "content": {""}})
	assert.Equal(t, http.StatusUnprocessableEntity, p.status)
	assert.Contains(t, p.body, "Title and content required.")
	assert.Contains(t, p.body, `value="Groceries"`)

	id := alice.addNote("Groceries", "milk, eggs")
	list := alice.get("/viewall")
	assert.Contains(t, list.body, "Note added successfully.")
	assert.Contains(t, list.body, "Groceries")

	p = alice.get(notePath("/viewnotes", id))
	assert.Equal(t, http.StatusOK, p.status)
	assert.Contains(t, p.body, "milk, eggs")

	token = alice.csrf(notePath("/updatenote", id))
	p = alice.post(notePath("/updatenote", id), url.Values{"csrf_token": {token}, "title": {"Groceries"}, "content": {""}})
	assert.Equal(t, http.StatusUnprocessableEntity, p.status)
	assert.Contains(t, p.body, "Title and content required.")

	p = alice.follow(alice.post(notePath("/updatenote", id), url.Values{"csrf_token": {token}, "title": {"Shopping"}, "content": {"bread"}}), "/viewall")
	assert.Contains(t, p.body, "Note updated.")
	assert.Contains(t, p.body, "Shopping")
	assert.NotContains(t, p.body, "Groceries")

	p = alice.follow(alice.post(notePath("/deletenote", id), url.Values{"csrf_token": {token}}), "/viewall")
	assert.Contains(t, p.body, "Note deleted.")
	assert.NotContains(t, p.body, "Shopping")

	// Deleting again is harmless.
	p = alice.post(notePath("/deletenote", id), url.Values{"csrf_token": {token}})
	assert.Equal(t, "/viewall", p.location)

	p = alice.follow(alice.get(notePath("/viewnotes", id)), "/viewall")
	assert.Contains(t, p.body, "Access denied.")
}

func TestNotesAreIsolated(t *testing.T) {
	app := newTestApp(t)
	alice := app.signedIn("alice", "alice@example.com", "secret1")
	bob := app.signedIn("bob", "bob@example.com", "secret2")

	id := alice.addNote("Groceries", "milk")

	p := bob.get("/viewall")
	assert.NotContains(t, p.body, "Groceries")

	p = bob.follow(bob.get(notePath("/viewnotes", id)), "/viewall")
	assert.Contains(t, p.body, "Access denied.")

	p = bob.follow(bob.get(notePath("/updatenote", id)), "/viewall")
	assert.Contains(t, p.body, "Unauthorized access.")

	token := bob.csrf("/addnote")
	p = bob.follow(bob.post(notePath("/updatenote", id), url.Values{"csrf_token": {token}, "title": {"Hacked"}, "content": {"x"}}), "/viewall")
	assert.Contains(t, p.body, "Unauthorized access.")

	p = bob.follow(bob.post(notePath("/deletenote", id), url.Values{"csrf_token": {token}}), "/viewall")
	assert.Contains(t, p.body, "Note deleted.")

	p = bob.get("/search?q=Groceries")
	assert.NotContains(t, p.body, "/viewnotes/")

	p = alice.get(notePath("/viewnotes", id))
	assert.Equal(t, http.StatusOK, p.status)
	assert.Contains(t, p.body, "Groceries")
	assert.Contains(t, p.body, "milk")
}

func TestCSRF(t *testing.T) {
	app := newTestApp(t)
	alice := app.signedIn("alice", "alice@example.com", "secret1")

	p := alice.post("/addnote", url.Values{"title": {"T"}, "content": {"C"}})
	assert.Equal(t, http.StatusForbidden, p.status)

	p = alice.post("/addnote", url.Values{"csrf_token": {"forged"}, "title": {"T"}, "content": {"C"}})
	assert.Equal(t, http.StatusForbidden, p.status)

	p = alice.get("/viewall")
	assert.NotContains(t, p.body, "/viewnotes/")

	// A token from another session is no good either.
	bob := app.signedIn("bob", "bob@example.com", "secret2")
	p = alice.post("/addnote", url.Values{"csrf_token": {bob.csrf("/addnote")}, "title": {"T"}, "content": {"C"}})
	assert.Equal(t, http.StatusForbidden, p.status)
}

func TestSearch(t *testing.T) {
	app := newTestApp(t)
	alice := app.signedIn("alice", "alice@example.com", "secret1")

	alice.addNote("Team Meeting", "agenda")
	alice.addNote("Groceries", "milk")
	alice.addNote("Meeting notes", "minutes")

	p := alice.get("/search?q=")
	assert.Equal(t, http.StatusOK, p.status)
	assert.NotContains(t, p.body, "/viewnotes/")

	p = alice.get("/search?q=Meeting")
	assert.Equal(t, http.StatusOK, p.status)
	assert.Contains(t, p.body, "Team Meeting")
	assert.Contains(t, p.body, "Meeting notes")
	assert.NotContains(t, p.body, "Groceries")
	assert.Less(t, strings.Index(p.body, "Meeting notes"), strings.Index(p.body, "Team Meeting"))

	p = alice.get("/search?q=" + url.QueryEscape("%"))
	assert.NotContains(t, p.body, "/viewnotes/")
}

func TestLogout(t *testing.T) {
	app := newTestApp(t)
	alice := app.signedIn("alice", "alice@example.com", "secret1")

	p := alice.follow(alice.get("/logout"), "/login")
	assert.Contains(t, p.body, "Logged out successfully.")

	p = alice.get("/viewall")
	assert.Equal(t, http.StatusSeeOther, p.status)
	assert.Equal(t, "/login", p.location)
}

func resetPath(t *testing.T, link string) string {
	t.Helper()
	u, err := url.Parse(link)
	require.NoError(t, err)
	return u.Path
}

func TestPasswordReset(t *testing.T) {
	app := newTestApp(t)
	victim := app.signedIn("alice", "alice@example.com", "secret1")
	b := app.browser()

	p := b.post("/forgot", url.Values{"email": {""}})
	assert.Equal(t, http.StatusUnprocessableEntity, p.status)
	assert.Contains(t, p.body, "Please enter your email address.")

	p = b.follow(b.post("/forgot", url.Values{"email": {"nobody@example.com"}}), "/forgot")
	assert.Contains(t, p.body, "Reset link sent to email.")
	assert.Empty(t, app.mail.Links("nobody@example.com"))

	p = b.follow(b.post("/forgot", url.Values{"email": {"alice@example.com"}}), "/forgot")
	assert.Contains(t, p.body, "Reset link sent to email.")
	links := app.mail.Links("alice@example.com")
	require.Len(t, links, 1)
	assert.True(t, strings.HasPrefix(links[0], app.srv.URL+"/reset/"), links[0])
	path := resetPath(t, links[0])

	assert.Equal(t, http.StatusOK, b.get(path).status)

	p = b.post(path, url.Values{"password": {"newpass1"}, "confirm-password": {"different"}})
	assert.Equal(t, http.StatusUnprocessableEntity, p.status)
	assert.Contains(t, p.body, "Passwords must match.")

	p = b.post(path, url.Values{"password": {""}, "confirm-password": {""}})
	assert.Equal(t, http.StatusUnprocessableEntity, p.status)
	assert.Contains(t, p.body, "Please enter a new password.")

	p = b.follow(b.post(path, url.Values{"password": {"newpass1"}, "confirm-password": {"newpass1"}}), "/login")
	assert.Contains(t, p.body, "Password reset successful. Please login.")

	// The link is single-use.
	assert.Equal(t, http.StatusBadRequest, b.get(path).status)
	p = b.post(path, url.Values{"password": {"again"}, "confirm-password": {"again"}})
	assert.Equal(t, http.StatusBadRequest, p.status)

	// Existing sessions were revoked.
	p = victim.get("/viewall")
	assert.Equal(t, "/login", p.location)

	assert.Equal(t, "/login", app.browser().login("alice", "secret1").location)
	assert.Equal(t, "/viewall", app.browser().login("alice", "newpass1").location)
}

func TestPasswordResetExpiry(t *testing.T) {
	app := newTestApp(t)
	app.signedIn("alice", "alice@example.com", "secret1")
	b := app.browser()

	b.post("/forgot", url.Values{"email": {"alice@example.com"}})
	links := app.mail.Links("alice@example.com")
	require.Len(t, links, 1)
	path := resetPath(t, links[0])

	app.clock.Advance(59 * time.Minute)
	assert.Equal(t, http.StatusOK, b.get(path).status)

	app.clock.Advance(61 * time.Second)
	p := b.get(path)
	assert.Equal(t, http.StatusBadRequest, p.status)
	assert.Contains(t, p.body, "Invalid or expired link")

	p = b.post(path, url.Values{"password": {"newpass1"}, "confirm-password": {"newpass1"}})
	assert.Equal(t, http.StatusBadRequest, p.status)

	assert.Equal(t, http.StatusBadRequest, b.get("/reset/not-a-token").status)
	assert.Equal(t, "/viewall", app.browser().login("alice", "secret1").location)
}

func TestHealth(t *testing.T) {
	app := newTestApp(t)

	p := app.browser().get("/healthz")
	require.Equal(t, http.StatusOK, p.status)

	var report map[string]string
	require.NoError(t, json.Unmarshal([]byte(p.body), &report))
	assert.Equal(t, map[string]string{"database": "ok", "redis": "ok"}, report)
}

func TestHealth_Down(t *testing.T) {
	h := handlers.New(handlers.Deps{
		Config: &config.Config{},
		Checks: map[string]handlers.HealthCheck{
			"redis": func(context.Context) error { return errors.New("connection refused") },
		},
	})

	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"redis":"down"}`, rec.Body.String())
}

// flakyUsers fails password updates while failing is set.
type flakyUsers struct {
	*utils.UserStore
	failing atomic.Bool
}

func (f *flakyUsers) UpdatePassword(ctx context.Context, email, password string) (models.User, error) {
	if f.failing.Load() {
		return models.User{}, errors.New("database is locked")
	}
	return f.UserStore.UpdatePassword(ctx, email, password)
}

// syncBuffer collects log lines written from server goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func captureLogs(t *testing.T) *syncBuffer {
	t.Helper()
	out := &syncBuffer{}
	previous := log.Logger
	log.Logger = zerolog.New(out).Level(zerolog.InfoLevel)
	t.Cleanup(func() { log.Logger = previous })
	return out
}

func TestPasswordReset_FailedUpdateKeepsLinkUsable(t *testing.T) {
	logs := captureLogs(t)

	var users *flakyUsers
	app := newTestApp(t, func(d *handlers.Deps) {
		users = &flakyUsers{UserStore: d.Users.(*utils.UserStore)}
		d.Users = users
	})
	app.signedIn("alice", "alice@example.com", "secret1")
	b := app.browser()

	b.post("/forgot", url.Values{"email": {"alice@example.com"}})
	links := app.mail.Links("alice@example.com")
	require.Len(t, links, 1)
	path := resetPath(t, links[0])
	token := strings.TrimPrefix(path, "/reset/")

	users.failing.Store(true)
	p := b.post(path, url.Values{"password": {"newpass1"}, "confirm-password": {"newpass1"}})
	assert.Equal(t, http.StatusInternalServerError, p.status)

	users.failing.Store(false)
	require.Equal(t, http.StatusOK, b.get(path).status)
	p = b.follow(b.post(path, url.Values{"password": {"newpass1"}, "confirm-password": {"newpass1"}}), "/login")
	assert.Contains(t, p.body, "Password reset successful. Please login.")
	assert.Equal(t, "/viewall", app.browser().login("alice", "newpass1").location)

	assert.Equal(t, http.StatusBadRequest, b.get(path).status)

	out := logs.String()
	assert.Contains(t, out, "error updating password")
	assert.Contains(t, out, `"route":"/reset/{token}"`)
	assert.NotContains(t, out, token)
}
