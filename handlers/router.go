package handlers

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Routes builds the chi router for every page.
func (h *Handler) Routes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.Health)

	r.Group(func(r chi.Router) {
		r.Use(h.LoadSession)

		r.Get("/", h.Index)
		r.Get("/home", h.Home)
		r.Get("/about", h.About)
		r.Get("/contact", h.Contact)

		r.Get("/register", h.RegisterPage)
		r.Post("/register", h.Register)
		r.Get("/login", h.LoginPage)
		r.Post("/login", h.Login)
		r.Get("/logout", h.Logout)

		r.Get("/forgot", h.ForgotPage)
		r.Post("/forgot", h.Forgot)
		r.Get("/reset/{token}", h.ResetPage)
		r.Post("/reset/{token}", h.Reset)

		r.With(h.RequireAuth("Login required.")).Get("/addnote", h.AddNotePage)
		r.With(h.RequireAuth("Login required.")).Post("/addnote", h.AddNote)

		r.Group(func(r chi.Router) {
			r.Use(h.RequireAuth(""))

			r.Get("/viewall", h.ViewAll)
			r.Get("/viewnotes/{id:[0-9]+}", h.ViewNote)
			r.Get("/updatenote/{id:[0-9]+}", h.UpdateNotePage)
			r.Post("/updatenote/{id:[0-9]+}", h.UpdateNote)
			r.Post("/deletenote/{id:[0-9]+}", h.DeleteNote)
			r.Get("/search", h.Search)
		})
	})

	return r
}
