package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"notekeep/models"
	"notekeep/utils"
)

const noteInputWarning = "Title and content required."

func (h *Handler) AddNotePage(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusOK, "addnote", models.PageData{})
}

func (h *Handler) AddNote(w http.ResponseWriter, r *http.Request) {
	session, _ := sessionFrom(r.Context())
	title := strings.TrimSpace(r.PostFormValue("title"))
	content := strings.TrimSpace(r.PostFormValue("content"))

	note, err := h.notes.CreateNote(r.Context(), session.UserID, title, content)
	if errors.Is(err, utils.ErrInvalidInput) {
		h.render(w, r, http.StatusUnprocessableEntity, "addnote", models.PageData{
			Warning: noteInputWarning,
			Form:    map[string]string{"title": title, "content": content},
		})
		return
	}
	if err != nil {
		h.serverError(w, r, err, "error creating note")
		return
	}

	log.Debug().Int64("user_id", session.UserID).Int64("note_id", note.ID).Msg("note created")
	h.flash(w, r, "success", "Note added successfully.")
	http.Redirect(w, r, "/viewall", http.StatusSeeOther)
}

func (h *Handler) ViewAll(w http.ResponseWriter, r *http.Request) {
	session, _ := sessionFrom(r.Context())

	notes, err := h.notes.ListNotes(r.Context(), session.UserID)
	if err != nil {
		h.serverError(w, r, err, "error retrieving notes")
		return
	}
	h.render(w, r, http.StatusOK, "viewnotes", models.PageData{Notes: notes})
}

func (h *Handler) ViewNote(w http.ResponseWriter, r *http.Request) {
	note, ok := h.ownedNote(w, r, "Access denied.")
	if !ok {
		return
	}
	h.render(w, r, http.StatusOK, "singlenote", models.PageData{Title: note.Title, Note: &note})
}

func (h *Handler) UpdateNotePage(w http.ResponseWriter, r *http.Request) {
	note, ok := h.ownedNote(w, r, "Unauthorized access.")
	if !ok {
		return
	}
	h.render(w, r, http.StatusOK, "updatenote", models.PageData{Note: &note})
}

func (h *Handler) UpdateNote(w http.ResponseWriter, r *http.Request) {
	note, ok := h.ownedNote(w, r, "Unauthorized access.")
	if !ok {
		return
	}
	session, _ := sessionFrom(r.Context())
	title := strings.TrimSpace(r.PostFormValue("title"))
	content := strings.TrimSpace(r.PostFormValue("content"))

	_, err := h.notes.UpdateNote(r.Context(), session.UserID, note.ID, title, content)
	switch {
	case errors.Is(err, utils.ErrInvalidInput):
		note.Title, note.Content = title, content
		h.render(w, r, http.StatusUnprocessableEntity, "updatenote", models.PageData{Warning: noteInputWarning, Note: &note})
		return
	case errors.Is(err, utils.ErrNotFound):
		// Deleted between the ownership check and the update.
		h.flash(w, r, "danger", "Unauthorized access.")
		http.Redirect(w, r, "/viewall", http.StatusSeeOther)
		return
	case err != nil:
		h.serverError(w, r, err, "error updating note")
		return
	}

	h.flash(w, r, "success", "Note updated.")
	http.Redirect(w, r, "/viewall", http.StatusSeeOther)
}

// DeleteNote reports success even for missing or foreign notes so that
// nothing is revealed about other users' data.
func (h *Handler) DeleteNote(w http.ResponseWriter, r *http.Request) {
	session, _ := sessionFrom(r.Context())
	noteID, err := noteIDParam(r)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	if err := h.notes.DeleteNote(r.Context(), session.UserID, noteID); err != nil {
		h.serverError(w, r, err, "error deleting note")
		return
	}

	h.flash(w, r, "info", "Note deleted.")
	http.Redirect(w, r, "/viewall", http.StatusSeeOther)
}

func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	session, _ := sessionFrom(r.Context())
	query := strings.TrimSpace(r.URL.Query().Get("q"))

	notes, err := h.notes.SearchNotes(r.Context(), session.UserID, query)
	if err != nil {
		h.serverError(w, r, err, "error searching notes")
		return
	}
	h.render(w, r, http.StatusOK, "search", models.PageData{Notes: notes, Query: query})
}

// ownedNote loads the note named in the URL for the session user. Missing
// and foreign notes both redirect to the list with denied.
func (h *Handler) ownedNote(w http.ResponseWriter, r *http.Request, denied string) (models.Note, bool) {
	session, _ := sessionFrom(r.Context())
	noteID, err := noteIDParam(r)
	if err != nil {
		http.NotFound(w, r)
		return models.Note{}, false
	}

	note, err := h.notes.GetNote(r.Context(), session.UserID, noteID)
	if errors.Is(err, utils.ErrNotFound) {
		h.flash(w, r, "danger", denied)
		http.Redirect(w, r, "/viewall", http.StatusSeeOther)
		return models.Note{}, false
	}
	if err != nil {
		h.serverError(w, r, err, "error retrieving note")
		return models.Note{}, false
	}
	return note, true
}

func noteIDParam(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}
