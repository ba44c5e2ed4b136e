package handlers

import (
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/marks/internal/domain"
	"github.com/MrSnakeDoc/marks/internal/httpserver/deps"
	"github.com/MrSnakeDoc/marks/internal/logger"
	"github.com/MrSnakeDoc/marks/internal/sources/homepage"
	"github.com/MrSnakeDoc/marks/internal/utils"
)

type okResponse struct {
	OK bool `json:"ok"`
}

type importResponse struct {
	Imported int `json:"imported"`
	Rejected int `json:"rejected"`
}

type bookmarkForm struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// AddBookmark submits the posted form: the fields become the client form,
// then the form is submitted. A rejected submit keeps the form.
func AddBookmark(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, ok := clientFor(d, w, r)
		if !ok {
			return
		}

		var form bookmarkForm
		if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
			if err := decodeJSON(r, &form); err != nil {
				done(w, r, domain.WrapError(domain.CodeValidation, "invalid body", err), nil)
				return
			}
		} else {
			form.Title = r.FormValue("title")
			form.URL = r.FormValue("url")
		}

		if err := c.SetForm(r.Context(), domain.Form{Title: form.Title, URL: form.URL}); err != nil {
			done(w, r, err, nil)
			return
		}
		done(w, r, c.Submit(r.Context()), okResponse{OK: true})
	}
}

// DeleteBookmark removes the bookmark named in the path.
func DeleteBookmark(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, ok := clientFor(d, w, r)
		if !ok {
			return
		}
		done(w, r, c.Delete(r.Context(), chi.URLParam(r, "id")), okResponse{OK: true})
	}
}

// ImportBookmarks adds every entry of a Homepage bookmarks.yaml document.
// The document is either the "file" field of a multipart form or the body.
func ImportBookmarks(d deps.Deps) http.HandlerFunc {
	loader := homepage.NewBookmarkLoader()
	mapper := homepage.NewBookmarkMapper()

	return func(w http.ResponseWriter, r *http.Request) {
		c, ok := clientFor(d, w, r)
		if !ok {
			return
		}

		snap, err := c.Snapshot(r.Context())
		if err != nil {
			done(w, r, err, nil)
			return
		}
		if snap.Session == nil {
			done(w, r, domain.NewError(domain.CodeAuth, "not signed in", nil), nil)
			return
		}

		body, err := importBody(w, r)
		if err != nil {
			done(w, r, domain.WrapError(domain.CodeValidation, "missing bookmarks document", err), nil)
			return
		}
		defer utils.MustClose(body, d.Logger)

		config, err := loader.Load(body)
		if err != nil {
			done(w, r, domain.WrapError(domain.CodeValidation, "invalid bookmarks document", err), nil)
			return
		}
		drafts, err := mapper.MapDrafts(config, snap.Session.UserID)
		if err != nil {
			done(w, r, domain.WrapError(domain.CodeValidation, "invalid bookmarks document", err), nil)
			return
		}

		var res importResponse
		for _, draft := range drafts {
			if err := c.Add(r.Context(), draft.Title, draft.URL); err != nil {
				if domain.CodeOf(err) != domain.CodeValidation {
					done(w, r, err, nil)
					return
				}
				res.Rejected++
				continue
			}
			res.Imported++
		}

		d.Logger.Info("bookmarks imported",
			logger.String("user_id", snap.Session.UserID),
			logger.Int("imported", res.Imported),
			logger.Int("rejected", res.Rejected))

		done(w, r, nil, res)
	}
}

func importBody(w http.ResponseWriter, r *http.Request) (io.ReadCloser, error) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(homepage.MaxDocumentSize); err != nil {
			return nil, err
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			return nil, err
		}
		return file, nil
	}
	return http.MaxBytesReader(w, r.Body, homepage.MaxDocumentSize+1), nil
}
