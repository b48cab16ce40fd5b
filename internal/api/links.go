package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dmitrymomot/provisioner/internal/allocator"
	"github.com/dmitrymomot/provisioner/internal/model"
	"github.com/dmitrymomot/provisioner/pkg/hostrouter"
)

// PasswordHeader carries the password of a protected short link when it
// is not given as the "password" query parameter.
const PasswordHeader = "X-Link-Password"

func (s *Server) createLink(w http.ResponseWriter, r *http.Request) error {
	in, err := decode[allocator.LinkInput](w, r)
	if err != nil {
		return err
	}
	link, err := s.svc.Links.Create(r.Context(), callerOf(r), in)
	if err != nil {
		return err
	}
	respond(w, http.StatusCreated, viewLink(link))
	return nil
}

func (s *Server) listLinks(w http.ResponseWriter, r *http.Request) error {
	page := pageOf(r)
	items, err := s.svc.Links.List(r.Context(), callerOf(r), queryDefault(r, "user_id", ""), page)
	if err != nil {
		return err
	}
	respond(w, http.StatusOK, pageResult(page, items, func(l model.ShortURL) string { return l.ID }, viewLink))
	return nil
}

func (s *Server) getLink(w http.ResponseWriter, r *http.Request) error {
	link, err := s.svc.Links.Get(r.Context(), callerOf(r), chi.URLParam(r, "id"))
	if err != nil {
		return err
	}
	respond(w, http.StatusOK, viewLink(link))
	return nil
}

func (s *Server) updateLink(w http.ResponseWriter, r *http.Request) error {
	up, err := decode[allocator.LinkUpdate](w, r)
	if err != nil {
		return err
	}
	link, err := s.svc.Links.Update(r.Context(), callerOf(r), chi.URLParam(r, "id"), up)
	if err != nil {
		return err
	}
	respond(w, http.StatusOK, viewLink(link))
	return nil
}

func (s *Server) deleteLink(w http.ResponseWriter, r *http.Request) error {
	if err := s.svc.Links.Delete(r.Context(), callerOf(r), chi.URLParam(r, "id")); err != nil {
		return err
	}
	respond(w, http.StatusOK, nil)
	return nil
}

// exportLinks streams every link of the owner as NDJSON. Errors after the
// first line cannot change the status and only end the stream.
func (s *Server) exportLinks(w http.ResponseWriter, r *http.Request) error {
	seq, err := s.svc.Links.Export(r.Context(), callerOf(r), queryDefault(r, "user_id", ""))
	if err != nil {
		return err
	}

	enc := json.NewEncoder(w)
	flusher, _ := w.(http.Flusher)
	started := false
	for link, err := range seq {
		if err != nil {
			if !started {
				return err
			}
			s.logger.ErrorContext(r.Context(), "link export aborted", "error", err)
			return nil
		}
		if !started {
			w.Header().Set("Content-Type", "application/x-ndjson")
			w.WriteHeader(http.StatusOK)
			started = true
		}
		if err := enc.Encode(viewLink(link)); err != nil {
			return nil
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
	if !started {
		w.Header().Set("Content-Type", "application/x-ndjson")
		w.WriteHeader(http.StatusOK)
	}
	return nil
}

// redirect serves a short link on any host.
func (s *Server) redirect(w http.ResponseWriter, r *http.Request) error {
	password := r.URL.Query().Get("password")
	if password == "" {
		password = r.Header.Get(PasswordHeader)
	}
	res, err := s.svc.Links.Resolve(r.Context(), hostrouter.Host(r), chi.URLParam(r, "slug"), password)
	if err != nil {
		return err
	}
	w.Header().Set("Cache-Control", "private, no-cache")
	http.Redirect(w, r, res.TargetURL, http.StatusFound)
	return nil
}
