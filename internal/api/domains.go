package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dmitrymomot/provisioner/internal/model"
	"github.com/dmitrymomot/provisioner/internal/verification"
)

type registerDomainRequest struct {
	Name   string `json:"name"`
	UserID string `json:"user_id,omitempty"`
}

func (s *Server) registerDomain(w http.ResponseWriter, r *http.Request) error {
	req, err := decode[registerDomainRequest](w, r)
	if err != nil {
		return err
	}
	res, err := s.svc.Domains.RegisterDomain(r.Context(), callerOf(r), req.UserID, req.Name)
	if err != nil {
		return err
	}
	respond(w, http.StatusCreated, viewResult(res))
	return nil
}

func (s *Server) listDomains(w http.ResponseWriter, r *http.Request) error {
	page := pageOf(r)
	items, err := s.svc.Domains.ListDomains(r.Context(), callerOf(r), queryDefault(r, "user_id", ""), page)
	if err != nil {
		return err
	}
	respond(w, http.StatusOK, pageResult(page, items, func(d model.CustomDomain) string { return d.ID }, viewDomain))
	return nil
}

func (s *Server) getDomain(w http.ResponseWriter, r *http.Request) error {
	return s.domainResult(w, r, s.svc.Domains.GetDomain)
}

func (s *Server) verifyOwnership(w http.ResponseWriter, r *http.Request) error {
	return s.domainResult(w, r, s.svc.Domains.VerifyOwnership)
}

func (s *Server) recheckOwnership(w http.ResponseWriter, r *http.Request) error {
	return s.domainResult(w, r, s.svc.Domains.RecheckOwnership)
}

func (s *Server) enableEmail(w http.ResponseWriter, r *http.Request) error {
	return s.domainResult(w, r, s.svc.Domains.EnableEmailService)
}

func (s *Server) verifyEmail(w http.ResponseWriter, r *http.Request) error {
	return s.domainResult(w, r, s.svc.Domains.VerifyEmailConfiguration)
}

func (s *Server) domainResult(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, caller model.Caller, domainID string) (verification.Result, error)) error {
	res, err := op(r.Context(), callerOf(r), chi.URLParam(r, "id"))
	if err != nil {
		return err
	}
	respond(w, http.StatusOK, viewResult(res))
	return nil
}

func (s *Server) deleteDomain(w http.ResponseWriter, r *http.Request) error {
	if err := s.svc.Domains.DeleteDomain(r.Context(), callerOf(r), chi.URLParam(r, "id")); err != nil {
		return err
	}
	respond(w, http.StatusOK, nil)
	return nil
}
