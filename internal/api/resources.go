package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dmitrymomot/provisioner/internal/allocator"
	"github.com/dmitrymomot/provisioner/internal/apperr"
	"github.com/dmitrymomot/provisioner/internal/model"
	"github.com/dmitrymomot/provisioner/internal/policy"
	"github.com/dmitrymomot/provisioner/internal/reconciler"
	"github.com/dmitrymomot/provisioner/internal/tasks"
)

func (s *Server) createAlias(w http.ResponseWriter, r *http.Request) error {
	in, err := decode[allocator.AliasInput](w, r)
	if err != nil {
		return err
	}
	alias, err := s.svc.Aliases.Create(r.Context(), callerOf(r), chi.URLParam(r, "id"), in)
	if err != nil {
		return err
	}
	respond(w, http.StatusCreated, viewAlias(alias))
	return nil
}

func (s *Server) listAliases(w http.ResponseWriter, r *http.Request) error {
	page := pageOf(r)
	items, err := s.svc.Aliases.List(r.Context(), callerOf(r), chi.URLParam(r, "id"), page)
	if err != nil {
		return err
	}
	respond(w, http.StatusOK, pageResult(page, items, func(a model.EmailAlias) string { return a.ID }, viewAlias))
	return nil
}

func (s *Server) deleteAlias(w http.ResponseWriter, r *http.Request) error {
	if err := s.svc.Aliases.Delete(r.Context(), callerOf(r), chi.URLParam(r, "id")); err != nil {
		return err
	}
	respond(w, http.StatusOK, nil)
	return nil
}

func (s *Server) createRecord(w http.ResponseWriter, r *http.Request) error {
	in, err := decode[allocator.RecordInput](w, r)
	if err != nil {
		return err
	}
	rec, err := s.svc.Records.Create(r.Context(), callerOf(r), in)
	if err != nil {
		return err
	}
	respond(w, http.StatusCreated, viewRecord(rec))
	return nil
}

func (s *Server) listRecords(w http.ResponseWriter, r *http.Request) error {
	page := pageOf(r)
	items, err := s.svc.Records.List(r.Context(), callerOf(r), queryDefault(r, "user_id", ""), page)
	if err != nil {
		return err
	}
	respond(w, http.StatusOK, pageResult(page, items, func(d model.DNSRecord) string { return d.ID }, viewRecord))
	return nil
}

type recordUpdateRequest struct {
	Content  *string `json:"content,omitempty"`
	TTL      *int    `json:"ttl,omitempty"`
	Proxied  *bool   `json:"proxied,omitempty"`
	Priority *uint16 `json:"priority,omitempty"`
	Comment  *string `json:"comment,omitempty"`
}

func (s *Server) updateRecord(w http.ResponseWriter, r *http.Request) error {
	req, err := decode[recordUpdateRequest](w, r)
	if err != nil {
		return err
	}
	rec, err := s.svc.Records.Update(r.Context(), callerOf(r), chi.URLParam(r, "id"), reconciler.Change{
		Content:  req.Content,
		TTL:      req.TTL,
		Proxied:  req.Proxied,
		Priority: req.Priority,
		Comment:  req.Comment,
	})
	if err != nil {
		return err
	}
	respond(w, http.StatusOK, viewRecord(rec))
	return nil
}

func (s *Server) deleteRecord(w http.ResponseWriter, r *http.Request) error {
	if err := s.svc.Records.Delete(r.Context(), callerOf(r), chi.URLParam(r, "id")); err != nil {
		return err
	}
	respond(w, http.StatusOK, nil)
	return nil
}

func (s *Server) usage(w http.ResponseWriter, r *http.Request) error {
	caller := callerOf(r)
	owner, ok := policy.Owner(caller, queryDefault(r, "user_id", ""))
	if !ok || !policy.CanPerform(caller, policy.ActionReadUsage, policy.Owned(owner)) {
		return apperr.Unauthorized("not allowed to read usage")
	}
	report, err := s.svc.Usage.Usage(r.Context(), caller, owner)
	if err != nil {
		return err
	}
	respond(w, http.StatusOK, report)
	return nil
}

// triggerAudit enqueues an out-of-schedule DNS drift audit.
func (s *Server) triggerAudit(w http.ResponseWriter, r *http.Request) error {
	if s.jobs == nil {
		return apperr.NotFound("route not found")
	}
	if !policy.CanPerform(callerOf(r), policy.ActionAuditDNS, policy.Resource{}) {
		return apperr.Unauthorized("not allowed to audit dns")
	}
	if err := s.jobs.Enqueue(r.Context(), tasks.DNSAuditTask, nil); err != nil {
		return apperr.Internal("failed to enqueue dns audit", apperr.WithCause(err))
	}
	respond(w, http.StatusAccepted, map[string]string{"task": tasks.DNSAuditTask})
	return nil
}
