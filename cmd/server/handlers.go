package main

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/liamcoop/returns/internal/logger"
	"github.com/liamcoop/returns/lifecycle"
	"github.com/liamcoop/returns/multitenantengine"
	"github.com/liamcoop/returns/rules"
)

type validatable interface {
	Validate() error
}

// decode reads a JSON body into req and validates it, writing a 400 on failure
func decode(w http.ResponseWriter, r *http.Request, req validatable) bool {
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return false
	}
	if err := req.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request", err)
		return false
	}
	return true
}

// Health check handler
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.db != nil {
		if err := s.db.PingContext(r.Context()); err != nil {
			respondError(w, http.StatusServiceUnavailable, "unhealthy", err)
			return
		}
	}

	respondJSON(w, http.StatusOK, HealthResponse{
		Status:        "healthy",
		TenantsLoaded: s.manager.LoadedTenants(),
		Counters:      logger.Counters(),
		CheckedAt:     time.Now().UTC(),
	})
}

func (s *Server) handleListTenants(w http.ResponseWriter, r *http.Request) {
	tenants, err := s.manager.ListTenants(r.Context())
	if err != nil {
		respondDomainError(w, "failed to list tenants", err)
		return
	}
	if tenants == nil {
		tenants = []multitenantengine.Tenant{}
	}
	respondJSON(w, http.StatusOK, TenantsListResponse{Tenants: tenants})
}

func (s *Server) handleCreateTenant(w http.ResponseWriter, r *http.Request) {
	var req CreateTenantRequest
	if !decode(w, r, &req) {
		return
	}

	tenant, err := s.manager.CreateTenant(r.Context(), req.Name)
	if err != nil {
		respondDomainError(w, "failed to create tenant", err)
		return
	}
	respondJSON(w, http.StatusCreated, tenant)
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantId")

	var req RuleRequest
	if !decode(w, r, &req) {
		return
	}

	rule := req.ToRule("")
	if err := s.manager.AddRule(r.Context(), tenantID, rule); err != nil {
		respondDomainError(w, "failed to add rule", err)
		return
	}
	respondJSON(w, http.StatusCreated, rule)
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantId")

	list, err := s.manager.ListRules(r.Context(), tenantID)
	if err != nil {
		respondDomainError(w, "failed to list rules", err)
		return
	}
	if list == nil {
		list = []*rules.Rule{}
	}
	respondJSON(w, http.StatusOK, RulesListResponse{Rules: list})
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantId")
	ruleID := chi.URLParam(r, "ruleId")

	rule, err := s.manager.GetRule(r.Context(), tenantID, ruleID)
	if err != nil {
		respondDomainError(w, "failed to get rule", err)
		return
	}
	respondJSON(w, http.StatusOK, rule)
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantId")
	ruleID := chi.URLParam(r, "ruleId")

	var req RuleRequest
	if !decode(w, r, &req) {
		return
	}

	rule := req.ToRule(ruleID)
	if err := s.manager.UpdateRule(r.Context(), tenantID, rule); err != nil {
		respondDomainError(w, "failed to update rule", err)
		return
	}

	updated, err := s.manager.GetRule(r.Context(), tenantID, ruleID)
	if err != nil {
		respondDomainError(w, "failed to get rule", err)
		return
	}
	respondJSON(w, http.StatusOK, updated)
}

// DELETE only deactivates; the rule stays referenced by audit history
func (s *Server) handleDeactivateRule(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantId")
	ruleID := chi.URLParam(r, "ruleId")

	if err := s.manager.DeactivateRule(r.Context(), tenantID, ruleID); err != nil {
		respondDomainError(w, "failed to deactivate rule", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSimulate(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantId")

	var req SimulateRequest
	if !decode(w, r, &req) {
		return
	}

	result, err := s.manager.Simulate(r.Context(), tenantID, req.Order, req.Return)
	if err != nil {
		respondDomainError(w, "simulation failed", err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleCreateReturn(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantId")

	var req CreateReturnRequest
	if !decode(w, r, &req) {
		return
	}

	ret, err := s.manager.CreateReturn(r.Context(), tenantID, req.OrderID, req.ToRequest())
	if err != nil {
		respondDomainError(w, "failed to create return", err)
		return
	}
	respondJSON(w, http.StatusCreated, ret)
}

func (s *Server) handleGetReturn(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantId")
	returnID := chi.URLParam(r, "returnId")

	ret, err := s.manager.GetReturn(r.Context(), tenantID, returnID)
	if err != nil {
		respondDomainError(w, "failed to get return", err)
		return
	}
	respondJSON(w, http.StatusOK, ret)
}

func (s *Server) handleEvaluateReturn(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantId")
	returnID := chi.URLParam(r, "returnId")

	var req EvaluateReturnRequest
	if !decode(w, r, &req) {
		return
	}

	eval, err := s.manager.EvaluateReturn(r.Context(), tenantID, returnID, req.Order)
	if err != nil {
		respondDomainError(w, "evaluation failed", err)
		return
	}
	respondJSON(w, http.StatusOK, eval)
}

func (s *Server) handleTransition(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantId")
	returnID := chi.URLParam(r, "returnId")

	var req TransitionRequest
	if !decode(w, r, &req) {
		return
	}
	target, ok := lifecycle.ParseStatus(req.Target)
	if !ok {
		respondError(w, http.StatusBadRequest, "unknown target status "+req.Target, nil)
		return
	}

	ret, tr, err := s.manager.TransitionReturn(r.Context(), tenantID, returnID, multitenantengine.TransitionInput{
		Target:     target,
		Actor:      req.Actor,
		Notes:      req.Notes,
		Forced:     req.Force,
		Resolution: req.Resolution,
	})
	if err != nil {
		respondDomainError(w, "transition failed", err)
		return
	}
	respondJSON(w, http.StatusOK, TransitionResponse{Return: ret, Transition: tr})
}

func (s *Server) handleAllowedTransitions(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantId")
	returnID := chi.URLParam(r, "returnId")

	next, err := s.manager.AllowedTransitions(r.Context(), tenantID, returnID)
	if err != nil {
		respondDomainError(w, "failed to list transitions", err)
		return
	}
	if next == nil {
		next = []lifecycle.Status{}
	}
	respondJSON(w, http.StatusOK, AllowedTransitionsResponse{Transitions: next})
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantId")
	returnID := chi.URLParam(r, "returnId")

	entries, err := s.manager.AuditTrail(r.Context(), tenantID, returnID)
	if err != nil {
		respondDomainError(w, "failed to read audit trail", err)
		return
	}
	if entries == nil {
		entries = []lifecycle.AuditEntry{}
	}
	respondJSON(w, http.StatusOK, AuditResponse{Entries: entries})
}

func (s *Server) handleGetResolution(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantId")
	returnID := chi.URLParam(r, "returnId")

	res, err := s.manager.GetResolution(r.Context(), tenantID, returnID)
	if err != nil {
		respondDomainError(w, "failed to get resolution", err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleAdvanceResolution(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantId")
	returnID := chi.URLParam(r, "returnId")

	var req AdvanceResolutionRequest
	if !decode(w, r, &req) {
		return
	}

	res, err := s.manager.AdvanceResolution(r.Context(), tenantID, returnID, lifecycle.ResolutionStatus(req.Status))
	if err != nil {
		respondDomainError(w, "failed to advance resolution", err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// Helper functions
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("failed to encode response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	respondJSON(w, status, resp)
}

func respondDomainError(w http.ResponseWriter, message string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.Error(message, "error", err)
	}
	respondError(w, status, message, err)
}
