package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/davidahmann/approvalflow/internal/auth"
	"github.com/davidahmann/approvalflow/internal/workflow"
)

type Handler struct {
	Auth    auth.Authenticator
	Service *workflow.Service
	Metrics *Metrics
}

func (h *Handler) CreateDecision(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	var req CreateDecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	res, err := h.Service.CreateDecision(actor, req.toCreateRequest())
	if err != nil {
		h.writeError(w, err)
		return
	}

	status := http.StatusCreated
	if !res.Required || res.Merged {
		status = http.StatusOK
	}
	if res.Required && !res.Merged {
		h.Metrics.DecisionCreated()
	}
	writeJSON(w, status, res)
}

func (h *Handler) GetDecision(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	d, err := h.Service.GetDecision(actor, r.PathValue("id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (h *Handler) Inbox(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	filter := workflow.InboxFilter{
		AssigneeUserID: q.Get("assignee"),
		Status:         q.Get("status"),
		Purpose:        q.Get("purpose"),
		EscalatedOnly:  q.Get("escalated") == "true",
	}
	items, err := h.Service.Inbox(actor, filter)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"decisions": items})
}

func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	take := 0
	if raw := q.Get("take"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "take must be an integer"})
			return
		}
		take = parsed
	}

	entries, err := h.Service.History(actor, workflow.HistoryQuery{
		DecisionID:   q.Get("decision_id"),
		Action:       q.Get("action"),
		Status:       q.Get("status"),
		DecisionType: q.Get("decision_type"),
		Search:       q.Get("search"),
		Take:         take,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (h *Handler) Decide(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	var req DecideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	d, err := h.Service.Decide(actor, r.PathValue("id"), req.Approved, req.Notes)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.Metrics.DecisionResolved(d.Status)
	writeJSON(w, http.StatusOK, d)
}

func (h *Handler) RequestInfo(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	var req RequestInfoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	d, err := h.Service.RequestInfo(actor, r.PathValue("id"), req.Notes)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (h *Handler) Delegate(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	var req DelegateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	d, err := h.Service.Delegate(actor, r.PathValue("id"), req.DelegateUserID, req.DelegateName, req.Notes)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (h *Handler) Resubmit(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	var req ResubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	d, err := h.Service.Resubmit(actor, r.PathValue("id"), req.Notes)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	var req WithdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	d, err := h.Service.Withdraw(actor, r.PathValue("id"), req.Notes)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.Metrics.DecisionResolved(d.Status)
	writeJSON(w, http.StatusOK, d)
}

func (h *Handler) AssistDraft(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	draft, err := h.Service.AssistDraft(actor, r.PathValue("id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, draft)
}

// OpportunityApproval is a facade for CRM callers: it builds the
// decision request from an opportunity id without requiring the caller
// to know the decision vocabulary.
func (h *Handler) OpportunityApproval(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	var req OpportunityApprovalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	purpose := req.Purpose
	if purpose == "" {
		purpose = "Close"
	}
	res, err := h.Service.CreateDecision(actor, workflow.CreateRequest{
		DecisionType:     purpose + "Approval",
		Purpose:          purpose,
		EntityType:       "Opportunity",
		EntityID:         r.PathValue("id"),
		EntityName:       req.OpportunityName,
		ParentEntityName: req.AccountName,
		Amount:           req.Amount,
		Currency:         req.Currency,
		Notes:            req.Notes,
		AssigneeUserID:   req.AssigneeUserID,
		AssigneeName:     req.AssigneeName,
		Payload:          req.Payload,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	status := http.StatusCreated
	if !res.Required || res.Merged {
		status = http.StatusOK
	}
	if res.Required && !res.Merged {
		h.Metrics.DecisionCreated()
	}
	writeJSON(w, status, res)
}

func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) authenticate(w http.ResponseWriter, r *http.Request) (auth.Context, bool) {
	actor, err := h.Auth.Authenticate(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": err.Error()})
		return auth.Context{}, false
	}
	return actor, true
}

// writeError maps workflow errors onto HTTP statuses: missing decisions
// are 404, malformed input 400, illegal transitions 409, capability
// failures 403.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, workflow.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "decision not found"})
	case errors.Is(err, workflow.ErrForbidden):
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "missing capability for this operation"})
	case workflow.IsValidation(err):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case workflow.IsInvalidOp(err):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}
