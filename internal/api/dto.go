package api

import (
	"encoding/json"
	"time"

	"github.com/davidahmann/approvalflow/internal/workflow"
)

// CreateDecisionRequest is the wire shape for submitting a decision.
// The override fields mirror workflow.CreateRequest: when set they
// replace the policy-evaluated defaults, and unrecognized values are
// rejected with a 400.
type CreateDecisionRequest struct {
	DecisionType        string          `json:"decision_type"`
	WorkflowType        string          `json:"workflow_type,omitempty"`
	Purpose             string          `json:"purpose"`
	EntityType          string          `json:"entity_type"`
	EntityID            string          `json:"entity_id"`
	EntityName          string          `json:"entity_name,omitempty"`
	ParentEntityName    string          `json:"parent_entity_name,omitempty"`
	Amount              float64         `json:"amount"`
	Currency            string          `json:"currency,omitempty"`
	Notes               string          `json:"notes,omitempty"`
	AssigneeUserID      string          `json:"assignee_user_id,omitempty"`
	AssigneeName        string          `json:"assignee_name,omitempty"`
	Steps               []StepRequest   `json:"steps,omitempty"`
	Payload             json.RawMessage `json:"payload,omitempty"`
	PolicySnapshot      json.RawMessage `json:"policy_snapshot,omitempty"`
	Status              string          `json:"status,omitempty"`
	Priority            string          `json:"priority,omitempty"`
	RiskLevel           string          `json:"risk_level,omitempty"`
	SLAStatus           string          `json:"sla_status,omitempty"`
	SLADueAt            *time.Time      `json:"sla_due_at,omitempty"`
	PolicyReason        string          `json:"policy_reason,omitempty"`
	BusinessImpactLabel string          `json:"business_impact_label,omitempty"`
	RequestedByUserID   string          `json:"requested_by_user_id,omitempty"`
	RequestedByName     string          `json:"requested_by_name,omitempty"`
	RequestedOn         *time.Time      `json:"requested_on,omitempty"`
}

type StepRequest struct {
	StepOrder      int    `json:"step_order,omitempty"`
	StepType       string `json:"step_type,omitempty"`
	ApproverRole   string `json:"approver_role,omitempty"`
	AssigneeUserID string `json:"assignee_user_id,omitempty"`
	AssigneeName   string `json:"assignee_name,omitempty"`
}

type DecideRequest struct {
	Approved bool   `json:"approved"`
	Notes    string `json:"notes,omitempty"`
}

type RequestInfoRequest struct {
	Notes string `json:"notes,omitempty"`
}

type DelegateRequest struct {
	DelegateUserID string `json:"delegate_user_id"`
	DelegateName   string `json:"delegate_name,omitempty"`
	Notes          string `json:"notes,omitempty"`
}

type ResubmitRequest struct {
	Notes string `json:"notes,omitempty"`
}

type WithdrawRequest struct {
	Notes string `json:"notes,omitempty"`
}

// OpportunityApprovalRequest is the facade shape for CRM callers who
// think in opportunities rather than decisions.
type OpportunityApprovalRequest struct {
	Purpose         string          `json:"purpose"`
	OpportunityName string          `json:"opportunity_name,omitempty"`
	AccountName     string          `json:"account_name,omitempty"`
	Amount          float64         `json:"amount"`
	Currency        string          `json:"currency,omitempty"`
	Notes           string          `json:"notes,omitempty"`
	AssigneeUserID  string          `json:"assignee_user_id,omitempty"`
	AssigneeName    string          `json:"assignee_name,omitempty"`
	Payload         json.RawMessage `json:"payload,omitempty"`
}

func (r CreateDecisionRequest) toCreateRequest() workflow.CreateRequest {
	steps := make([]workflow.StepTemplate, 0, len(r.Steps))
	for _, s := range r.Steps {
		steps = append(steps, workflow.StepTemplate{
			StepOrder:      s.StepOrder,
			StepType:       s.StepType,
			ApproverRole:   s.ApproverRole,
			AssigneeUserID: s.AssigneeUserID,
			AssigneeName:   s.AssigneeName,
		})
	}
	return workflow.CreateRequest{
		DecisionType:        r.DecisionType,
		WorkflowType:        r.WorkflowType,
		Purpose:             r.Purpose,
		EntityType:          r.EntityType,
		EntityID:            r.EntityID,
		EntityName:          r.EntityName,
		ParentEntityName:    r.ParentEntityName,
		Amount:              r.Amount,
		Currency:            r.Currency,
		Notes:               r.Notes,
		AssigneeUserID:      r.AssigneeUserID,
		AssigneeName:        r.AssigneeName,
		Steps:               steps,
		Payload:             r.Payload,
		PolicySnapshot:      r.PolicySnapshot,
		Status:              r.Status,
		Priority:            r.Priority,
		RiskLevel:           r.RiskLevel,
		SLAStatus:           r.SLAStatus,
		SLADueAt:            r.SLADueAt,
		PolicyReason:        r.PolicyReason,
		BusinessImpactLabel: r.BusinessImpactLabel,
		RequestedByUserID:   r.RequestedByUserID,
		RequestedByName:     r.RequestedByName,
		RequestedOn:         r.RequestedOn,
	}
}
