package types

import (
	"encoding/json"
	"time"
)

// Decision is the wire view of an approval decision. SLA status,
// requested age and escalation are derived at read time from the stored
// record, never served from a stale snapshot. PayloadJSON and
// PolicySnapshotJSON are echoed back exactly as captured.
type Decision struct {
	DecisionID          string          `json:"decision_id"`
	DecisionType        string          `json:"decision_type"`
	WorkflowType        string          `json:"workflow_type"`
	Purpose             string          `json:"purpose"`
	EntityType          string          `json:"entity_type"`
	EntityID            string          `json:"entity_id"`
	EntityName          string          `json:"entity_name,omitempty"`
	ParentEntityName    string          `json:"parent_entity_name,omitempty"`
	Status              string          `json:"status"`
	ChainStatus         string          `json:"chain_status"`
	CurrentStepOrder    int             `json:"current_step_order"`
	TotalSteps          int             `json:"total_steps"`
	StepRole            string          `json:"step_role,omitempty"`
	Priority            string          `json:"priority"`
	RiskLevel           string          `json:"risk_level"`
	SLAStatus           string          `json:"sla_status"`
	SLADueAt            *time.Time      `json:"sla_due_at,omitempty"`
	RequestedAgeHours   float64         `json:"requested_age_hours"`
	IsEscalated         bool            `json:"is_escalated"`
	Amount              float64         `json:"amount"`
	Currency            string          `json:"currency"`
	BusinessImpactLabel string          `json:"business_impact_label,omitempty"`
	PolicyReason        string          `json:"policy_reason,omitempty"`
	RequestedByUserID   string          `json:"requested_by_user_id"`
	RequestedByName     string          `json:"requested_by_name,omitempty"`
	AssigneeUserID      string          `json:"assignee_user_id,omitempty"`
	AssigneeName        string          `json:"assignee_name,omitempty"`
	RequestedOn         time.Time       `json:"requested_on"`
	DecisionOn          *time.Time      `json:"decision_on,omitempty"`
	Notes               string          `json:"notes,omitempty"`
	PayloadJSON         json.RawMessage `json:"payload_json,omitempty"`
	PolicySnapshotJSON  json.RawMessage `json:"policy_snapshot_json,omitempty"`
	Steps               []Step          `json:"steps,omitempty"`
}

type Step struct {
	StepID         string     `json:"step_id"`
	StepOrder      int        `json:"step_order"`
	StepType       string     `json:"step_type"`
	Status         string     `json:"status"`
	ApproverRole   string     `json:"approver_role,omitempty"`
	AssigneeUserID string     `json:"assignee_user_id,omitempty"`
	AssigneeName   string     `json:"assignee_name,omitempty"`
	DueAt          *time.Time `json:"due_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	Notes          string     `json:"notes,omitempty"`
}

// HistoryEntry is an immutable projection of one action-log record,
// including the denormalized snapshot captured when the action happened.
type HistoryEntry struct {
	ActionLogID  string    `json:"action_log_id"`
	DecisionID   string    `json:"decision_id"`
	Action       string    `json:"action"`
	ActionAt     time.Time `json:"action_at"`
	ActorUserID  string    `json:"actor_user_id"`
	ActorName    string    `json:"actor_name,omitempty"`
	Notes        string    `json:"notes,omitempty"`
	DecisionType string    `json:"decision_type,omitempty"`
	EntityType   string    `json:"entity_type,omitempty"`
	EntityName   string    `json:"entity_name,omitempty"`
	Status       string    `json:"status,omitempty"`
	Priority     string    `json:"priority,omitempty"`
	RiskLevel    string    `json:"risk_level,omitempty"`
	PolicyReason string    `json:"policy_reason,omitempty"`
	IsEscalated  bool      `json:"is_escalated"`
}

// AssistDraft is advisory text generated for a reviewer; it never
// mutates decision state.
type AssistDraft struct {
	DecisionID        string   `json:"decision_id"`
	Summary           string   `json:"summary"`
	RecommendedAction string   `json:"recommended_action"`
	ApproveNote       string   `json:"approve_note"`
	RejectNote        string   `json:"reject_note"`
	RequestInfoNote   string   `json:"request_info_note"`
	MissingEvidence   []string `json:"missing_evidence,omitempty"`
	Disclaimer        string   `json:"disclaimer"`
}
