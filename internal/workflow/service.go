package workflow

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/davidahmann/approvalflow/internal/auth"
	"github.com/davidahmann/approvalflow/internal/ledger"
	"github.com/davidahmann/approvalflow/internal/policy"
	"github.com/davidahmann/approvalflow/pkg/types"
)

// systemActor attributes log entries produced by the engine itself, such
// as escalations, rather than by a user.
var systemActor = auth.Context{UserID: "system", DisplayName: "System"}

// Service is the decision workflow engine: it evaluates tenant policy,
// builds approval chains, and applies state transitions. Every mutation
// runs inside one store transaction so step, decision and log writes
// land together or not at all.
type Service struct {
	store  ledger.Store
	policy policy.LoadedPolicy
	now    func() time.Time
}

func NewService(store ledger.Store, pol policy.LoadedPolicy) *Service {
	return &Service{store: store, policy: pol, now: time.Now}
}

// WithClock replaces the service clock; tests use it to pin time.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// CreateRequest carries a submission. Payload and PolicySnapshot are
// captured verbatim and never parsed. The override fields, when set,
// replace the policy-evaluated defaults; unrecognized values are
// rejected rather than silently normalized.
type CreateRequest struct {
	DecisionType     string
	WorkflowType     string
	Purpose          string
	EntityType       string
	EntityID         string
	EntityName       string
	ParentEntityName string
	Amount           float64
	Currency         string
	Notes            string
	AssigneeUserID   string
	AssigneeName     string
	Steps            []StepTemplate
	Payload          json.RawMessage
	PolicySnapshot   json.RawMessage

	Status              string
	Priority            string
	RiskLevel           string
	SLAStatus           string
	SLADueAt            *time.Time
	PolicyReason        string
	BusinessImpactLabel string
	RequestedByUserID   string
	RequestedByName     string
	RequestedOn         *time.Time
}

// CreateResult reports the outcome of a submission. When policy does not
// gate the action, Required is false and no decision is persisted. When
// an open decision already exists for the same subject, the existing one
// is returned with Merged set.
type CreateResult struct {
	Required bool            `json:"required"`
	Merged   bool            `json:"merged"`
	Reason   string          `json:"reason,omitempty"`
	Decision *types.Decision `json:"decision,omitempty"`
}

// CreateDecision evaluates tenant policy for the request and, when
// gating is required, persists a new decision with its approval chain
// and a Requested log entry. Requires the Request capability.
func (s *Service) CreateDecision(actor auth.Context, req CreateRequest) (CreateResult, error) {
	if !actor.CanRequest() {
		return CreateResult{}, ErrForbidden
	}
	if req.EntityType == "" {
		return CreateResult{}, validationErr("entity_type", "must not be empty")
	}
	if req.EntityID == "" {
		return CreateResult{}, validationErr("entity_id", "must not be empty")
	}
	if req.DecisionType == "" {
		return CreateResult{}, validationErr("decision_type", "must not be empty")
	}
	if req.Amount < 0 {
		return CreateResult{}, validationErr("amount", "must not be negative")
	}
	if req.Currency == "" {
		req.Currency = "USD"
	}
	if req.WorkflowType == "" {
		req.WorkflowType = "Approval"
	}
	if req.Status != "" && !isValidCreateStatus(req.Status) {
		return CreateResult{}, validationErr("status", "must be Submitted or InProgress")
	}
	if req.Priority != "" && !isValidPriority(req.Priority) {
		return CreateResult{}, validationErr("priority", "unrecognized priority")
	}
	if req.RiskLevel != "" && !isValidRisk(req.RiskLevel) {
		return CreateResult{}, validationErr("risk_level", "unrecognized risk level")
	}
	if req.SLAStatus != "" && !isValidSLAStatus(req.SLAStatus) {
		return CreateResult{}, validationErr("sla_status", "unrecognized SLA status")
	}

	eval, err := policy.Evaluate(s.policy.Policy, s.policy.Hash, policy.Input{
		DecisionType: req.DecisionType,
		Purpose:      req.Purpose,
		EntityType:   req.EntityType,
		Amount:       req.Amount,
	})
	if err != nil {
		return CreateResult{}, &InvalidOpError{Op: "create", Msg: err.Error()}
	}

	if !eval.Required {
		return CreateResult{Required: false, Reason: eval.Reason}, nil
	}

	now := s.now().UTC()
	requestedOn := now
	if req.RequestedOn != nil {
		requestedOn = req.RequestedOn.UTC()
	}

	var result CreateResult
	err = s.store.WithTx(func(tx ledger.Tx) error {
		if existing, ok := tx.FindOpenDecision(req.EntityType, req.EntityID, req.DecisionType); ok {
			steps, err := tx.ListSteps(existing.DecisionID)
			if err != nil {
				return err
			}
			view := s.view(existing, steps, now)
			result = CreateResult{Required: true, Merged: true, Reason: "open decision already exists for this subject", Decision: &view}
			return nil
		}

		templates := req.Steps
		if len(templates) == 0 {
			templates = []StepTemplate{{
				StepType:       "Approval",
				ApproverRole:   eval.ApproverRole,
				AssigneeUserID: req.AssigneeUserID,
				AssigneeName:   req.AssigneeName,
			}}
		}

		decisionID := uuid.New().String()
		steps, err := buildChain(decisionID, templates, eval.ApproverRole, requestedOn, eval.SLAHours, now)
		if err != nil {
			return err
		}
		if req.SLADueAt != nil {
			due := req.SLADueAt.UTC()
			steps[0].DueAt = &due
		}

		status := StatusSubmitted
		if steps[0].AssigneeUserID != "" {
			status = StatusInProgress
		}
		if req.Status != "" {
			status = req.Status
		}
		priority := NormalizePriority(eval.Priority)
		if req.Priority != "" {
			priority = req.Priority
		}
		risk := NormalizeRisk(eval.RiskLevel)
		if req.RiskLevel != "" {
			risk = req.RiskLevel
		}
		reason := eval.Reason
		if req.PolicyReason != "" {
			reason = req.PolicyReason
		}
		impact := eval.BusinessImpactLabel
		if req.BusinessImpactLabel != "" {
			impact = req.BusinessImpactLabel
		}
		requestedBy, requestedByName := actor.UserID, actor.DisplayName
		if req.RequestedByUserID != "" {
			requestedBy, requestedByName = req.RequestedByUserID, req.RequestedByName
		}

		rec := ledger.DecisionRecord{
			DecisionID:          decisionID,
			DecisionType:        req.DecisionType,
			WorkflowType:        req.WorkflowType,
			Purpose:             req.Purpose,
			EntityType:          req.EntityType,
			EntityID:            req.EntityID,
			EntityName:          req.EntityName,
			ParentEntityName:    req.ParentEntityName,
			Status:              status,
			CurrentStep:         1,
			TotalSteps:          len(steps),
			Priority:            priority,
			RiskLevel:           risk,
			SLADueAt:            steps[0].DueAt,
			SLAHours:            eval.SLAHours,
			Amount:              req.Amount,
			Currency:            req.Currency,
			BusinessImpactLabel: impact,
			PolicyReason:        reason,
			RequestedByUserID:   requestedBy,
			RequestedByName:     requestedByName,
			ApproverRole:        steps[0].ApproverRole,
			AssigneeUserID:      steps[0].AssigneeUserID,
			AssigneeName:        steps[0].AssigneeName,
			RequestedOn:         requestedOn,
			Notes:               req.Notes,
			PayloadJSON:         req.Payload,
			PolicySnapshotJSON:  req.PolicySnapshot,
			CreatedAt:           now,
			UpdatedAt:           now,
		}
		if err := tx.PutDecision(rec); err != nil {
			return err
		}
		for _, step := range steps {
			if err := tx.PutStep(step); err != nil {
				return err
			}
		}
		if err := tx.AppendAction(s.newAction(rec, ActionRequested, actor, req.Notes, now)); err != nil {
			return err
		}

		view := s.view(rec, steps, now)
		result = CreateResult{Required: true, Decision: &view}
		return nil
	})
	if err != nil {
		return CreateResult{}, err
	}
	return result, nil
}

// Decide applies an approve or reject outcome to the current step.
// Approving a non-final step advances the chain; approving the final
// step or rejecting any step ends the decision. Requires the Approve or
// Override capability.
func (s *Service) Decide(actor auth.Context, decisionID string, approved bool, notes string) (types.Decision, error) {
	if !actor.CanApprove() {
		return types.Decision{}, ErrForbidden
	}

	now := s.now().UTC()
	var out types.Decision
	err := s.store.WithTx(func(tx ledger.Tx) error {
		rec, ok := tx.GetDecision(decisionID)
		if !ok {
			return ErrNotFound
		}
		if IsTerminalStatus(rec.Status) {
			return invalidOp("decide", rec.Status)
		}

		steps, err := tx.ListSteps(decisionID)
		if err != nil {
			return err
		}
		idx := currentStepIndex(steps, rec.CurrentStep)
		if idx < 0 {
			return &InvalidOpError{Op: "decide", Msg: "decision has no current step"}
		}
		step := steps[idx]
		if isResolvedStep(step.Status) {
			return &InvalidOpError{Op: "decide", Msg: "current step is already resolved"}
		}
		if step.AssigneeUserID != "" && step.AssigneeUserID != actor.UserID && !actor.CanOverride() {
			return ErrForbidden
		}

		if approved {
			return s.applyApprove(tx, &rec, steps, idx, actor, notes, now)
		}
		return s.applyReject(tx, &rec, steps, idx, actor, notes, now)
	})
	if err != nil {
		return types.Decision{}, err
	}
	out, err = s.getView(decisionID)
	return out, err
}

func (s *Service) applyApprove(tx ledger.Tx, rec *ledger.DecisionRecord, steps []ledger.StepRecord, idx int, actor auth.Context, notes string, now time.Time) error {
	step := steps[idx]
	step.Status = StepApproved
	step.CompletedAt = &now
	step.Notes = notes
	step.UpdatedAt = now
	if err := tx.PutStep(step); err != nil {
		return err
	}

	if rec.CurrentStep < rec.TotalSteps {
		next := steps[idx+1]
		next.Status = StepPending
		due := stepDueAt(now, s.slaHours(*rec))
		next.DueAt = &due
		next.UpdatedAt = now
		if err := tx.PutStep(next); err != nil {
			return err
		}

		rec.CurrentStep++
		rec.Status = StatusInProgress
		rec.SLADueAt = next.DueAt
		rec.ApproverRole = next.ApproverRole
		rec.AssigneeUserID = next.AssigneeUserID
		rec.AssigneeName = next.AssigneeName
	} else {
		rec.Status = StatusApproved
		rec.DecisionOn = &now
	}
	rec.UpdatedAt = now
	if err := tx.PutDecision(*rec); err != nil {
		return err
	}
	return tx.AppendAction(s.newAction(*rec, ActionApproved, actor, notes, now))
}

func (s *Service) applyReject(tx ledger.Tx, rec *ledger.DecisionRecord, steps []ledger.StepRecord, idx int, actor auth.Context, notes string, now time.Time) error {
	step := steps[idx]
	step.Status = StepRejected
	step.CompletedAt = &now
	step.Notes = notes
	step.UpdatedAt = now
	if err := tx.PutStep(step); err != nil {
		return err
	}

	// A rejection ends the chain: everything still queued is skipped.
	for _, later := range steps[idx+1:] {
		if later.Status != StepQueued {
			continue
		}
		later.Status = StepSkipped
		later.UpdatedAt = now
		if err := tx.PutStep(later); err != nil {
			return err
		}
	}

	rec.Status = StatusRejected
	rec.DecisionOn = &now
	rec.UpdatedAt = now
	if err := tx.PutDecision(*rec); err != nil {
		return err
	}
	return tx.AppendAction(s.newAction(*rec, ActionRejected, actor, notes, now))
}

// RequestInfo parks the decision in InfoRequested without advancing the
// chain. Requires the Approve or Override capability.
func (s *Service) RequestInfo(actor auth.Context, decisionID, notes string) (types.Decision, error) {
	if !actor.CanApprove() {
		return types.Decision{}, ErrForbidden
	}
	return s.transition(actor, decisionID, notes, func(rec *ledger.DecisionRecord) error {
		if IsTerminalStatus(rec.Status) {
			return invalidOp("request info on", rec.Status)
		}
		rec.Status = StatusInfoRequested
		return nil
	}, ActionInfoRequested)
}

// Delegate reassigns the current step to another reviewer. Chain
// progress and decision status are unchanged. Requires the Approve or
// Override capability.
func (s *Service) Delegate(actor auth.Context, decisionID, delegateUserID, delegateName, notes string) (types.Decision, error) {
	if !actor.CanApprove() {
		return types.Decision{}, ErrForbidden
	}
	if delegateUserID == "" {
		return types.Decision{}, validationErr("delegate_user_id", "must not be empty")
	}

	now := s.now().UTC()
	err := s.store.WithTx(func(tx ledger.Tx) error {
		rec, ok := tx.GetDecision(decisionID)
		if !ok {
			return ErrNotFound
		}
		if IsTerminalStatus(rec.Status) {
			return invalidOp("delegate", rec.Status)
		}

		steps, err := tx.ListSteps(decisionID)
		if err != nil {
			return err
		}
		idx := currentStepIndex(steps, rec.CurrentStep)
		if idx < 0 {
			return &InvalidOpError{Op: "delegate", Msg: "decision has no current step"}
		}
		step := steps[idx]
		if isResolvedStep(step.Status) {
			return &InvalidOpError{Op: "delegate", Msg: "current step is already resolved"}
		}

		step.AssigneeUserID = delegateUserID
		step.AssigneeName = delegateName
		step.UpdatedAt = now
		if err := tx.PutStep(step); err != nil {
			return err
		}

		rec.AssigneeUserID = delegateUserID
		rec.AssigneeName = delegateName
		rec.UpdatedAt = now
		if err := tx.PutDecision(rec); err != nil {
			return err
		}
		return tx.AppendAction(s.newAction(rec, ActionDelegated, actor, notes, now))
	})
	if err != nil {
		return types.Decision{}, err
	}
	return s.getView(decisionID)
}

// Resubmit returns an InfoRequested decision to InProgress after the
// requester has supplied the missing information. Requires the Request
// capability.
func (s *Service) Resubmit(actor auth.Context, decisionID, notes string) (types.Decision, error) {
	if !actor.CanRequest() {
		return types.Decision{}, ErrForbidden
	}
	return s.transition(actor, decisionID, notes, func(rec *ledger.DecisionRecord) error {
		if rec.Status != StatusInfoRequested {
			return invalidOp("resubmit", rec.Status)
		}
		rec.Status = StatusInProgress
		return nil
	}, ActionResubmitted)
}

// Withdraw ends a decision at the requester's initiative. Only the
// original requester, or an actor with Override, may withdraw. Withdrawn
// is terminal and unresolved steps are skipped.
func (s *Service) Withdraw(actor auth.Context, decisionID, notes string) (types.Decision, error) {
	if !actor.CanRequest() {
		return types.Decision{}, ErrForbidden
	}

	now := s.now().UTC()
	err := s.store.WithTx(func(tx ledger.Tx) error {
		rec, ok := tx.GetDecision(decisionID)
		if !ok {
			return ErrNotFound
		}
		if IsTerminalStatus(rec.Status) {
			return invalidOp("withdraw", rec.Status)
		}
		if rec.RequestedByUserID != actor.UserID && !actor.CanOverride() {
			return ErrForbidden
		}

		steps, err := tx.ListSteps(decisionID)
		if err != nil {
			return err
		}
		for _, step := range steps {
			if isResolvedStep(step.Status) {
				continue
			}
			step.Status = StepSkipped
			step.UpdatedAt = now
			if err := tx.PutStep(step); err != nil {
				return err
			}
		}

		rec.Status = StatusWithdrawn
		rec.DecisionOn = &now
		rec.UpdatedAt = now
		if err := tx.PutDecision(rec); err != nil {
			return err
		}
		return tx.AppendAction(s.newAction(rec, ActionWithdrawn, actor, notes, now))
	})
	if err != nil {
		return types.Decision{}, err
	}
	return s.getView(decisionID)
}

// transition applies a status-only mutation plus a log append in one
// store transaction.
func (s *Service) transition(actor auth.Context, decisionID, notes string, mutate func(*ledger.DecisionRecord) error, action string) (types.Decision, error) {
	now := s.now().UTC()
	err := s.store.WithTx(func(tx ledger.Tx) error {
		rec, ok := tx.GetDecision(decisionID)
		if !ok {
			return ErrNotFound
		}
		if err := mutate(&rec); err != nil {
			return err
		}
		rec.UpdatedAt = now
		if err := tx.PutDecision(rec); err != nil {
			return err
		}
		return tx.AppendAction(s.newAction(rec, action, actor, notes, now))
	})
	if err != nil {
		return types.Decision{}, err
	}
	return s.getView(decisionID)
}

// GetDecision returns the read-time view of one decision with its steps.
// Requires the View capability.
func (s *Service) GetDecision(actor auth.Context, decisionID string) (types.Decision, error) {
	if !actor.CanView() {
		return types.Decision{}, ErrForbidden
	}
	return s.getView(decisionID)
}

func (s *Service) getView(decisionID string) (types.Decision, error) {
	rec, ok := s.store.GetDecision(decisionID)
	if !ok {
		return types.Decision{}, ErrNotFound
	}
	steps, err := s.store.ListSteps(decisionID)
	if err != nil {
		return types.Decision{}, err
	}
	return s.view(rec, steps, s.now().UTC()), nil
}

// InboxFilter narrows the inbox listing. Zero values match everything.
type InboxFilter struct {
	AssigneeUserID string
	Status         string
	Purpose        string
	EscalatedOnly  bool
}

// Inbox lists open decisions, newest first, with SLA and escalation
// state derived from the clock at call time. Requires the View
// capability.
func (s *Service) Inbox(actor auth.Context, filter InboxFilter) ([]types.Decision, error) {
	if !actor.CanView() {
		return nil, ErrForbidden
	}

	recs, err := s.store.ListDecisions()
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	out := []types.Decision{}
	for _, rec := range recs {
		if IsTerminalStatus(rec.Status) {
			continue
		}
		if filter.AssigneeUserID != "" && rec.AssigneeUserID != filter.AssigneeUserID {
			continue
		}
		if filter.Status != "" && rec.Status != filter.Status {
			continue
		}
		if filter.Purpose != "" && rec.Purpose != filter.Purpose {
			continue
		}
		view := s.view(rec, nil, now)
		if filter.EscalatedOnly && !view.IsEscalated {
			continue
		}
		out = append(out, view)
	}
	return out, nil
}

// view projects a stored record into the wire shape, deriving SLA
// status, age and escalation from now.
func (s *Service) view(rec ledger.DecisionRecord, steps []ledger.StepRecord, now time.Time) types.Decision {
	d := types.Decision{
		DecisionID:          rec.DecisionID,
		DecisionType:        rec.DecisionType,
		WorkflowType:        rec.WorkflowType,
		Purpose:             rec.Purpose,
		EntityType:          rec.EntityType,
		EntityID:            rec.EntityID,
		EntityName:          rec.EntityName,
		ParentEntityName:    rec.ParentEntityName,
		Status:              rec.Status,
		ChainStatus:         rec.Status,
		CurrentStepOrder:    rec.CurrentStep,
		TotalSteps:          rec.TotalSteps,
		StepRole:            rec.ApproverRole,
		Priority:            rec.Priority,
		RiskLevel:           rec.RiskLevel,
		SLAStatus:           DeriveSLAStatus(rec.Status, rec.SLADueAt, now, s.atRiskWindow()),
		SLADueAt:            rec.SLADueAt,
		RequestedAgeHours:   AgeHours(rec.RequestedOn, now),
		IsEscalated:         deriveEscalated(rec, now, s.escalateAfter()),
		Amount:              rec.Amount,
		Currency:            rec.Currency,
		BusinessImpactLabel: rec.BusinessImpactLabel,
		PolicyReason:        rec.PolicyReason,
		RequestedByUserID:   rec.RequestedByUserID,
		RequestedByName:     rec.RequestedByName,
		AssigneeUserID:      rec.AssigneeUserID,
		AssigneeName:        rec.AssigneeName,
		RequestedOn:         rec.RequestedOn,
		DecisionOn:          rec.DecisionOn,
		Notes:               rec.Notes,
		PayloadJSON:         rec.PayloadJSON,
		PolicySnapshotJSON:  rec.PolicySnapshotJSON,
	}
	if d.IsEscalated && !IsTerminalStatus(rec.Status) {
		d.Priority = MaxPriority(d.Priority, PriorityCritical)
	}
	for _, step := range steps {
		d.Steps = append(d.Steps, types.Step{
			StepID:         step.StepID,
			StepOrder:      step.StepOrder,
			StepType:       step.StepType,
			Status:         step.Status,
			ApproverRole:   step.ApproverRole,
			AssigneeUserID: step.AssigneeUserID,
			AssigneeName:   step.AssigneeName,
			DueAt:          step.DueAt,
			CompletedAt:    step.CompletedAt,
			Notes:          step.Notes,
		})
	}
	return d
}

// newAction builds a log record with the denormalized snapshot of the
// decision as it looks at this moment.
func (s *Service) newAction(rec ledger.DecisionRecord, action string, actor auth.Context, notes string, now time.Time) ledger.ActionLogRecord {
	return ledger.ActionLogRecord{
		ActionLogID:  uuid.New().String(),
		DecisionID:   rec.DecisionID,
		Action:       action,
		ActionAt:     now,
		ActorUserID:  actor.UserID,
		ActorName:    actor.DisplayName,
		Notes:        notes,
		DecisionType: rec.DecisionType,
		EntityType:   rec.EntityType,
		EntityName:   rec.EntityName,
		Status:       rec.Status,
		Priority:     rec.Priority,
		RiskLevel:    rec.RiskLevel,
		PolicyReason: rec.PolicyReason,
		Escalated:    rec.Escalated,
	}
}

// slaHours returns the SLA window captured at creation time, falling
// back to the live policy default. The policy snapshot blob is opaque
// and never consulted.
func (s *Service) slaHours(rec ledger.DecisionRecord) int {
	if rec.SLAHours > 0 {
		return rec.SLAHours
	}
	if h := s.policy.Policy.Defaults.SLAHours; h > 0 {
		return h
	}
	return 24
}

func currentStepIndex(steps []ledger.StepRecord, order int) int {
	for i, step := range steps {
		if step.StepOrder == order {
			return i
		}
	}
	return -1
}
