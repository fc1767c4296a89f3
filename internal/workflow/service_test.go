package workflow

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidahmann/approvalflow/internal/auth"
	"github.com/davidahmann/approvalflow/internal/ledger"
	"github.com/davidahmann/approvalflow/internal/policy"
)

var (
	requester = auth.NewContext("u-req", "Riley Requester", auth.CapView, auth.CapRequest)
	manager   = auth.NewContext("u-mgr", "Morgan Manager", auth.CapView, auth.CapApprove)
	director  = auth.NewContext("u-dir", "Devon Director", auth.CapView, auth.CapApprove)
	admin     = auth.NewContext("u-adm", "Avery Admin", auth.CapView, auth.CapOverride)
	viewer    = auth.NewContext("u-view", "Vic Viewer", auth.CapView)
)

func testPolicy() policy.LoadedPolicy {
	return policy.LoadedPolicy{
		Policy: policy.Policy{
			PolicyID:      "tenant-default",
			PolicyVersion: "1",
			Defaults: policy.Defaults{
				ApprovalAmountThreshold: 10000,
				ApproverRole:            "Manager",
				SLAHours:                24,
				EscalateAfterHours:      24,
			},
			Purposes: []policy.PurposeRule{
				{Purpose: "Discount", SLAHours: intPtr(4), RiskLevel: "medium"},
				{Purpose: "Close", SLAHours: intPtr(8)},
			},
		},
		Hash: "sha256:test",
	}
}

func intPtr(v int) *int { return &v }

func newTestService(t *testing.T) (*Service, *time.Time) {
	t.Helper()
	now := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	svc := NewService(ledger.NewInMemoryStore(), testPolicy()).WithClock(func() time.Time { return now })
	return svc, &now
}

func createReq(amount float64) CreateRequest {
	return CreateRequest{
		DecisionType:     "DiscountApproval",
		Purpose:          "Discount",
		EntityType:       "Opportunity",
		EntityID:         "opp-1",
		EntityName:       "ACME Renewal",
		ParentEntityName: "ACME Industries",
		Amount:           amount,
		Currency:         "USD",
		AssigneeUserID:   manager.UserID,
		AssigneeName:     manager.DisplayName,
	}
}

func TestCreateBelowThresholdNotRequired(t *testing.T) {
	svc, _ := newTestService(t)

	res, err := svc.CreateDecision(requester, createReq(5000))
	require.NoError(t, err)
	assert.False(t, res.Required)
	assert.Nil(t, res.Decision)
	assert.Equal(t, "Amount below approval threshold", res.Reason)
}

func TestCreateSingleStepChain(t *testing.T) {
	svc, _ := newTestService(t)

	req := createReq(50000)
	req.DecisionType = "CloseApproval"
	req.Purpose = "Close"
	res, err := svc.CreateDecision(requester, req)
	require.NoError(t, err)
	require.True(t, res.Required)
	require.NotNil(t, res.Decision)

	d := *res.Decision
	assert.Equal(t, StatusInProgress, d.Status)
	assert.Equal(t, 1, d.CurrentStepOrder)
	assert.Equal(t, 1, d.TotalSteps)
	require.Len(t, d.Steps, 1)
	assert.Equal(t, "Manager", d.Steps[0].ApproverRole)
	assert.Equal(t, "Manager", d.StepRole)
	assert.Equal(t, StepPending, d.Steps[0].Status)
	require.NotNil(t, d.SLADueAt)
	assert.Equal(t, d.RequestedOn.Add(8*time.Hour), *d.SLADueAt)
}

func TestCreateRequiresRequestCapability(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.CreateDecision(viewer, createReq(50000))
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestCreateValidation(t *testing.T) {
	svc, _ := newTestService(t)

	req := createReq(50000)
	req.EntityID = ""
	_, err := svc.CreateDecision(requester, req)
	assert.True(t, IsValidation(err), "expected validation error, got %v", err)

	req = createReq(-5)
	_, err = svc.CreateDecision(requester, req)
	assert.True(t, IsValidation(err), "expected validation error, got %v", err)
}

func TestCreateMergesOpenDuplicate(t *testing.T) {
	svc, _ := newTestService(t)

	first, err := svc.CreateDecision(requester, createReq(50000))
	require.NoError(t, err)

	second, err := svc.CreateDecision(requester, createReq(60000))
	require.NoError(t, err)
	assert.True(t, second.Merged)
	assert.Equal(t, first.Decision.DecisionID, second.Decision.DecisionID)

	history, err := svc.History(viewer, HistoryQuery{DecisionID: first.Decision.DecisionID})
	require.NoError(t, err)
	assert.Len(t, history, 1, "merge must not append a second Requested entry")
}

// Payload and policy snapshot blobs come back byte for byte as captured,
// on the create response and on every later read.
func TestCreateEchoesPayloadAndSnapshot(t *testing.T) {
	svc, _ := newTestService(t)

	payload := `{"quote":"Q-9","discount_pct":22}`
	snapshot := `{"policy_id":"tenant-default","sla_hours":4}`
	req := createReq(50000)
	req.Payload = json.RawMessage(payload)
	req.PolicySnapshot = json.RawMessage(snapshot)

	res, err := svc.CreateDecision(requester, req)
	require.NoError(t, err)
	require.True(t, res.Required)
	assert.Equal(t, payload, string(res.Decision.PayloadJSON))
	assert.Equal(t, snapshot, string(res.Decision.PolicySnapshotJSON))

	d, err := svc.GetDecision(viewer, res.Decision.DecisionID)
	require.NoError(t, err)
	assert.Equal(t, payload, string(d.PayloadJSON))
	assert.Equal(t, snapshot, string(d.PolicySnapshotJSON))
}

// The snapshot blob is opaque: a blob that is not even JSON must not
// affect chain advancement or SLA math.
func TestSnapshotBlobIsNeverParsed(t *testing.T) {
	svc, _ := newTestService(t)

	req := createReq(50000)
	req.PolicySnapshot = json.RawMessage(`not json at all`)
	req.Steps = []StepTemplate{
		{ApproverRole: "Manager", AssigneeUserID: manager.UserID},
		{ApproverRole: "Director", AssigneeUserID: director.UserID},
	}
	res, err := svc.CreateDecision(requester, req)
	require.NoError(t, err)

	d, err := svc.Decide(manager, res.Decision.DecisionID, true, "")
	require.NoError(t, err)
	assert.Equal(t, 2, d.CurrentStepOrder)
	require.NotNil(t, d.Steps[1].DueAt)
	assert.Equal(t, d.RequestedOn.Add(4*time.Hour), *d.Steps[1].DueAt)
	assert.Equal(t, `not json at all`, string(d.PolicySnapshotJSON))
}

// Caller-supplied overrides replace the policy-evaluated defaults. The
// served SLA status is still derived from the clock, never the override.
func TestCreateAppliesOverrides(t *testing.T) {
	svc, now := newTestService(t)

	requestedOn := now.Add(-2 * time.Hour)
	due := now.Add(30 * time.Minute)
	req := createReq(50000)
	req.Status = StatusSubmitted
	req.Priority = PriorityHigh
	req.RiskLevel = RiskHigh
	req.SLAStatus = SLAOnTrack
	req.SLADueAt = &due
	req.PolicyReason = "manual review requested"
	req.BusinessImpactLabel = "strategic account"
	req.RequestedByUserID = "u-import"
	req.RequestedByName = "Imported Requester"
	req.RequestedOn = &requestedOn

	res, err := svc.CreateDecision(requester, req)
	require.NoError(t, err)
	require.True(t, res.Required)

	d := *res.Decision
	assert.Equal(t, StatusSubmitted, d.Status)
	assert.Equal(t, PriorityHigh, d.Priority)
	assert.Equal(t, RiskHigh, d.RiskLevel)
	require.NotNil(t, d.SLADueAt)
	assert.Equal(t, due, *d.SLADueAt)
	assert.Equal(t, "manual review requested", d.PolicyReason)
	assert.Equal(t, "strategic account", d.BusinessImpactLabel)
	assert.Equal(t, "u-import", d.RequestedByUserID)
	assert.Equal(t, "Imported Requester", d.RequestedByName)
	assert.Equal(t, requestedOn, d.RequestedOn)
	// Due in 30 minutes, inside the default 60-minute at-risk window.
	assert.Equal(t, SLAAtRisk, d.SLAStatus)
}

func TestCreateRejectsUnrecognizedOverrides(t *testing.T) {
	svc, _ := newTestService(t)

	for name, mutate := range map[string]func(*CreateRequest){
		"status":          func(r *CreateRequest) { r.Status = "Pending" },
		"terminal status": func(r *CreateRequest) { r.Status = StatusApproved },
		"priority":        func(r *CreateRequest) { r.Priority = "urgent" },
		"risk level":      func(r *CreateRequest) { r.RiskLevel = "extreme" },
		"sla status":      func(r *CreateRequest) { r.SLAStatus = "breached" },
	} {
		t.Run(name, func(t *testing.T) {
			req := createReq(50000)
			mutate(&req)
			_, err := svc.CreateDecision(requester, req)
			assert.True(t, IsValidation(err), "expected validation error, got %v", err)
		})
	}
}

// Single-step approval: amount over threshold builds a one-step chain
// and a manager's approve lands the decision terminal with exactly two
// history entries.
func TestSingleStepApproveFlow(t *testing.T) {
	svc, _ := newTestService(t)

	req := createReq(50000)
	req.Purpose = "Close"
	res, err := svc.CreateDecision(requester, req)
	require.NoError(t, err)
	id := res.Decision.DecisionID

	d, err := svc.Decide(manager, id, true, "looks good")
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, d.Status)
	require.NotNil(t, d.DecisionOn)
	assert.Equal(t, SLACompleted, d.SLAStatus)
	require.Len(t, d.Steps, 1)
	assert.Equal(t, StepApproved, d.Steps[0].Status)
	require.NotNil(t, d.Steps[0].CompletedAt)

	history, err := svc.History(viewer, HistoryQuery{DecisionID: id})
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, ActionApproved, history[0].Action)
	assert.Equal(t, ActionRequested, history[1].Action)
}

// Two-step chain: approving step one advances the chain, rejecting step
// two ends it Rejected with three history entries.
func TestTwoStepRejectFlow(t *testing.T) {
	svc, _ := newTestService(t)

	req := createReq(50000)
	req.Steps = []StepTemplate{
		{StepType: "Approval", ApproverRole: "Manager", AssigneeUserID: manager.UserID, AssigneeName: manager.DisplayName},
		{StepType: "Approval", ApproverRole: "Director", AssigneeUserID: director.UserID, AssigneeName: director.DisplayName},
	}
	res, err := svc.CreateDecision(requester, req)
	require.NoError(t, err)
	id := res.Decision.DecisionID
	assert.Equal(t, 2, res.Decision.TotalSteps)

	d, err := svc.Decide(manager, id, true, "step one fine")
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, d.Status)
	assert.Equal(t, StatusInProgress, d.ChainStatus)
	assert.Equal(t, 2, d.CurrentStepOrder)
	assert.Equal(t, "Director", d.StepRole)
	assert.Equal(t, director.UserID, d.AssigneeUserID)
	assert.Equal(t, StepPending, d.Steps[1].Status)
	require.NotNil(t, d.Steps[1].DueAt)
	// The second step gets the full 4h discount window from the moment
	// it became pending.
	assert.Equal(t, d.RequestedOn.Add(4*time.Hour), *d.Steps[1].DueAt)

	d, err = svc.Decide(director, id, false, "budget")
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, d.Status)
	assert.Equal(t, StatusRejected, d.ChainStatus)
	require.NotNil(t, d.DecisionOn)
	assert.Equal(t, StepRejected, d.Steps[1].Status)

	history, err := svc.History(viewer, HistoryQuery{DecisionID: id})
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, ActionRejected, history[0].Action)
	assert.Equal(t, "budget", history[0].Notes)
}

func TestRejectSkipsQueuedSteps(t *testing.T) {
	svc, _ := newTestService(t)

	req := createReq(50000)
	req.Steps = []StepTemplate{
		{AssigneeUserID: manager.UserID},
		{AssigneeUserID: director.UserID},
		{ApproverRole: "VP"},
	}
	res, err := svc.CreateDecision(requester, req)
	require.NoError(t, err)

	d, err := svc.Decide(manager, res.Decision.DecisionID, false, "no")
	require.NoError(t, err)
	assert.Equal(t, StepRejected, d.Steps[0].Status)
	assert.Equal(t, StepSkipped, d.Steps[1].Status)
	assert.Equal(t, StepSkipped, d.Steps[2].Status)
}

// Delegation reassigns the current step and nothing else.
func TestDelegate(t *testing.T) {
	svc, _ := newTestService(t)

	res, err := svc.CreateDecision(requester, createReq(50000))
	require.NoError(t, err)
	id := res.Decision.DecisionID

	d, err := svc.Delegate(manager, id, director.UserID, director.DisplayName, "on leave")
	require.NoError(t, err)
	assert.Equal(t, director.UserID, d.AssigneeUserID)
	assert.Equal(t, director.UserID, d.Steps[0].AssigneeUserID)
	assert.Equal(t, StatusInProgress, d.Status)
	assert.Equal(t, 1, d.CurrentStepOrder)

	history, err := svc.History(viewer, HistoryQuery{DecisionID: id})
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, ActionDelegated, history[0].Action)

	// The delegate can now decide; the previous assignee no longer can.
	_, err = svc.Decide(manager, id, true, "")
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = svc.Decide(director, id, true, "")
	require.NoError(t, err)
}

func TestDelegateEmptyUserID(t *testing.T) {
	svc, _ := newTestService(t)

	res, err := svc.CreateDecision(requester, createReq(50000))
	require.NoError(t, err)

	_, err = svc.Delegate(manager, res.Decision.DecisionID, "", "", "")
	assert.True(t, IsValidation(err), "expected validation error, got %v", err)
}

// Deciding an already-terminal decision is invalid and changes nothing.
func TestDecideTerminalIsInvalid(t *testing.T) {
	svc, _ := newTestService(t)

	res, err := svc.CreateDecision(requester, createReq(50000))
	require.NoError(t, err)
	id := res.Decision.DecisionID

	_, err = svc.Decide(manager, id, true, "")
	require.NoError(t, err)

	_, err = svc.Decide(manager, id, true, "again")
	assert.True(t, IsInvalidOp(err), "expected invalid operation, got %v", err)

	history, err := svc.History(viewer, HistoryQuery{DecisionID: id})
	require.NoError(t, err)
	assert.Len(t, history, 2, "failed decide must not append history")
}

// RequestInfo parks the decision without advancing the chain.
func TestRequestInfo(t *testing.T) {
	svc, _ := newTestService(t)

	res, err := svc.CreateDecision(requester, createReq(50000))
	require.NoError(t, err)
	id := res.Decision.DecisionID

	d, err := svc.RequestInfo(manager, id, "need the contract")
	require.NoError(t, err)
	assert.Equal(t, StatusInfoRequested, d.Status)
	assert.Equal(t, 1, d.CurrentStepOrder)
	assert.Equal(t, 1, d.TotalSteps)

	history, err := svc.History(viewer, HistoryQuery{DecisionID: id})
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, ActionInfoRequested, history[0].Action)
}

func TestResubmitReturnsToInProgress(t *testing.T) {
	svc, _ := newTestService(t)

	res, err := svc.CreateDecision(requester, createReq(50000))
	require.NoError(t, err)
	id := res.Decision.DecisionID

	_, err = svc.RequestInfo(manager, id, "need the contract")
	require.NoError(t, err)

	d, err := svc.Resubmit(requester, id, "contract attached")
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, d.Status)

	// Resubmit only applies to InfoRequested decisions.
	_, err = svc.Resubmit(requester, id, "")
	assert.True(t, IsInvalidOp(err))
}

func TestWithdraw(t *testing.T) {
	svc, _ := newTestService(t)

	res, err := svc.CreateDecision(requester, createReq(50000))
	require.NoError(t, err)
	id := res.Decision.DecisionID

	// Another requester cannot withdraw someone else's decision.
	other := auth.NewContext("u-other", "Olly Other", auth.CapView, auth.CapRequest)
	_, err = svc.Withdraw(other, id, "")
	assert.ErrorIs(t, err, ErrForbidden)

	d, err := svc.Withdraw(requester, id, "deal fell through")
	require.NoError(t, err)
	assert.Equal(t, StatusWithdrawn, d.Status)
	require.NotNil(t, d.DecisionOn)
	assert.Equal(t, StepSkipped, d.Steps[0].Status)

	_, err = svc.Decide(manager, id, true, "")
	assert.True(t, IsInvalidOp(err))
}

func TestOverrideActsOnAnyStep(t *testing.T) {
	svc, _ := newTestService(t)

	res, err := svc.CreateDecision(requester, createReq(50000))
	require.NoError(t, err)

	// Step is assigned to the manager, but Override may decide it.
	d, err := svc.Decide(admin, res.Decision.DecisionID, true, "override approve")
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, d.Status)
}

func TestDecideNotFound(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Decide(manager, "missing", true, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDecideRequiresApproveCapability(t *testing.T) {
	svc, _ := newTestService(t)

	res, err := svc.CreateDecision(requester, createReq(50000))
	require.NoError(t, err)

	_, err = svc.Decide(requester, res.Decision.DecisionID, true, "")
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestInboxDerivesSLA(t *testing.T) {
	svc, now := newTestService(t)

	res, err := svc.CreateDecision(requester, createReq(50000))
	require.NoError(t, err)
	require.NotNil(t, res.Decision.SLADueAt)

	inbox, err := svc.Inbox(viewer, InboxFilter{})
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	assert.Equal(t, SLAOnTrack, inbox[0].SLAStatus)
	assert.False(t, inbox[0].IsEscalated)

	// 30 minutes before the 4h discount SLA due date: at risk.
	*now = now.Add(3*time.Hour + 30*time.Minute)
	inbox, err = svc.Inbox(viewer, InboxFilter{})
	require.NoError(t, err)
	assert.Equal(t, SLAAtRisk, inbox[0].SLAStatus)

	// Past due: overdue, but still inside the high-risk escalation
	// window (half of 24h), so not escalated yet.
	*now = now.Add(2 * time.Hour)
	inbox, err = svc.Inbox(viewer, InboxFilter{})
	require.NoError(t, err)
	assert.Equal(t, SLAOverdue, inbox[0].SLAStatus)
	assert.InDelta(t, 5.5, inbox[0].RequestedAgeHours, 0.01)

	// Past the escalation window: derived as escalated and shown at
	// critical priority without any sweep having run.
	*now = now.Add(20 * time.Hour)
	inbox, err = svc.Inbox(viewer, InboxFilter{})
	require.NoError(t, err)
	assert.True(t, inbox[0].IsEscalated)
	assert.Equal(t, PriorityCritical, inbox[0].Priority)
}

func TestInboxFiltersByPurpose(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.CreateDecision(requester, createReq(50000))
	require.NoError(t, err)

	closeReq := createReq(60000)
	closeReq.DecisionType = "CloseApproval"
	closeReq.Purpose = "Close"
	closeReq.EntityID = "opp-2"
	_, err = svc.CreateDecision(requester, closeReq)
	require.NoError(t, err)

	inbox, err := svc.Inbox(viewer, InboxFilter{Purpose: "Close"})
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	assert.Equal(t, "Close", inbox[0].Purpose)

	inbox, err = svc.Inbox(viewer, InboxFilter{})
	require.NoError(t, err)
	assert.Len(t, inbox, 2)
}

func TestInboxExcludesTerminal(t *testing.T) {
	svc, _ := newTestService(t)

	res, err := svc.CreateDecision(requester, createReq(50000))
	require.NoError(t, err)
	_, err = svc.Decide(manager, res.Decision.DecisionID, true, "")
	require.NoError(t, err)

	inbox, err := svc.Inbox(viewer, InboxFilter{})
	require.NoError(t, err)
	assert.Empty(t, inbox)
}

func TestSweepEscalations(t *testing.T) {
	svc, now := newTestService(t)

	res, err := svc.CreateDecision(requester, createReq(50000))
	require.NoError(t, err)
	id := res.Decision.DecisionID

	count, err := svc.SweepEscalations()
	require.NoError(t, err)
	assert.Zero(t, count)

	*now = now.Add(25 * time.Hour)
	count, err = svc.SweepEscalations()
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	d, err := svc.GetDecision(viewer, id)
	require.NoError(t, err)
	assert.True(t, d.IsEscalated)
	assert.Equal(t, PriorityCritical, d.Priority)

	history, err := svc.History(viewer, HistoryQuery{DecisionID: id})
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, ActionEscalated, history[0].Action)
	assert.Equal(t, "system", history[0].ActorUserID)

	// The sweep is one-time per decision.
	count, err = svc.SweepEscalations()
	require.NoError(t, err)
	assert.Zero(t, count)

	// Escalation is monotonic until terminal.
	_, err = svc.RequestInfo(manager, id, "")
	require.NoError(t, err)
	d, err = svc.GetDecision(viewer, id)
	require.NoError(t, err)
	assert.True(t, d.IsEscalated)
}

// Escalation entries carry UTC timestamps even when the host clock runs
// in a local zone.
func TestSweepEscalationsRecordsUTC(t *testing.T) {
	zone := time.FixedZone("UTC+2", 2*3600)
	now := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	svc := NewService(ledger.NewInMemoryStore(), testPolicy()).WithClock(func() time.Time { return now.In(zone) })

	res, err := svc.CreateDecision(requester, createReq(50000))
	require.NoError(t, err)
	id := res.Decision.DecisionID

	now = now.Add(25 * time.Hour)
	count, err := svc.SweepEscalations()
	require.NoError(t, err)
	require.Equal(t, 1, count)

	history, err := svc.History(viewer, HistoryQuery{DecisionID: id})
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, ActionEscalated, history[0].Action)
	assert.Equal(t, time.UTC, history[0].ActionAt.Location())
}

func TestGetDecisionRequiresView(t *testing.T) {
	svc, _ := newTestService(t)

	noCaps := auth.NewContext("u-none", "Nobody")
	_, err := svc.GetDecision(noCaps, "anything")
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestFailedTransitionLeavesNoPartialState(t *testing.T) {
	svc, _ := newTestService(t)

	res, err := svc.CreateDecision(requester, createReq(50000))
	require.NoError(t, err)
	id := res.Decision.DecisionID

	before, err := svc.GetDecision(viewer, id)
	require.NoError(t, err)

	_, err = svc.Decide(director, id, true, "not my step")
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrForbidden))

	after, err := svc.GetDecision(viewer, id)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}
