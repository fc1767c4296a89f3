package workflow

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedHistory(t *testing.T, svc *Service) (approvedID, rejectedID string) {
	t.Helper()

	req := createReq(50000)
	res, err := svc.CreateDecision(requester, req)
	require.NoError(t, err)
	approvedID = res.Decision.DecisionID
	_, err = svc.Decide(manager, approvedID, true, "")
	require.NoError(t, err)

	req = createReq(60000)
	req.EntityID = "opp-2"
	req.EntityName = "Globex Expansion"
	res, err = svc.CreateDecision(requester, req)
	require.NoError(t, err)
	rejectedID = res.Decision.DecisionID
	_, err = svc.Decide(manager, rejectedID, false, "over budget")
	require.NoError(t, err)

	return approvedID, rejectedID
}

func TestHistoryFilters(t *testing.T) {
	svc, _ := newTestService(t)
	approvedID, rejectedID := seedHistory(t, svc)

	all, err := svc.History(viewer, HistoryQuery{})
	require.NoError(t, err)
	assert.Len(t, all, 4)

	byAction, err := svc.History(viewer, HistoryQuery{Action: ActionRejected})
	require.NoError(t, err)
	require.Len(t, byAction, 1)
	assert.Equal(t, rejectedID, byAction[0].DecisionID)

	byDecision, err := svc.History(viewer, HistoryQuery{DecisionID: approvedID})
	require.NoError(t, err)
	require.Len(t, byDecision, 2)
	assert.Equal(t, ActionApproved, byDecision[0].Action)
	assert.Equal(t, ActionRequested, byDecision[1].Action)

	byType, err := svc.History(viewer, HistoryQuery{DecisionType: "DiscountApproval"})
	require.NoError(t, err)
	assert.Len(t, byType, 4)
}

func TestHistorySearchIsCaseFolded(t *testing.T) {
	svc, _ := newTestService(t)
	_, rejectedID := seedHistory(t, svc)

	hits, err := svc.History(viewer, HistoryQuery{Search: "globex"})
	require.NoError(t, err)
	require.Len(t, hits, 2)
	for _, h := range hits {
		assert.Equal(t, rejectedID, h.DecisionID)
	}

	// Actor names match too.
	hits, err = svc.History(viewer, HistoryQuery{Search: "MORGAN"})
	require.NoError(t, err)
	assert.Len(t, hits, 2)

	hits, err = svc.History(viewer, HistoryQuery{Search: "nomatch"})
	require.NoError(t, err)
	assert.Empty(t, hits)
}

// Notes and policy reasons are searchable alongside entity and actor
// names.
func TestHistorySearchCoversNotesAndPolicyReason(t *testing.T) {
	svc, _ := newTestService(t)
	_, rejectedID := seedHistory(t, svc)

	hits, err := svc.History(viewer, HistoryQuery{Search: "OVER BUDGET"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, rejectedID, hits[0].DecisionID)
	assert.Equal(t, ActionRejected, hits[0].Action)

	req := createReq(70000)
	req.EntityID = "opp-3"
	req.PolicyReason = "quarterly blitz exception"
	res, err := svc.CreateDecision(requester, req)
	require.NoError(t, err)

	hits, err = svc.History(viewer, HistoryQuery{Search: "blitz"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, res.Decision.DecisionID, hits[0].DecisionID)
}

func TestHistoryTakeClamped(t *testing.T) {
	svc, _ := newTestService(t)

	for i := 0; i < 5; i++ {
		req := createReq(50000)
		req.EntityID = fmt.Sprintf("opp-%d", i)
		_, err := svc.CreateDecision(requester, req)
		require.NoError(t, err)
	}

	two, err := svc.History(viewer, HistoryQuery{Take: 2})
	require.NoError(t, err)
	assert.Len(t, two, 2)

	// Oversized take falls back to the cap, zero to the default.
	capped, err := svc.History(viewer, HistoryQuery{Take: 10000})
	require.NoError(t, err)
	assert.Len(t, capped, 5)

	def, err := svc.History(viewer, HistoryQuery{})
	require.NoError(t, err)
	assert.Len(t, def, 5)
}

// History snapshots are immutable: a later transition does not rewrite
// what an earlier entry recorded.
func TestHistorySnapshotsAreImmutable(t *testing.T) {
	svc, _ := newTestService(t)

	res, err := svc.CreateDecision(requester, createReq(50000))
	require.NoError(t, err)
	id := res.Decision.DecisionID

	_, err = svc.Decide(manager, id, true, "")
	require.NoError(t, err)

	history, err := svc.History(viewer, HistoryQuery{DecisionID: id})
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, StatusApproved, history[0].Status)
	assert.Equal(t, StatusInProgress, history[1].Status, "Requested entry keeps its creation-time snapshot")
}
