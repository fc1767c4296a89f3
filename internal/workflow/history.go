package workflow

import (
	"strings"

	"golang.org/x/text/cases"

	"github.com/davidahmann/approvalflow/internal/auth"
	"github.com/davidahmann/approvalflow/internal/ledger"
	"github.com/davidahmann/approvalflow/pkg/types"
)

const (
	historyDefaultTake = 200
	historyMaxTake     = 500
)

// HistoryQuery filters the action log. Zero values match everything.
// Take is clamped to 1..500 and defaults to 200.
type HistoryQuery struct {
	DecisionID   string
	Action       string
	Status       string
	DecisionType string
	Search       string
	Take         int
}

// History projects the append-only action log, newest first. Entries
// carry the snapshot captured when the action happened; they are never
// re-derived from live decision state. Requires the View capability.
func (s *Service) History(actor auth.Context, q HistoryQuery) ([]types.HistoryEntry, error) {
	if !actor.CanView() {
		return nil, ErrForbidden
	}

	take := q.Take
	if take <= 0 {
		take = historyDefaultTake
	}
	if take > historyMaxTake {
		take = historyMaxTake
	}

	var (
		recs []ledger.ActionLogRecord
		err  error
	)
	if q.DecisionID != "" {
		recs, err = s.store.ListActions(q.DecisionID)
		// Per-decision listings come back oldest first; history reads
		// newest first.
		if err == nil {
			reverseActions(recs)
		}
	} else {
		recs, err = s.store.ListAllActions(0)
	}
	if err != nil {
		return nil, err
	}

	// Casers are stateful, so build one per call rather than sharing.
	fold := cases.Fold()
	needle := fold.String(q.Search)
	out := []types.HistoryEntry{}
	for _, rec := range recs {
		if q.Action != "" && rec.Action != q.Action {
			continue
		}
		if q.Status != "" && rec.Status != q.Status {
			continue
		}
		if q.DecisionType != "" && rec.DecisionType != q.DecisionType {
			continue
		}
		if needle != "" && !matchesSearch(fold, rec, needle) {
			continue
		}
		out = append(out, types.HistoryEntry{
			ActionLogID:  rec.ActionLogID,
			DecisionID:   rec.DecisionID,
			Action:       rec.Action,
			ActionAt:     rec.ActionAt,
			ActorUserID:  rec.ActorUserID,
			ActorName:    rec.ActorName,
			Notes:        rec.Notes,
			DecisionType: rec.DecisionType,
			EntityType:   rec.EntityType,
			EntityName:   rec.EntityName,
			Status:       rec.Status,
			Priority:     rec.Priority,
			RiskLevel:    rec.RiskLevel,
			PolicyReason: rec.PolicyReason,
			IsEscalated:  rec.Escalated,
		})
		if len(out) == take {
			break
		}
	}
	return out, nil
}

// matchesSearch does a case-folded substring match over entity name,
// actor name, notes and policy reason, so e.g. "acme" finds "ACME
// Industries".
func matchesSearch(fold cases.Caser, rec ledger.ActionLogRecord, foldedNeedle string) bool {
	for _, field := range []string{rec.EntityName, rec.ActorName, rec.Notes, rec.PolicyReason} {
		if field == "" {
			continue
		}
		if strings.Contains(fold.String(field), foldedNeedle) {
			return true
		}
	}
	return false
}

func reverseActions(recs []ledger.ActionLogRecord) {
	for i, j := 0, len(recs)-1; i < j; i, j = i+1, j-1 {
		recs[i], recs[j] = recs[j], recs[i]
	}
}
