package workflow

import (
	"time"

	"github.com/davidahmann/approvalflow/internal/ledger"
)

// AgeHours returns how long a decision has been open, in hours.
func AgeHours(requestedOn, now time.Time) float64 {
	return now.Sub(requestedOn).Hours()
}

// DeriveSLAStatus recomputes the SLA status from the clock on every
// read. Terminal decisions report completed; a decision inside the
// at-risk window before its due date reports at-risk.
func DeriveSLAStatus(status string, dueAt *time.Time, now time.Time, atRiskWindow time.Duration) string {
	if IsTerminalStatus(status) {
		return SLACompleted
	}
	if dueAt == nil {
		return SLAOnTrack
	}
	switch {
	case now.After(*dueAt):
		return SLAOverdue
	case now.Add(atRiskWindow).After(*dueAt):
		return SLAAtRisk
	default:
		return SLAOnTrack
	}
}

// escalateThreshold returns how long a decision may stay open before it
// escalates. High-priority and high-risk work gets half the base window.
func escalateThreshold(priority, riskLevel string, base time.Duration) time.Duration {
	if priorityRank(priority) >= priorityRank(PriorityHigh) || riskLevel == RiskHigh {
		return base / 2
	}
	return base
}

// deriveEscalated reports whether a decision should count as escalated
// right now. Once the stored flag is set it stays set until the
// decision is terminal, so the derivation only ever widens.
func deriveEscalated(rec ledger.DecisionRecord, now time.Time, base time.Duration) bool {
	if IsTerminalStatus(rec.Status) {
		return rec.Escalated
	}
	if rec.Escalated {
		return true
	}
	if base <= 0 {
		return false
	}
	return now.Sub(rec.RequestedOn) > escalateThreshold(rec.Priority, rec.RiskLevel, base)
}

// SweepEscalations persists the escalation flag for every open decision
// whose age has crossed its threshold: the flag is set, priority is
// bumped to critical, and a one-time Escalated entry is appended to the
// log. Returns the number of decisions escalated.
func (s *Service) SweepEscalations() (int, error) {
	base := s.escalateAfter()
	if base <= 0 {
		return 0, nil
	}

	recs, err := s.store.ListDecisions()
	if err != nil {
		return 0, err
	}

	now := s.now().UTC()
	count := 0
	for _, rec := range recs {
		if IsTerminalStatus(rec.Status) || rec.Escalated {
			continue
		}
		if now.Sub(rec.RequestedOn) <= escalateThreshold(rec.Priority, rec.RiskLevel, base) {
			continue
		}

		id := rec.DecisionID
		err := s.store.WithTx(func(tx ledger.Tx) error {
			cur, ok := tx.GetDecision(id)
			if !ok || IsTerminalStatus(cur.Status) || cur.Escalated {
				return nil
			}
			cur.Escalated = true
			cur.Priority = PriorityCritical
			cur.UpdatedAt = now
			if err := tx.PutDecision(cur); err != nil {
				return err
			}
			return tx.AppendAction(s.newAction(cur, ActionEscalated, systemActor, "SLA threshold exceeded", now))
		})
		if err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

func (s *Service) escalateAfter() time.Duration {
	hours := s.policy.Policy.Defaults.EscalateAfterHours
	if hours <= 0 {
		return 0
	}
	return time.Duration(hours) * time.Hour
}

func (s *Service) atRiskWindow() time.Duration {
	minutes := s.policy.Policy.Defaults.AtRiskWindowMinutes
	if minutes <= 0 {
		minutes = 60
	}
	return time.Duration(minutes) * time.Minute
}
