package workflow

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/davidahmann/approvalflow/internal/ledger"
)

// StepTemplate describes one step of an approval chain. StepOrder may be
// left zero on every template, in which case orders are assigned by
// position starting at 1.
type StepTemplate struct {
	StepOrder      int
	StepType       string
	ApproverRole   string
	AssigneeUserID string
	AssigneeName   string
}

// buildChain turns step templates into persistable step records for a
// decision. Orders must be contiguous starting at 1 with no duplicates.
// The first step starts Pending with an SLA due date; later steps are
// Queued until the chain reaches them.
func buildChain(decisionID string, templates []StepTemplate, defaultRole string, requestedOn time.Time, slaHours int, now time.Time) ([]ledger.StepRecord, error) {
	if len(templates) == 0 {
		return nil, validationErr("steps", "at least one step is required")
	}

	steps := make([]StepTemplate, len(templates))
	copy(steps, templates)

	autoOrder := true
	for _, s := range steps {
		if s.StepOrder != 0 {
			autoOrder = false
			break
		}
	}
	if autoOrder {
		for i := range steps {
			steps[i].StepOrder = i + 1
		}
	} else {
		sort.Slice(steps, func(i, j int) bool { return steps[i].StepOrder < steps[j].StepOrder })
		for i, s := range steps {
			if s.StepOrder != i+1 {
				return nil, validationErr("steps", "step orders must be contiguous starting at 1")
			}
		}
	}

	out := make([]ledger.StepRecord, 0, len(steps))
	for _, s := range steps {
		stepType := s.StepType
		if stepType == "" {
			stepType = "Approval"
		}
		role := s.ApproverRole
		if role == "" {
			role = defaultRole
		}

		rec := ledger.StepRecord{
			StepID:         uuid.New().String(),
			DecisionID:     decisionID,
			StepOrder:      s.StepOrder,
			StepType:       stepType,
			Status:         StepQueued,
			ApproverRole:   role,
			AssigneeUserID: s.AssigneeUserID,
			AssigneeName:   s.AssigneeName,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if s.StepOrder == 1 {
			rec.Status = StepPending
			due := stepDueAt(requestedOn, slaHours)
			rec.DueAt = &due
		}
		out = append(out, rec)
	}
	return out, nil
}

// stepDueAt computes a step's SLA due date: the full window from the
// moment the step becomes pending.
func stepDueAt(from time.Time, slaHours int) time.Time {
	return from.Add(time.Duration(slaHours) * time.Hour)
}
