package workflow

// Decision lifecycle statuses. Approved, Rejected and Withdrawn are
// terminal: no transition ever leaves them.
const (
	StatusSubmitted     = "Submitted"
	StatusInProgress    = "InProgress"
	StatusApproved      = "Approved"
	StatusRejected      = "Rejected"
	StatusInfoRequested = "InfoRequested"
	StatusDelegated     = "Delegated"
	StatusWithdrawn     = "Withdrawn"
)

// Step statuses. A step starts Queued, becomes Pending when it is the
// active step, and ends Approved, Rejected or Skipped.
const (
	StepQueued   = "Queued"
	StepPending  = "Pending"
	StepApproved = "Approved"
	StepRejected = "Rejected"
	StepSkipped  = "Skipped"
)

// Action log verbs.
const (
	ActionRequested     = "Requested"
	ActionApproved      = "Approved"
	ActionRejected      = "Rejected"
	ActionInfoRequested = "InfoRequested"
	ActionDelegated     = "Delegated"
	ActionResubmitted   = "Resubmitted"
	ActionWithdrawn     = "Withdrawn"
	ActionEscalated     = "Escalated"
)

// SLA statuses derived at read time.
const (
	SLAOnTrack   = "on-track"
	SLAAtRisk    = "at-risk"
	SLAOverdue   = "overdue"
	SLACompleted = "completed"
)

// Priorities and risk levels, lowest to highest.
const (
	PriorityLow      = "low"
	PriorityNormal   = "normal"
	PriorityMedium   = "medium"
	PriorityHigh     = "high"
	PriorityCritical = "critical"
)

const (
	RiskLow    = "low"
	RiskMedium = "medium"
	RiskHigh   = "high"
)

func IsTerminalStatus(status string) bool {
	switch status {
	case StatusApproved, StatusRejected, StatusWithdrawn:
		return true
	}
	return false
}

func isResolvedStep(status string) bool {
	switch status {
	case StepApproved, StepRejected, StepSkipped:
		return true
	}
	return false
}

// NormalizePriority returns the canonical priority for v, defaulting to
// normal for empty or unknown values.
func NormalizePriority(v string) string {
	switch v {
	case PriorityLow, PriorityNormal, PriorityMedium, PriorityHigh, PriorityCritical:
		return v
	}
	return PriorityNormal
}

// NormalizeRisk returns the canonical risk level for v, defaulting to
// low for empty or unknown values.
func NormalizeRisk(v string) string {
	switch v {
	case RiskLow, RiskMedium, RiskHigh:
		return v
	}
	return RiskLow
}

// Caller-supplied overrides are validated strictly: an unknown value is
// a ValidationError, never silently defaulted.

func isValidPriority(v string) bool {
	switch v {
	case PriorityLow, PriorityNormal, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

func isValidRisk(v string) bool {
	switch v {
	case RiskLow, RiskMedium, RiskHigh:
		return true
	}
	return false
}

func isValidSLAStatus(v string) bool {
	switch v {
	case SLAOnTrack, SLAAtRisk, SLAOverdue, SLACompleted:
		return true
	}
	return false
}

// isValidCreateStatus limits the status a submission may start in.
func isValidCreateStatus(v string) bool {
	return v == StatusSubmitted || v == StatusInProgress
}

func priorityRank(v string) int {
	switch v {
	case PriorityLow:
		return 0
	case PriorityNormal:
		return 1
	case PriorityMedium:
		return 2
	case PriorityHigh:
		return 3
	case PriorityCritical:
		return 4
	}
	return 1
}

// MaxPriority returns the higher-ranked of two priorities.
func MaxPriority(a, b string) string {
	if priorityRank(b) > priorityRank(a) {
		return b
	}
	return a
}
