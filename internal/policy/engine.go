package policy

import "fmt"

type Input struct {
	DecisionType string
	Purpose      string
	EntityType   string
	Amount       float64
}

type Evaluation struct {
	Required            bool
	ApproverRole        string
	Priority            string
	RiskLevel           string
	SLAHours            int
	EscalateAfterHours  int
	AtRiskWindowMinutes int
	BusinessImpactLabel string
	Reason              string
	MatchedPurpose      string
	PolicyID            string
	PolicyVersion       string
	PolicyHash          string
}

// Evaluate applies the first matching purpose rule to input, otherwise
// defaults. It is pure: same policy and input always produce the same
// evaluation.
func Evaluate(p Policy, policyHash string, input Input) (Evaluation, error) {
	if input.Amount < 0 {
		return Evaluation{}, fmt.Errorf("amount must not be negative")
	}

	d := p.Defaults
	eval := Evaluation{
		ApproverRole:        d.ApproverRole,
		Priority:            valueOr(d.Priority, "normal"),
		RiskLevel:           valueOr(d.RiskLevel, "low"),
		SLAHours:            intOr(d.SLAHours, 24),
		EscalateAfterHours:  d.EscalateAfterHours,
		AtRiskWindowMinutes: intOr(d.AtRiskWindowMinutes, 60),
		PolicyID:            p.PolicyID,
		PolicyVersion:       p.PolicyVersion,
		PolicyHash:          policyHash,
	}

	threshold := d.ApprovalAmountThreshold
	reason := ""
	for _, rule := range p.Purposes {
		if rule.Purpose != input.Purpose {
			continue
		}
		eval.MatchedPurpose = rule.Purpose
		if rule.Threshold != nil {
			threshold = *rule.Threshold
		}
		if rule.ApproverRole != "" {
			eval.ApproverRole = rule.ApproverRole
		}
		if rule.Priority != "" {
			eval.Priority = rule.Priority
		}
		if rule.RiskLevel != "" {
			eval.RiskLevel = rule.RiskLevel
		}
		if rule.SLAHours != nil {
			eval.SLAHours = *rule.SLAHours
		}
		reason = rule.Reason
		break
	}

	eval.Required = threshold > 0 && input.Amount >= threshold
	if !eval.Required {
		eval.Reason = "Amount below approval threshold"
		eval.BusinessImpactLabel = impactLabel(d, input.Amount)
		return eval, nil
	}

	if eval.ApproverRole == "" {
		return Evaluation{}, fmt.Errorf("approval required for purpose %q but no approver role is configured", input.Purpose)
	}

	if reason == "" {
		reason = fmt.Sprintf("Amount %.2f meets approval threshold %.2f", input.Amount, threshold)
	}
	eval.Reason = reason

	// Amount-driven risk overrides the configured baseline, never lowers it.
	switch {
	case input.Amount >= 2*threshold:
		eval.RiskLevel = "high"
	case eval.RiskLevel == "low":
		eval.RiskLevel = "medium"
	}

	eval.BusinessImpactLabel = impactLabel(d, input.Amount)
	if eval.BusinessImpactLabel == "high impact" && eval.Priority != "critical" {
		eval.Priority = "high"
	}

	return eval, nil
}

func impactLabel(d Defaults, amount float64) string {
	high := d.HighImpactAmount
	if high <= 0 {
		high = 100000
	}
	medium := d.MediumImpactAmount
	if medium <= 0 {
		medium = 25000
	}
	switch {
	case amount >= high:
		return "high impact"
	case amount >= medium:
		return "medium impact"
	default:
		return "standard"
	}
}

func valueOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func intOr(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}
