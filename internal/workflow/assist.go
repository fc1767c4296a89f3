package workflow

import (
	"fmt"

	"github.com/davidahmann/approvalflow/internal/auth"
	"github.com/davidahmann/approvalflow/pkg/types"
)

const assistDisclaimer = "Draft generated from decision data. Review before sending; it is advisory only and does not change the decision."

// AssistDraft produces a reviewer-facing summary with suggested notes
// for each outcome. It is read-only and requires the View capability.
func (s *Service) AssistDraft(actor auth.Context, decisionID string) (types.AssistDraft, error) {
	if !actor.CanView() {
		return types.AssistDraft{}, ErrForbidden
	}

	view, err := s.getView(decisionID)
	if err != nil {
		return types.AssistDraft{}, err
	}

	subject := view.EntityName
	if subject == "" {
		subject = view.EntityType + " " + view.EntityID
	}

	summary := fmt.Sprintf("%s request for %s: %s %.2f, step %d of %d, %s risk, SLA %s.",
		view.DecisionType, subject, view.Currency, view.Amount,
		view.CurrentStepOrder, view.TotalSteps, view.RiskLevel, view.SLAStatus)
	if view.PolicyReason != "" {
		summary += " " + view.PolicyReason + "."
	}

	draft := types.AssistDraft{
		DecisionID:        decisionID,
		Summary:           summary,
		RecommendedAction: recommendAction(view),
		ApproveNote:       fmt.Sprintf("Approved: %s within acceptable bounds for %s.", view.DecisionType, subject),
		RejectNote:        fmt.Sprintf("Rejected: %s for %s needs revision before it can proceed.", view.DecisionType, subject),
		RequestInfoNote:   fmt.Sprintf("Please provide supporting detail for the %s request on %s.", view.DecisionType, subject),
		MissingEvidence:   missingEvidence(view),
		Disclaimer:        assistDisclaimer,
	}
	return draft, nil
}

// recommendAction picks a conservative suggestion from the derived
// state: escalated or high-risk work should not be waved through.
func recommendAction(view types.Decision) string {
	switch {
	case IsTerminalStatus(view.Status):
		return "none: decision is already " + view.Status
	case view.Status == StatusInfoRequested:
		return "wait: information has been requested from the submitter"
	case view.IsEscalated || view.SLAStatus == SLAOverdue:
		return "decide now: the decision is past its SLA"
	case view.RiskLevel == RiskHigh:
		return "review carefully: high risk, consider requesting information"
	case view.BusinessImpactLabel == "high impact":
		return "review carefully: high business impact"
	default:
		return "approve if the amount and justification look correct"
	}
}

func missingEvidence(view types.Decision) []string {
	var missing []string
	if view.Notes == "" {
		missing = append(missing, "justification notes from the requester")
	}
	if view.Amount == 0 {
		missing = append(missing, "a non-zero amount")
	}
	if view.ParentEntityName == "" {
		missing = append(missing, "the parent account or entity")
	}
	if view.RiskLevel == RiskHigh {
		missing = append(missing, "risk sign-off for a high-risk request")
	}
	return missing
}
