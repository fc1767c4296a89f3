package policy

type Policy struct {
	PolicyID      string        `yaml:"policy_id"`
	PolicyVersion string        `yaml:"policy_version"`
	Defaults      Defaults      `yaml:"defaults"`
	Purposes      []PurposeRule `yaml:"purposes"`
}

type Defaults struct {
	ApprovalAmountThreshold float64 `yaml:"approval_amount_threshold"`
	ApproverRole            string  `yaml:"approver_role"`
	Priority                string  `yaml:"priority"`
	RiskLevel               string  `yaml:"risk_level"`
	SLAHours                int     `yaml:"sla_hours"`
	EscalateAfterHours      int     `yaml:"escalate_after_hours"`
	HighImpactAmount        float64 `yaml:"high_impact_amount"`
	MediumImpactAmount      float64 `yaml:"medium_impact_amount"`
	AtRiskWindowMinutes     int     `yaml:"at_risk_window_minutes"`
}

type PurposeRule struct {
	Purpose      string   `yaml:"purpose"`
	Threshold    *float64 `yaml:"approval_amount_threshold"`
	ApproverRole string   `yaml:"approver_role"`
	Priority     string   `yaml:"priority"`
	RiskLevel    string   `yaml:"risk_level"`
	SLAHours     *int     `yaml:"sla_hours"`
	Reason       string   `yaml:"reason"`
}
