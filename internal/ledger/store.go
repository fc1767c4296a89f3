package ledger

import "time"

// Tx is the mutation surface available inside a transaction. Every state
// machine operation runs its step, decision, and action-log writes through a
// single Tx so they commit or roll back together.
type Tx interface {
	PutDecision(rec DecisionRecord) error
	GetDecision(decisionID string) (DecisionRecord, bool)
	FindOpenDecision(entityType, entityID, decisionType string) (DecisionRecord, bool)

	PutStep(rec StepRecord) error
	ListSteps(decisionID string) ([]StepRecord, error)

	AppendAction(rec ActionLogRecord) error
	ListActions(decisionID string) ([]ActionLogRecord, error)
}

type Store interface {
	WithTx(fn func(Tx) error) error

	GetDecision(decisionID string) (DecisionRecord, bool)
	FindOpenDecision(entityType, entityID, decisionType string) (DecisionRecord, bool)
	ListDecisions() ([]DecisionRecord, error)

	ListSteps(decisionID string) ([]StepRecord, error)

	ListActions(decisionID string) ([]ActionLogRecord, error)
	ListAllActions(limit int) ([]ActionLogRecord, error)
}

// DecisionRecord is the stored shape of one gated action instance.
// PayloadJSON and PolicySnapshotJSON are captured verbatim at submission and
// returned unchanged; the engine never parses them. SLAHours and ApproverRole
// carry the evaluation outputs the engine needs on later transitions.
type DecisionRecord struct {
	DecisionID          string
	DecisionType        string
	WorkflowType        string
	Purpose             string
	EntityType          string
	EntityID            string
	EntityName          string
	ParentEntityName    string
	Status              string
	CurrentStep         int
	TotalSteps          int
	Priority            string
	RiskLevel           string
	SLADueAt            *time.Time
	SLAHours            int
	Amount              float64
	Currency            string
	BusinessImpactLabel string
	PolicyReason        string
	RequestedByUserID   string
	RequestedByName     string
	ApproverRole        string
	AssigneeUserID      string
	AssigneeName        string
	RequestedOn         time.Time
	DecisionOn          *time.Time
	Notes               string
	PayloadJSON         []byte
	PolicySnapshotJSON  []byte
	Escalated           bool
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// StepRecord is one ordered reviewer slot in a decision's chain.
type StepRecord struct {
	StepID         string
	DecisionID     string
	StepOrder      int
	StepType       string
	Status         string
	ApproverRole   string
	AssigneeUserID string
	AssigneeName   string
	DueAt          *time.Time
	CompletedAt    *time.Time
	Notes          string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ActionLogRecord is the immutable fact of one transition. The entity and
// status fields are snapshots taken at the moment of the transition so history
// renders without re-joining to live decision state.
type ActionLogRecord struct {
	ActionLogID  string
	DecisionID   string
	Action       string
	ActionAt     time.Time
	ActorUserID  string
	ActorName    string
	Notes        string
	DecisionType string
	EntityType   string
	EntityName   string
	Status       string
	Priority     string
	RiskLevel    string
	PolicyReason string
	Escalated    bool
}
