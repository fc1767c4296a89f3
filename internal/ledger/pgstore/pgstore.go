package pgstore

import (
	"context"
	"database/sql"

	_ "github.com/lib/pq"

	"github.com/davidahmann/approvalflow/internal/ledger"
)

type Store struct {
	db *sql.DB
}

func OpenPostgres(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return New(db), nil
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) WithTx(fn func(ledger.Tx) error) error {
	tx, err := s.db.BeginTx(context.Background(), &sql.TxOptions{})
	if err != nil {
		return err
	}
	wrapped := &Tx{q: tx}
	if err := fn(wrapped); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *Store) GetDecision(decisionID string) (ledger.DecisionRecord, bool) {
	return getDecision(s.db, decisionID)
}

func (s *Store) FindOpenDecision(entityType, entityID, decisionType string) (ledger.DecisionRecord, bool) {
	return findOpenDecision(s.db, entityType, entityID, decisionType)
}

func (s *Store) ListDecisions() ([]ledger.DecisionRecord, error) {
	rows, err := s.db.Query(decisionColumns + ` FROM decisions ORDER BY requested_on DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDecisions(rows)
}

func (s *Store) ListSteps(decisionID string) ([]ledger.StepRecord, error) {
	return listSteps(s.db, decisionID)
}

func (s *Store) ListActions(decisionID string) ([]ledger.ActionLogRecord, error) {
	return listActions(s.db, decisionID)
}

func (s *Store) ListAllActions(limit int) ([]ledger.ActionLogRecord, error) {
	query := actionColumns + ` FROM decision_action_log ORDER BY action_at DESC`
	var (
		rows *sql.Rows
		err  error
	)
	if limit > 0 {
		rows, err = s.db.Query(query+` LIMIT $1`, limit)
	} else {
		rows, err = s.db.Query(query)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanActions(rows)
}

type Tx struct {
	q queryer
}

func (t *Tx) PutDecision(rec ledger.DecisionRecord) error { return putDecision(t.q, rec) }

// GetDecision locks the row for the rest of the transaction, so two
// transitions racing on one decision serialize: the second blocks until
// the first commits and then sees the resolved step.
func (t *Tx) GetDecision(id string) (ledger.DecisionRecord, bool) {
	row := t.q.QueryRow(decisionColumns+` FROM decisions WHERE decision_id = $1 FOR UPDATE`, id)
	rec, err := scanDecision(row)
	if err != nil {
		return ledger.DecisionRecord{}, false
	}
	return rec, true
}

func (t *Tx) FindOpenDecision(entityType, entityID, decisionType string) (ledger.DecisionRecord, bool) {
	return findOpenDecision(t.q, entityType, entityID, decisionType)
}

func (t *Tx) PutStep(rec ledger.StepRecord) error { return putStep(t.q, rec) }

func (t *Tx) ListSteps(decisionID string) ([]ledger.StepRecord, error) {
	return listSteps(t.q, decisionID)
}

func (t *Tx) AppendAction(rec ledger.ActionLogRecord) error { return appendAction(t.q, rec) }

func (t *Tx) ListActions(decisionID string) ([]ledger.ActionLogRecord, error) {
	return listActions(t.q, decisionID)
}

type queryer interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

const decisionColumns = `SELECT decision_id, decision_type, workflow_type, purpose,
entity_type, entity_id, entity_name, parent_entity_name,
status, current_step, total_steps, priority, risk_level, sla_due_at, sla_hours,
amount, currency, business_impact_label, policy_reason,
requested_by_user_id, requested_by_name, approver_role, assignee_user_id, assignee_name,
requested_on, decision_on, notes, payload_json, policy_snapshot_json,
escalated, created_at, updated_at`

const actionColumns = `SELECT action_log_id, decision_id, action, action_at,
actor_user_id, actor_name, notes, decision_type, entity_type, entity_name,
status, priority, risk_level, policy_reason, escalated`

func putDecision(q queryer, rec ledger.DecisionRecord) error {
	_, err := q.Exec(`INSERT INTO decisions (
decision_id, decision_type, workflow_type, purpose,
entity_type, entity_id, entity_name, parent_entity_name,
status, current_step, total_steps, priority, risk_level, sla_due_at, sla_hours,
amount, currency, business_impact_label, policy_reason,
requested_by_user_id, requested_by_name, approver_role, assignee_user_id, assignee_name,
requested_on, decision_on, notes, payload_json, policy_snapshot_json,
escalated, created_at, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
$17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30, $31, $32)
ON CONFLICT(decision_id) DO UPDATE SET
status = EXCLUDED.status,
current_step = EXCLUDED.current_step,
total_steps = EXCLUDED.total_steps,
priority = EXCLUDED.priority,
risk_level = EXCLUDED.risk_level,
sla_due_at = EXCLUDED.sla_due_at,
approver_role = EXCLUDED.approver_role,
assignee_user_id = EXCLUDED.assignee_user_id,
assignee_name = EXCLUDED.assignee_name,
decision_on = EXCLUDED.decision_on,
notes = EXCLUDED.notes,
escalated = EXCLUDED.escalated,
updated_at = EXCLUDED.updated_at`,
		rec.DecisionID, rec.DecisionType, rec.WorkflowType, rec.Purpose,
		rec.EntityType, rec.EntityID, rec.EntityName, rec.ParentEntityName,
		rec.Status, rec.CurrentStep, rec.TotalSteps, rec.Priority, rec.RiskLevel, rec.SLADueAt, rec.SLAHours,
		rec.Amount, rec.Currency, rec.BusinessImpactLabel, rec.PolicyReason,
		rec.RequestedByUserID, rec.RequestedByName, rec.ApproverRole, rec.AssigneeUserID, rec.AssigneeName,
		rec.RequestedOn, rec.DecisionOn, rec.Notes, rec.PayloadJSON, rec.PolicySnapshotJSON,
		rec.Escalated, rec.CreatedAt, rec.UpdatedAt)
	return err
}

func getDecision(q queryer, decisionID string) (ledger.DecisionRecord, bool) {
	row := q.QueryRow(decisionColumns+` FROM decisions WHERE decision_id = $1`, decisionID)
	rec, err := scanDecision(row)
	if err != nil {
		return ledger.DecisionRecord{}, false
	}
	return rec, true
}

func findOpenDecision(q queryer, entityType, entityID, decisionType string) (ledger.DecisionRecord, bool) {
	row := q.QueryRow(decisionColumns+` FROM decisions
WHERE entity_type = $1 AND entity_id = $2 AND decision_type = $3
AND status NOT IN ('Approved', 'Rejected', 'Withdrawn')
ORDER BY requested_on DESC LIMIT 1`, entityType, entityID, decisionType)
	rec, err := scanDecision(row)
	if err != nil {
		return ledger.DecisionRecord{}, false
	}
	return rec, true
}

func putStep(q queryer, rec ledger.StepRecord) error {
	_, err := q.Exec(`INSERT INTO decision_steps (
step_id, decision_id, step_order, step_type, status, approver_role,
assignee_user_id, assignee_name, due_at, completed_at, notes, created_at, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
ON CONFLICT(step_id) DO UPDATE SET
status = EXCLUDED.status,
assignee_user_id = EXCLUDED.assignee_user_id,
assignee_name = EXCLUDED.assignee_name,
due_at = EXCLUDED.due_at,
completed_at = EXCLUDED.completed_at,
notes = EXCLUDED.notes,
updated_at = EXCLUDED.updated_at`,
		rec.StepID, rec.DecisionID, rec.StepOrder, rec.StepType, rec.Status, rec.ApproverRole,
		rec.AssigneeUserID, rec.AssigneeName, rec.DueAt, rec.CompletedAt,
		rec.Notes, rec.CreatedAt, rec.UpdatedAt)
	return err
}

func listSteps(q queryer, decisionID string) ([]ledger.StepRecord, error) {
	rows, err := q.Query(`SELECT step_id, decision_id, step_order, step_type, status, approver_role,
assignee_user_id, assignee_name, due_at, completed_at, notes, created_at, updated_at
FROM decision_steps WHERE decision_id = $1 ORDER BY step_order ASC`, decisionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []ledger.StepRecord{}
	for rows.Next() {
		var rec ledger.StepRecord
		if err := rows.Scan(&rec.StepID, &rec.DecisionID, &rec.StepOrder, &rec.StepType, &rec.Status,
			&rec.ApproverRole, &rec.AssigneeUserID, &rec.AssigneeName, &rec.DueAt, &rec.CompletedAt,
			&rec.Notes, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func appendAction(q queryer, rec ledger.ActionLogRecord) error {
	_, err := q.Exec(`INSERT INTO decision_action_log (
action_log_id, decision_id, action, action_at, actor_user_id, actor_name, notes,
decision_type, entity_type, entity_name, status, priority, risk_level, policy_reason, escalated
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		rec.ActionLogID, rec.DecisionID, rec.Action, rec.ActionAt,
		rec.ActorUserID, rec.ActorName, rec.Notes,
		rec.DecisionType, rec.EntityType, rec.EntityName, rec.Status,
		rec.Priority, rec.RiskLevel, rec.PolicyReason, rec.Escalated)
	return err
}

func listActions(q queryer, decisionID string) ([]ledger.ActionLogRecord, error) {
	rows, err := q.Query(actionColumns+` FROM decision_action_log
WHERE decision_id = $1 ORDER BY action_at ASC`, decisionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanActions(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDecision(row rowScanner) (ledger.DecisionRecord, error) {
	var rec ledger.DecisionRecord
	err := row.Scan(&rec.DecisionID, &rec.DecisionType, &rec.WorkflowType, &rec.Purpose,
		&rec.EntityType, &rec.EntityID, &rec.EntityName, &rec.ParentEntityName,
		&rec.Status, &rec.CurrentStep, &rec.TotalSteps, &rec.Priority, &rec.RiskLevel, &rec.SLADueAt, &rec.SLAHours,
		&rec.Amount, &rec.Currency, &rec.BusinessImpactLabel, &rec.PolicyReason,
		&rec.RequestedByUserID, &rec.RequestedByName, &rec.ApproverRole, &rec.AssigneeUserID, &rec.AssigneeName,
		&rec.RequestedOn, &rec.DecisionOn, &rec.Notes, &rec.PayloadJSON, &rec.PolicySnapshotJSON,
		&rec.Escalated, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return ledger.DecisionRecord{}, err
	}
	return rec, nil
}

func scanDecisions(rows *sql.Rows) ([]ledger.DecisionRecord, error) {
	out := []ledger.DecisionRecord{}
	for rows.Next() {
		rec, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanActions(rows *sql.Rows) ([]ledger.ActionLogRecord, error) {
	out := []ledger.ActionLogRecord{}
	for rows.Next() {
		var rec ledger.ActionLogRecord
		if err := rows.Scan(&rec.ActionLogID, &rec.DecisionID, &rec.Action, &rec.ActionAt,
			&rec.ActorUserID, &rec.ActorName, &rec.Notes,
			&rec.DecisionType, &rec.EntityType, &rec.EntityName, &rec.Status,
			&rec.Priority, &rec.RiskLevel, &rec.PolicyReason, &rec.Escalated); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
