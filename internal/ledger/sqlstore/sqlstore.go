package sqlstore

import (
	"context"
	"database/sql"
	"time"

	_ "modernc.org/sqlite"

	"github.com/davidahmann/approvalflow/internal/ledger"
)

type Store struct {
	db *sql.DB
}

func OpenSQLite(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON;"); err != nil {
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
	if _, err := tx.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		_ = tx.Rollback()
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
		rows, err = s.db.Query(query+` LIMIT ?`, limit)
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

func (t *Tx) PutDecision(rec ledger.DecisionRecord) error      { return putDecision(t.q, rec) }
func (t *Tx) GetDecision(id string) (ledger.DecisionRecord, bool) { return getDecision(t.q, id) }

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
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(decision_id) DO UPDATE SET
status = excluded.status,
current_step = excluded.current_step,
total_steps = excluded.total_steps,
priority = excluded.priority,
risk_level = excluded.risk_level,
sla_due_at = excluded.sla_due_at,
approver_role = excluded.approver_role,
assignee_user_id = excluded.assignee_user_id,
assignee_name = excluded.assignee_name,
decision_on = excluded.decision_on,
notes = excluded.notes,
escalated = excluded.escalated,
updated_at = excluded.updated_at`,
		rec.DecisionID, rec.DecisionType, rec.WorkflowType, rec.Purpose,
		rec.EntityType, rec.EntityID, rec.EntityName, rec.ParentEntityName,
		rec.Status, rec.CurrentStep, rec.TotalSteps, rec.Priority, rec.RiskLevel, fmtTimePtr(rec.SLADueAt), rec.SLAHours,
		rec.Amount, rec.Currency, rec.BusinessImpactLabel, rec.PolicyReason,
		rec.RequestedByUserID, rec.RequestedByName, rec.ApproverRole, rec.AssigneeUserID, rec.AssigneeName,
		fmtTime(rec.RequestedOn), fmtTimePtr(rec.DecisionOn), rec.Notes, rec.PayloadJSON, rec.PolicySnapshotJSON,
		boolToInt(rec.Escalated), fmtTime(rec.CreatedAt), fmtTime(rec.UpdatedAt))
	return err
}

func getDecision(q queryer, decisionID string) (ledger.DecisionRecord, bool) {
	row := q.QueryRow(decisionColumns+` FROM decisions WHERE decision_id = ?`, decisionID)
	rec, err := scanDecision(row)
	if err != nil {
		return ledger.DecisionRecord{}, false
	}
	return rec, true
}

func findOpenDecision(q queryer, entityType, entityID, decisionType string) (ledger.DecisionRecord, bool) {
	row := q.QueryRow(decisionColumns+` FROM decisions
WHERE entity_type = ? AND entity_id = ? AND decision_type = ?
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
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(step_id) DO UPDATE SET
status = excluded.status,
assignee_user_id = excluded.assignee_user_id,
assignee_name = excluded.assignee_name,
due_at = excluded.due_at,
completed_at = excluded.completed_at,
notes = excluded.notes,
updated_at = excluded.updated_at`,
		rec.StepID, rec.DecisionID, rec.StepOrder, rec.StepType, rec.Status, rec.ApproverRole,
		rec.AssigneeUserID, rec.AssigneeName, fmtTimePtr(rec.DueAt), fmtTimePtr(rec.CompletedAt),
		rec.Notes, fmtTime(rec.CreatedAt), fmtTime(rec.UpdatedAt))
	return err
}

func listSteps(q queryer, decisionID string) ([]ledger.StepRecord, error) {
	rows, err := q.Query(`SELECT step_id, decision_id, step_order, step_type, status, approver_role,
assignee_user_id, assignee_name, due_at, completed_at, notes, created_at, updated_at
FROM decision_steps WHERE decision_id = ? ORDER BY step_order ASC`, decisionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []ledger.StepRecord{}
	for rows.Next() {
		var (
			rec                  ledger.StepRecord
			dueAt, completedAt   sql.NullString
			createdAt, updatedAt string
		)
		if err := rows.Scan(&rec.StepID, &rec.DecisionID, &rec.StepOrder, &rec.StepType, &rec.Status,
			&rec.ApproverRole, &rec.AssigneeUserID, &rec.AssigneeName, &dueAt, &completedAt,
			&rec.Notes, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		rec.DueAt = parseTimePtr(dueAt)
		rec.CompletedAt = parseTimePtr(completedAt)
		rec.CreatedAt = parseTime(createdAt)
		rec.UpdatedAt = parseTime(updatedAt)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func appendAction(q queryer, rec ledger.ActionLogRecord) error {
	_, err := q.Exec(`INSERT INTO decision_action_log (
action_log_id, decision_id, action, action_at, actor_user_id, actor_name, notes,
decision_type, entity_type, entity_name, status, priority, risk_level, policy_reason, escalated
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ActionLogID, rec.DecisionID, rec.Action, fmtTime(rec.ActionAt),
		rec.ActorUserID, rec.ActorName, rec.Notes,
		rec.DecisionType, rec.EntityType, rec.EntityName, rec.Status,
		rec.Priority, rec.RiskLevel, rec.PolicyReason, boolToInt(rec.Escalated))
	return err
}

func listActions(q queryer, decisionID string) ([]ledger.ActionLogRecord, error) {
	rows, err := q.Query(actionColumns+` FROM decision_action_log
WHERE decision_id = ? ORDER BY action_at ASC`, decisionID)
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
	var (
		rec                    ledger.DecisionRecord
		slaDueAt, decisionOn   sql.NullString
		requestedOn            string
		createdAt, updatedAt   string
		escalated              int
	)
	err := row.Scan(&rec.DecisionID, &rec.DecisionType, &rec.WorkflowType, &rec.Purpose,
		&rec.EntityType, &rec.EntityID, &rec.EntityName, &rec.ParentEntityName,
		&rec.Status, &rec.CurrentStep, &rec.TotalSteps, &rec.Priority, &rec.RiskLevel, &slaDueAt, &rec.SLAHours,
		&rec.Amount, &rec.Currency, &rec.BusinessImpactLabel, &rec.PolicyReason,
		&rec.RequestedByUserID, &rec.RequestedByName, &rec.ApproverRole, &rec.AssigneeUserID, &rec.AssigneeName,
		&requestedOn, &decisionOn, &rec.Notes, &rec.PayloadJSON, &rec.PolicySnapshotJSON,
		&escalated, &createdAt, &updatedAt)
	if err != nil {
		return ledger.DecisionRecord{}, err
	}
	rec.SLADueAt = parseTimePtr(slaDueAt)
	rec.DecisionOn = parseTimePtr(decisionOn)
	rec.RequestedOn = parseTime(requestedOn)
	rec.CreatedAt = parseTime(createdAt)
	rec.UpdatedAt = parseTime(updatedAt)
	rec.Escalated = escalated != 0
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
		var (
			rec       ledger.ActionLogRecord
			actionAt  string
			escalated int
		)
		if err := rows.Scan(&rec.ActionLogID, &rec.DecisionID, &rec.Action, &actionAt,
			&rec.ActorUserID, &rec.ActorName, &rec.Notes,
			&rec.DecisionType, &rec.EntityType, &rec.EntityName, &rec.Status,
			&rec.Priority, &rec.RiskLevel, &rec.PolicyReason, &escalated); err != nil {
			return nil, err
		}
		rec.ActionAt = parseTime(actionAt)
		rec.Escalated = escalated != 0
		out = append(out, rec)
	}
	return out, rows.Err()
}

// timeLayout is fixed-width so stored timestamps sort correctly as TEXT.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func fmtTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func fmtTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func parseTimePtr(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
