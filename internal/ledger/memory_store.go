package ledger

import (
	"sort"
	"sync"
)

// InMemoryStore backs tests and the dev gateway. A single mutex serializes
// transactions, which is what gives concurrent Decide calls their
// second-caller-loses semantics without row locking.
type InMemoryStore struct {
	mu sync.Mutex

	decisions map[string]DecisionRecord
	steps     map[string][]StepRecord
	actions   map[string][]ActionLogRecord
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		decisions: make(map[string]DecisionRecord),
		steps:     make(map[string][]StepRecord),
		actions:   make(map[string][]ActionLogRecord),
	}
}

func (s *InMemoryStore) WithTx(fn func(Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{
		decisions: make(map[string]DecisionRecord),
		steps:     make(map[string][]StepRecord),
		actions:   make(map[string][]ActionLogRecord),
		base:      s,
	}
	if err := fn(tx); err != nil {
		return err
	}

	for id, rec := range tx.decisions {
		s.decisions[id] = rec
	}
	for id, steps := range tx.steps {
		s.steps[id] = steps
	}
	for id, appended := range tx.actions {
		s.actions[id] = append(s.actions[id], appended...)
	}
	return nil
}

func (s *InMemoryStore) GetDecision(decisionID string) (DecisionRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.decisions[decisionID]
	return rec, ok
}

func (s *InMemoryStore) FindOpenDecision(entityType, entityID, decisionType string) (DecisionRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return findOpen(s.decisions, entityType, entityID, decisionType)
}

func (s *InMemoryStore) ListDecisions() ([]DecisionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]DecisionRecord, 0, len(s.decisions))
	for _, rec := range s.decisions {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedOn.After(out[j].RequestedOn) })
	return out, nil
}

func (s *InMemoryStore) ListSteps(decisionID string) ([]StepRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedSteps(s.steps[decisionID]), nil
}

func (s *InMemoryStore) ListActions(decisionID string) ([]ActionLogRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]ActionLogRecord(nil), s.actions[decisionID]...)
	return out, nil
}

func (s *InMemoryStore) ListAllActions(limit int) ([]ActionLogRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []ActionLogRecord{}
	for _, entries := range s.actions {
		out = append(out, entries...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ActionAt.After(out[j].ActionAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// memTx buffers writes and applies them on commit. Reads see buffered writes
// first, then fall through to the base store.
type memTx struct {
	decisions map[string]DecisionRecord
	steps     map[string][]StepRecord
	actions   map[string][]ActionLogRecord
	base      *InMemoryStore
}

func (t *memTx) PutDecision(rec DecisionRecord) error {
	t.decisions[rec.DecisionID] = rec
	return nil
}

func (t *memTx) GetDecision(decisionID string) (DecisionRecord, bool) {
	if rec, ok := t.decisions[decisionID]; ok {
		return rec, true
	}
	rec, ok := t.base.decisions[decisionID]
	return rec, ok
}

func (t *memTx) FindOpenDecision(entityType, entityID, decisionType string) (DecisionRecord, bool) {
	if rec, ok := findOpen(t.decisions, entityType, entityID, decisionType); ok {
		return rec, true
	}
	return findOpen(t.base.decisions, entityType, entityID, decisionType)
}

func (t *memTx) PutStep(rec StepRecord) error {
	steps := t.steps[rec.DecisionID]
	if steps == nil {
		steps = append([]StepRecord(nil), t.base.steps[rec.DecisionID]...)
	}
	replaced := false
	for i := range steps {
		if steps[i].StepID == rec.StepID {
			steps[i] = rec
			replaced = true
			break
		}
	}
	if !replaced {
		steps = append(steps, rec)
	}
	t.steps[rec.DecisionID] = steps
	return nil
}

func (t *memTx) ListSteps(decisionID string) ([]StepRecord, error) {
	if steps, ok := t.steps[decisionID]; ok {
		return sortedSteps(steps), nil
	}
	return sortedSteps(t.base.steps[decisionID]), nil
}

func (t *memTx) AppendAction(rec ActionLogRecord) error {
	t.actions[rec.DecisionID] = append(t.actions[rec.DecisionID], rec)
	return nil
}

func (t *memTx) ListActions(decisionID string) ([]ActionLogRecord, error) {
	out := append([]ActionLogRecord(nil), t.base.actions[decisionID]...)
	out = append(out, t.actions[decisionID]...)
	return out, nil
}

func findOpen(decisions map[string]DecisionRecord, entityType, entityID, decisionType string) (DecisionRecord, bool) {
	for _, rec := range decisions {
		if rec.EntityType != entityType || rec.EntityID != entityID || rec.DecisionType != decisionType {
			continue
		}
		switch rec.Status {
		case "Approved", "Rejected", "Withdrawn":
			continue
		}
		return rec, true
	}
	return DecisionRecord{}, false
}

func sortedSteps(steps []StepRecord) []StepRecord {
	out := append([]StepRecord(nil), steps...)
	sort.Slice(out, func(i, j int) bool { return out[i].StepOrder < out[j].StepOrder })
	return out
}
