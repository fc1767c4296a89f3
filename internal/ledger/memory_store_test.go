package ledger

import (
	"errors"
	"testing"
	"time"
)

func TestInMemoryStoreTxCommit(t *testing.T) {
	s := NewInMemoryStore()
	now := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)

	err := s.WithTx(func(tx Tx) error {
		if err := tx.PutDecision(DecisionRecord{
			DecisionID: "dec1", DecisionType: "DiscountApproval",
			EntityType: "Opportunity", EntityID: "opp-1",
			Status: "InProgress", CurrentStep: 1, TotalSteps: 1,
			RequestedOn: now, CreatedAt: now, UpdatedAt: now,
		}); err != nil {
			return err
		}
		if err := tx.PutStep(StepRecord{StepID: "s1", DecisionID: "dec1", StepOrder: 1, Status: "Pending"}); err != nil {
			return err
		}
		return tx.AppendAction(ActionLogRecord{ActionLogID: "a1", DecisionID: "dec1", Action: "Requested", ActionAt: now})
	})
	if err != nil {
		t.Fatalf("withtx: %v", err)
	}

	if _, ok := s.GetDecision("dec1"); !ok {
		t.Fatal("decision not committed")
	}
	steps, err := s.ListSteps("dec1")
	if err != nil || len(steps) != 1 {
		t.Fatalf("steps: %v %+v", err, steps)
	}
	actions, err := s.ListActions("dec1")
	if err != nil || len(actions) != 1 {
		t.Fatalf("actions: %v %+v", err, actions)
	}
}

func TestInMemoryStoreTxRollback(t *testing.T) {
	s := NewInMemoryStore()

	err := s.WithTx(func(tx Tx) error {
		if err := tx.PutDecision(DecisionRecord{DecisionID: "dec1"}); err != nil {
			return err
		}
		return errors.New("boom")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if _, ok := s.GetDecision("dec1"); ok {
		t.Fatal("rollback should discard buffered writes")
	}
}

func TestInMemoryStoreTxReadsOwnWrites(t *testing.T) {
	s := NewInMemoryStore()

	err := s.WithTx(func(tx Tx) error {
		if err := tx.PutDecision(DecisionRecord{
			DecisionID: "dec1", DecisionType: "DiscountApproval",
			EntityType: "Opportunity", EntityID: "opp-1", Status: "InProgress",
		}); err != nil {
			return err
		}
		if _, ok := tx.GetDecision("dec1"); !ok {
			t.Error("tx should see its own decision write")
		}
		if _, ok := tx.FindOpenDecision("Opportunity", "opp-1", "DiscountApproval"); !ok {
			t.Error("tx should find its own open decision")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("withtx: %v", err)
	}
}

func TestFindOpenDecisionSkipsTerminal(t *testing.T) {
	s := NewInMemoryStore()

	seed := func(id, status string, requestedOn time.Time) {
		err := s.WithTx(func(tx Tx) error {
			return tx.PutDecision(DecisionRecord{
				DecisionID: id, DecisionType: "DiscountApproval",
				EntityType: "Opportunity", EntityID: "opp-1",
				Status: status, RequestedOn: requestedOn,
			})
		})
		if err != nil {
			t.Fatalf("seed %s: %v", id, err)
		}
	}

	now := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	seed("dec1", "Approved", now)
	seed("dec2", "Rejected", now.Add(time.Minute))
	seed("dec3", "Withdrawn", now.Add(2*time.Minute))

	if _, ok := s.FindOpenDecision("Opportunity", "opp-1", "DiscountApproval"); ok {
		t.Fatal("terminal decisions must not match")
	}

	seed("dec4", "InfoRequested", now.Add(3*time.Minute))
	got, ok := s.FindOpenDecision("Opportunity", "opp-1", "DiscountApproval")
	if !ok || got.DecisionID != "dec4" {
		t.Fatalf("expected dec4, got ok=%v %+v", ok, got)
	}
}

func TestListAllActionsNewestFirstWithLimit(t *testing.T) {
	s := NewInMemoryStore()
	now := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)

	err := s.WithTx(func(tx Tx) error {
		for i, action := range []string{"Requested", "Approved", "Escalated"} {
			rec := ActionLogRecord{
				ActionLogID: action, DecisionID: "dec1",
				Action: action, ActionAt: now.Add(time.Duration(i) * time.Minute),
			}
			if err := tx.AppendAction(rec); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	actions, err := s.ListAllActions(2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(actions) != 2 || actions[0].Action != "Escalated" || actions[1].Action != "Approved" {
		t.Fatalf("unexpected order: %+v", actions)
	}
}
