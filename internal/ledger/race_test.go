package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestInsertDecision_RaceCondition(t *testing.T) {
	l := setupTestLedger(t)
	req := insertTestRequest(t, l, "req-race")

	// Two goroutines racing to record the same approver's decision:
	// exactly one insert wins.
	var wg sync.WaitGroup
	results := make(chan error, 2)

	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- l.InsertDecision(context.Background(), &Decision{
				RequestID: req.ID,
				Approver:  "bob",
				Approved:  true,
			})
		}()
	}

	wg.Wait()
	close(results)

	successCount := 0
	errorCount := 0
	var lastErr error
	for err := range results {
		if err == nil {
			successCount++
		} else {
			errorCount++
			lastErr = err
		}
	}

	if successCount != 1 {
		t.Errorf("Expected exactly 1 success, got %d", successCount)
	}
	if errorCount != 1 {
		t.Errorf("Expected exactly 1 error, got %d", errorCount)
	}
	if !errors.Is(lastErr, ErrDuplicateDecision) {
		t.Errorf("Expected ErrDuplicateDecision, got %v", lastErr)
	}

	count, err := l.CountApprovals(context.Background(), req.ID)
	if err != nil {
		t.Fatalf("CountApprovals failed: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 approval after race, got %d", count)
	}
}

func TestConcurrentApprovers_BothPersisted(t *testing.T) {
	l := setupTestLedger(t)
	req := insertTestRequest(t, l, "req-race-2")

	var wg sync.WaitGroup
	for _, approver := range []string{"bob", "carol"} {
		wg.Add(1)
		go func(who string) {
			defer wg.Done()
			if err := l.InsertDecision(context.Background(), &Decision{
				RequestID: req.ID,
				Approver:  who,
				Approved:  true,
			}); err != nil {
				t.Errorf("InsertDecision(%s) failed: %v", who, err)
			}
		}(approver)
	}
	wg.Wait()

	count, err := l.CountApprovals(context.Background(), req.ID)
	if err != nil {
		t.Fatalf("CountApprovals failed: %v", err)
	}
	if count != 2 {
		t.Errorf("expected both racing approvals persisted, got %d", count)
	}
}
