package storage

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/SirClappington/gigboard/internal/domain"
)

// referencesAllParams checks that a statement names every bound
// placeholder; Postgres rejects a prepared statement with a bound but
// unreferenced parameter (42P18).
func referencesAllParams(t *testing.T, stmt string, args []any) {
	t.Helper()
	for i := range args {
		ph := fmt.Sprintf("$%d", i+1)
		if !strings.Contains(stmt, ph) {
			t.Fatalf("statement binds %d args but never references %s:\n%s", len(args), ph, stmt)
		}
	}
}

func TestCompileWhere(t *testing.T) {
	t.Parallel()
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("delete precondition binds no unused instant", func(t *testing.T) {
		j := seedJob("j1")
		pre, err := domain.DecideDelete(j, domain.Caller{ID: "owner"}, at)
		if err != nil {
			t.Fatalf("decide: %v", err)
		}
		args := []any{"j1"}
		stmt := "delete from jobs where id = $1" + compileWhere(pre, &args, at, "")
		if len(args) != 3 {
			t.Fatalf("args = %d, want 3 (id, status, owner)", len(args))
		}
		referencesAllParams(t, stmt, args)
	})

	t.Run("deadline clause binds the instant once", func(t *testing.T) {
		pre := domain.Precondition{Status: domain.Claimed, DeadlineBefore: true, ExpiryBefore: true}
		args := []any{"j1"}
		stmt := "delete from jobs where id = $1" + compileWhere(pre, &args, at, "")
		// one placeholder shared by both deadline clauses
		if len(args) != 3 {
			t.Fatalf("args = %d, want 3 (id, status, instant)", len(args))
		}
		referencesAllParams(t, stmt, args)
		if !strings.Contains(stmt, "expiry_date < $3") || !strings.Contains(stmt, "submission_deadline < $3") {
			t.Fatalf("deadline clauses should share $3:\n%s", stmt)
		}
	})

	t.Run("caller-bound instant is reused", func(t *testing.T) {
		pre := domain.Precondition{Status: domain.Open, ExpiryAfter: true}
		args := []any{"j1", at}
		stmt := "update jobs set updated_at = $2 where id = $1" + compileWhere(pre, &args, at, "$2")
		if len(args) != 3 {
			t.Fatalf("args = %d, want 3", len(args))
		}
		referencesAllParams(t, stmt, args)
		if !strings.Contains(stmt, "expiry_date > $2") {
			t.Fatalf("expiry clause should reuse $2:\n%s", stmt)
		}
	})
}

func seedJob(id string) *domain.Job {
	return &domain.Job{
		ID:             id,
		OwnerID:        "owner",
		Name:           "sweep the patio",
		Description:    "after the storm",
		CategoryID:     "garden",
		PayAmount:      500,
		TimeToComplete: 3600,
		Status:         domain.Open,
		ExpiryDate:     time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC),
	}
}
