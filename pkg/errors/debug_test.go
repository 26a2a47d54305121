package errors

import (
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestDiagnoseMapsLedgerConstraints(t *testing.T) {
	pgErr := &pgconn.PgError{
		Code:           "23505",
		ConstraintName: "ux_credit_transactions_idempotency_key",
		TableName:      "credit_transactions",
	}
	err := Wrap(CodeConflict, fmt.Errorf("insert ledger row: %w", pgErr), "duplicate")

	d := Diagnose(err)
	assert.Equal(t, CodeConflict, d.Code)
	assert.Equal(t, "23505", d.PGCode)
	assert.Equal(t, "credit_transactions", d.Table)
	assert.Equal(t, "idempotency key already applied", d.Hint)
	assert.GreaterOrEqual(t, len(d.Chain), 2)
}

func TestConstraintHint(t *testing.T) {
	cases := []struct {
		code, constraint, want string
	}{
		{"23514", "credit_accounts_available_credits_check", "balance would go negative"},
		{"23514", "credit_transactions_balance_check", "ledger row balance mismatch"},
		{"23505", "ux_credit_allocations_active_scope", "active allocation already exists for scope"},
		{"40001", "", "serialization conflict, safe to retry"},
		{"22001", "", ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, constraintHint(tc.code, tc.constraint), tc.constraint)
	}
}

func TestDiagnoseNil(t *testing.T) {
	assert.Equal(t, Diagnostics{}, Diagnose(nil))
}
