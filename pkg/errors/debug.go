package errors

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// Diagnostics is the log-only view of an error: its typed code, the unwrap
// chain, and the Postgres fields when the root cause came from the database.
type Diagnostics struct {
	Message    string   `json:"message"`
	Code       Code     `json:"code,omitempty"`
	Chain      []string `json:"chain,omitempty"`
	PGCode     string   `json:"pg_code,omitempty"`
	Constraint string   `json:"pg_constraint,omitempty"`
	Table      string   `json:"pg_table,omitempty"`
	Detail     string   `json:"pg_detail,omitempty"`
	// Hint names the ledger invariant a constraint violation maps to.
	Hint string `json:"hint,omitempty"`
}

// Diagnose never returns database detail to callers; it feeds request logs.
func Diagnose(err error) Diagnostics {
	if err == nil {
		return Diagnostics{}
	}
	d := Diagnostics{Message: err.Error()}
	if typed := As(err); typed != nil {
		d.Code = typed.Code()
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		d.Chain = append(d.Chain, fmt.Sprintf("%T: %v", e, e))
	}

	var pgxErr *pgconn.PgError
	var pqErr *pq.Error
	switch {
	case errors.As(err, &pgxErr):
		d.PGCode, d.Constraint, d.Table, d.Detail = pgxErr.Code, pgxErr.ConstraintName, pgxErr.TableName, pgxErr.Detail
	case errors.As(err, &pqErr):
		d.PGCode, d.Constraint, d.Table, d.Detail = string(pqErr.Code), pqErr.Constraint, pqErr.Table, pqErr.Detail
	default:
		return d
	}
	d.Hint = constraintHint(d.PGCode, d.Constraint)
	return d
}

func constraintHint(pgCode, constraint string) string {
	switch pgCode {
	case "23505":
		switch {
		case strings.Contains(constraint, "idempotency"):
			return "idempotency key already applied"
		case strings.Contains(constraint, "active_scope"):
			return "active allocation already exists for scope"
		case strings.Contains(constraint, "tenant_entity"):
			return "credit account already exists"
		}
		return "unique violation"
	case "23514":
		switch {
		case strings.Contains(constraint, "available"), strings.Contains(constraint, "free"):
			return "balance would go negative"
		case strings.Contains(constraint, "balance"):
			return "ledger row balance mismatch"
		}
		return "check violation"
	case "40001", "40P01":
		return "serialization conflict, safe to retry"
	}
	return ""
}
