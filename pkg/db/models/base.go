package models

import "github.com/google/uuid"

func ensureID(id *uuid.UUID) {
	if *id == uuid.Nil {
		*id = uuid.New()
	}
}

// All lists every persisted model; used by AutoMigrate in dev and tests.
func All() []any {
	return []any{
		&Tenant{},
		&CreditAccount{},
		&CreditTransaction{},
		&CreditAllocation{},
		&Campaign{},
		&ReconciliationFlag{},
		&OutboxEvent{},
		&OutboxDLQ{},
	}
}
