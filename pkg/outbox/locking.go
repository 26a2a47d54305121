package outbox

import "gorm.io/gorm/clause"

func lockingSkipLocked() clause.Locking {
	return clause.Locking{Strength: clause.LockingStrengthUpdate, Options: clause.LockingOptionsSkipLocked}
}
