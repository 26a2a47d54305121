package campaigns

import (
	"bytes"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/enums"
	pkgerrors "github.com/Cdineshreddy12/Wrapper-sub013/pkg/errors"
)

// Share is one tenant's portion of a campaign pool.
type Share struct {
	TenantID uuid.UUID `json:"tenant_id"`
	Amount   int64     `json:"amount"`
}

// ShareInput carries the method-specific inputs for ComputeShares.
type ShareInput struct {
	Method  enums.DistributionMethod
	Total   int64
	Tenants []uuid.UUID
	Weights map[uuid.UUID]decimal.Decimal
	Custom  map[uuid.UUID]int64
}

// ComputeShares splits Total across Tenants. Shares are returned in
// ascending tenant id order and always sum to Total.
func ComputeShares(in ShareInput) ([]Share, error) {
	if in.Total <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "total credits must be positive")
	}
	tenants := sortedUnique(in.Tenants)
	if len(tenants) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "campaign has no target tenants")
	}

	switch in.Method {
	case enums.DistributionEqual:
		return equalShares(in.Total, tenants), nil
	case enums.DistributionProportional:
		return proportionalShares(in.Total, tenants, in.Weights)
	case enums.DistributionCustom:
		return customShares(in.Total, tenants, in.Custom)
	default:
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "invalid distribution method %q", in.Method)
	}
}

// equalShares gives total/n to everyone and one extra credit to the first
// total%n tenants.
func equalShares(total int64, tenants []uuid.UUID) []Share {
	n := int64(len(tenants))
	base, remainder := total/n, total%n
	shares := make([]Share, len(tenants))
	for i, id := range tenants {
		amount := base
		if int64(i) < remainder {
			amount++
		}
		shares[i] = Share{TenantID: id, Amount: amount}
	}
	return shares
}

// proportionalShares uses the largest remainder method: every tenant gets the
// floor of its exact quota, then leftover credits go to the largest
// remainders, ties broken by tenant id.
func proportionalShares(total int64, tenants []uuid.UUID, weights map[uuid.UUID]decimal.Decimal) ([]Share, error) {
	sum := decimal.Zero
	for _, id := range tenants {
		w, ok := weights[id]
		if !ok {
			return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "missing weight for tenant %s", id)
		}
		if w.IsNegative() {
			return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "negative weight for tenant %s", id)
		}
		sum = sum.Add(w)
	}
	if !sum.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "weights must sum to a positive value")
	}

	type quota struct {
		index     int
		remainder decimal.Decimal
	}
	pool := decimal.NewFromInt(total)
	shares := make([]Share, len(tenants))
	quotas := make([]quota, len(tenants))
	allotted := int64(0)
	for i, id := range tenants {
		q, r := pool.Mul(weights[id]).QuoRem(sum, 0)
		amount := q.IntPart()
		shares[i] = Share{TenantID: id, Amount: amount}
		quotas[i] = quota{index: i, remainder: r}
		allotted += amount
	}

	sort.SliceStable(quotas, func(a, b int) bool {
		return quotas[a].remainder.GreaterThan(quotas[b].remainder)
	})
	for i := int64(0); i < total-allotted; i++ {
		shares[quotas[i].index].Amount++
	}
	return shares, nil
}

func customShares(total int64, tenants []uuid.UUID, custom map[uuid.UUID]int64) ([]Share, error) {
	if len(custom) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "custom distribution requires shares")
	}
	targeted := make(map[uuid.UUID]struct{}, len(tenants))
	for _, id := range tenants {
		targeted[id] = struct{}{}
	}
	for id := range custom {
		if _, ok := targeted[id]; !ok {
			return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "custom share for untargeted tenant %s", id)
		}
	}

	shares := make([]Share, 0, len(tenants))
	sum := int64(0)
	for _, id := range tenants {
		amount := custom[id]
		if amount < 0 {
			return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "negative share for tenant %s", id)
		}
		sum += amount
		shares = append(shares, Share{TenantID: id, Amount: amount})
	}
	if sum != total {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "custom shares sum to %d, expected %d", sum, total)
	}
	return shares, nil
}

func sortedUnique(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if id == uuid.Nil {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i][:], out[j][:]) < 0
	})
	return out
}
