package campaigns

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/enums"
	pkgerrors "github.com/Cdineshreddy12/Wrapper-sub013/pkg/errors"
)

func orderedTenants(n int) []uuid.UUID {
	return sortedUnique(func() []uuid.UUID {
		ids := make([]uuid.UUID, n)
		for i := range ids {
			ids[i] = uuid.New()
		}
		return ids
	}())
}

func amounts(shares []Share) []int64 {
	out := make([]int64, len(shares))
	for i, s := range shares {
		out[i] = s.Amount
	}
	return out
}

func TestEqualShares(t *testing.T) {
	tests := []struct {
		name    string
		total   int64
		tenants int
		want    []int64
	}{
		{name: "even split", total: 1000, tenants: 4, want: []int64{250, 250, 250, 250}},
		{name: "remainder to lowest ids", total: 1000, tenants: 3, want: []int64{334, 333, 333}},
		{name: "fewer credits than tenants", total: 2, tenants: 3, want: []int64{1, 1, 0}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tenants := orderedTenants(tc.tenants)
			shares, err := ComputeShares(ShareInput{Method: enums.DistributionEqual, Total: tc.total, Tenants: tenants})
			require.NoError(t, err)
			assert.Equal(t, tc.want, amounts(shares))
			assert.Equal(t, tenants[0], shares[0].TenantID)
		})
	}
}

func TestEqualSharesIgnoreInputOrderAndDuplicates(t *testing.T) {
	tenants := orderedTenants(3)
	shuffled := []uuid.UUID{tenants[2], tenants[0], tenants[1], tenants[0]}
	shares, err := ComputeShares(ShareInput{Method: enums.DistributionEqual, Total: 100, Tenants: shuffled})
	require.NoError(t, err)
	require.Len(t, shares, 3)
	assert.Equal(t, Share{TenantID: tenants[0], Amount: 34}, shares[0])
}

func TestProportionalSharesLargestRemainder(t *testing.T) {
	tenants := orderedTenants(3)
	weights := map[uuid.UUID]decimal.Decimal{
		tenants[0]: decimal.NewFromInt(1),
		tenants[1]: decimal.NewFromInt(1),
		tenants[2]: decimal.NewFromInt(1),
	}
	shares, err := ComputeShares(ShareInput{Method: enums.DistributionProportional, Total: 100, Tenants: tenants, Weights: weights})
	require.NoError(t, err)
	assert.Equal(t, []int64{34, 33, 33}, amounts(shares))

	weights = map[uuid.UUID]decimal.Decimal{
		tenants[0]: decimal.RequireFromString("0.5"),
		tenants[1]: decimal.RequireFromString("0.3"),
		tenants[2]: decimal.RequireFromString("0.2"),
	}
	shares, err = ComputeShares(ShareInput{Method: enums.DistributionProportional, Total: 999, Tenants: tenants, Weights: weights})
	require.NoError(t, err)
	// exact quotas 499.5, 299.7, 199.8: floors 499/299/199, the leftover 2
	// go to the .8 and .7 remainders.
	assert.Equal(t, []int64{499, 300, 200}, amounts(shares))
}

func TestProportionalSharesRejectBadWeights(t *testing.T) {
	tenants := orderedTenants(2)
	tests := map[string]map[uuid.UUID]decimal.Decimal{
		"missing":  {tenants[0]: decimal.NewFromInt(1)},
		"negative": {tenants[0]: decimal.NewFromInt(1), tenants[1]: decimal.NewFromInt(-1)},
		"all zero": {tenants[0]: decimal.Zero, tenants[1]: decimal.Zero},
	}
	for name, weights := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ComputeShares(ShareInput{Method: enums.DistributionProportional, Total: 10, Tenants: tenants, Weights: weights})
			assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
		})
	}
}

func TestCustomShares(t *testing.T) {
	tenants := orderedTenants(2)
	shares, err := ComputeShares(ShareInput{
		Method:  enums.DistributionCustom,
		Total:   100,
		Tenants: tenants,
		Custom:  map[uuid.UUID]int64{tenants[0]: 70, tenants[1]: 30},
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{70, 30}, amounts(shares))

	_, err = ComputeShares(ShareInput{
		Method:  enums.DistributionCustom,
		Total:   100,
		Tenants: tenants,
		Custom:  map[uuid.UUID]int64{tenants[0]: 70},
	})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = ComputeShares(ShareInput{
		Method:  enums.DistributionCustom,
		Total:   100,
		Tenants: tenants[:1],
		Custom:  map[uuid.UUID]int64{tenants[0]: 50, tenants[1]: 50},
	})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestComputeSharesValidatesInput(t *testing.T) {
	_, err := ComputeShares(ShareInput{Method: enums.DistributionEqual, Total: 10})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = ComputeShares(ShareInput{Method: enums.DistributionEqual, Total: 0, Tenants: orderedTenants(1)})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = ComputeShares(ShareInput{Method: "lottery", Total: 10, Tenants: orderedTenants(1)})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}
