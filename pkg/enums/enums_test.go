package enums

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCreditEnums(t *testing.T) {
	creditType, err := ParseCreditType("seasonal")
	require.NoError(t, err)
	assert.Equal(t, CreditTypeSeasonal, creditType)

	_, err = ParseCreditType("gold")
	assert.Error(t, err)

	method, err := ParseDistributionMethod("proportional")
	require.NoError(t, err)
	assert.Equal(t, DistributionProportional, method)

	source, err := ParseCreditSource("campaign_grant")
	require.NoError(t, err)
	assert.Equal(t, SourceCampaignGrant, source)

	txType, err := ParseTransactionType("transfer_in")
	require.NoError(t, err)
	assert.Equal(t, TransactionTransferIn, txType)
	assert.False(t, TransactionType("refund").IsValid())
}

func TestParseCurrencyNormalizesCase(t *testing.T) {
	currency, err := ParseCurrency(" usd ")
	require.NoError(t, err)
	assert.Equal(t, CurrencyUSD, currency)

	_, err = ParseCurrency("BTC")
	assert.Error(t, err)
}

func TestOutboxEnums(t *testing.T) {
	for _, raw := range []string{"credits_added", "credits_low_balance", "credits_transferred", "allocation_expiring", "allocation_expired", "campaign_distributed"} {
		_, err := ParseOutboxEventType(raw)
		assert.NoError(t, err, raw)
	}
	_, err := ParseOutboxEventType("order_created")
	assert.Error(t, err)

	agg, err := ParseOutboxAggregateType("transfer")
	require.NoError(t, err)
	assert.Equal(t, AggregateTransfer, agg)
}

func TestLedgerAndReconciliationEnums(t *testing.T) {
	scope, err := ParseLedgerScope("allocation")
	require.NoError(t, err)
	assert.Equal(t, LedgerScopeAllocation, scope)

	resource, err := ParseReconciliationResource("account")
	require.NoError(t, err)
	assert.Equal(t, ReconciliationResourceAccount, resource)

	status, err := ParseCampaignStatus("distributing")
	require.NoError(t, err)
	assert.Equal(t, CampaignStatusDistributing, status)
}
