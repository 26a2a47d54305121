package enums

import "fmt"

// CreditSource records where added credits came from.
type CreditSource string

const (
	SourcePaymentGateway CreditSource = "payment_gateway"
	SourceManual         CreditSource = "manual"
	SourcePlanAllotment  CreditSource = "plan_allotment"
	SourceCampaignGrant  CreditSource = "campaign_grant"
	SourceTransfer       CreditSource = "transfer"
	SourceRefund         CreditSource = "refund"
)

var validCreditSources = []CreditSource{
	SourcePaymentGateway,
	SourceManual,
	SourcePlanAllotment,
	SourceCampaignGrant,
	SourceTransfer,
	SourceRefund,
}

// IsValid reports whether the value matches a known credit source.
func (v CreditSource) IsValid() bool {
	for _, candidate := range validCreditSources {
		if candidate == v {
			return true
		}
	}
	return false
}

// ParseCreditSource converts raw input into CreditSource.
func ParseCreditSource(value string) (CreditSource, error) {
	for _, candidate := range validCreditSources {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid credit source %q", value)
}

// RequiresConfirmation reports whether credits from this source must be
// confirmed with the payment gateway before they are applied.
func (v CreditSource) RequiresConfirmation() bool {
	return v == SourcePaymentGateway
}
