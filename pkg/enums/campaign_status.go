package enums

import "fmt"

// CampaignStatus maps to credit_campaigns.status.
type CampaignStatus string

const (
	CampaignStatusDraft        CampaignStatus = "draft"
	CampaignStatusDistributing CampaignStatus = "distributing"
	CampaignStatusDistributed  CampaignStatus = "distributed"
	CampaignStatusExpired      CampaignStatus = "expired"
)

var validCampaignStatuses = []CampaignStatus{
	CampaignStatusDraft,
	CampaignStatusDistributing,
	CampaignStatusDistributed,
	CampaignStatusExpired,
}

// IsValid reports whether the value matches a known campaign status.
func (v CampaignStatus) IsValid() bool {
	for _, candidate := range validCampaignStatuses {
		if candidate == v {
			return true
		}
	}
	return false
}

// ParseCampaignStatus converts raw input into CampaignStatus.
func ParseCampaignStatus(value string) (CampaignStatus, error) {
	for _, candidate := range validCampaignStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid campaign status %q", value)
}
