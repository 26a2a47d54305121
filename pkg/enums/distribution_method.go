package enums

import "fmt"

// DistributionMethod selects how a campaign pool is split.
type DistributionMethod string

const (
	DistributionEqual        DistributionMethod = "equal"
	DistributionProportional DistributionMethod = "proportional"
	DistributionCustom       DistributionMethod = "custom"
)

var validDistributionMethods = []DistributionMethod{
	DistributionEqual,
	DistributionProportional,
	DistributionCustom,
}

// IsValid reports whether the value matches a known distribution method.
func (v DistributionMethod) IsValid() bool {
	for _, candidate := range validDistributionMethods {
		if candidate == v {
			return true
		}
	}
	return false
}

// ParseDistributionMethod converts raw input into DistributionMethod.
func ParseDistributionMethod(value string) (DistributionMethod, error) {
	for _, candidate := range validDistributionMethods {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid distribution method %q", value)
}
