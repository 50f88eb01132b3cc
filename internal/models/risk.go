package models

// RiskLevel grades a login by the strongest signal observed.
type RiskLevel string

const (
	RiskLevelLow      RiskLevel = "low"
	RiskLevelMedium   RiskLevel = "medium"
	RiskLevelHigh     RiskLevel = "high"
	RiskLevelCritical RiskLevel = "critical"

	// RiskLevelUnknown marks logins whose location could not be
	// resolved. It is never produced by signal escalation.
	RiskLevelUnknown RiskLevel = "unknown"
)

var riskRank = map[RiskLevel]int{
	RiskLevelUnknown:  -1,
	RiskLevelLow:      0,
	RiskLevelMedium:   1,
	RiskLevelHigh:     2,
	RiskLevelCritical: 3,
}

// Escalate returns the higher of the two levels.
func (r RiskLevel) Escalate(other RiskLevel) RiskLevel {
	if riskRank[other] > riskRank[r] {
		return other
	}
	return r
}

// AtLeast reports whether r ranks at or above the given level.
// Unknown ranks below every real level.
func (r RiskLevel) AtLeast(other RiskLevel) bool {
	return riskRank[r] >= riskRank[other]
}

// Alert types raised by the unusual login detector
const (
	AlertTypeProxyDetected    = "proxy_detected"
	AlertTypeHostingProvider  = "hosting_provider"
	AlertTypeNewCountry       = "new_country"
	AlertTypeImpossibleTravel = "impossible_travel"
	AlertTypeDistantLocation  = "distant_location"
	AlertTypeNewCity          = "new_city"
)

// RiskAlert describes one signal that fired during login analysis.
type RiskAlert struct {
	Type     string    `json:"type"`
	Severity RiskLevel `json:"severity"`
	Message  string    `json:"message"`
}

// Assessment statuses
const (
	RiskStatusChecked = "checked"
	RiskStatusUnknown = "unknown"
)

// LoginRiskAssessment is the outcome of evaluating one login event
// against the account's location history. Status is "unknown" when the
// location could not be resolved; no signals run in that case.
type LoginRiskAssessment struct {
	Status    string       `json:"status"`
	Unusual   bool         `json:"unusual"`
	RiskLevel RiskLevel    `json:"risk_level"`
	Alerts    []RiskAlert  `json:"alerts"`
	Location  *GeoLocation `json:"location,omitempty"`
}
