package verify

import (
	"regexp"
	"strings"
)

// WWCCProvider is the state authority that issues Working With Children
// Checks and publishes a register families can check by hand.
type WWCCProvider struct {
	State           string `json:"state"`
	Name            string `json:"name"`
	VerificationURL string `json:"verificationUrl"`
	numberFormat    *regexp.Regexp
	example         string
}

var wwccProviders = map[string]WWCCProvider{
	"NSW": {
		State:           "NSW",
		Name:            "NSW Office of the Children's Guardian",
		VerificationURL: "https://www.kidsguardian.nsw.gov.au/child-safe-organisations/working-with-children-check/verify-wwcc",
		numberFormat:    regexp.MustCompile(`^WWC\d{7}[A-Z]$`),
		example:         "WWC1234567A",
	},
	"VIC": {
		State:           "VIC",
		Name:            "Victoria Working with Children Check Unit",
		VerificationURL: "https://www.workingwithchildren.vic.gov.au/home/applications+and+renewals/check+the+status+of+a+check",
		numberFormat:    regexp.MustCompile(`^\d{8}$`),
		example:         "12345678",
	},
	"QLD": {
		State:           "QLD",
		Name:            "Queensland Blue Card Services",
		VerificationURL: "https://www.bluecard.qld.gov.au/blue-card-register",
		numberFormat:    regexp.MustCompile(`^\d{6}/\d{2}$`),
		example:         "123456/21",
	},
	"WA": {
		State:           "WA",
		Name:            "Western Australia Department of Communities",
		VerificationURL: "https://www.workingwithchildren.wa.gov.au/check-registration/online-register",
		numberFormat:    regexp.MustCompile(`^HCW\d{7}$`),
		example:         "HCW1234567",
	},
}

// Provider returns the WWCC authority for an Australian state code.
func Provider(state string) (WWCCProvider, bool) {
	p, ok := wwccProviders[strings.ToUpper(strings.TrimSpace(state))]
	return p, ok
}

// Background check types a caregiver may request.
var backgroundCheckTypes = map[string]string{
	"national-police-check":       "ACIC (Australian Criminal Intelligence Commission)",
	"identity-verification":       "ACIC (Australian Criminal Intelligence Commission)",
	"working-with-children":       "Safe Hands Screening",
	"reference-verification":      "Accurate Background",
	"employment-history":          "Accurate Background",
	"professional-qualifications": "Accurate Background",
}

func backgroundProvider(checkTypes []string) string {
	if len(checkTypes) == 0 {
		return ""
	}
	return backgroundCheckTypes[checkTypes[0]]
}
