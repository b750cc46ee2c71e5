package signing

import (
	"fmt"
	"strings"
)

// Attestation is the human-readable block rendered inside the visible
// signature box.
type Attestation struct {
	SignatoryName string
	DateString    string
	Reason        string
	CustomText    string
	Location      string
}

// Text renders the attestation block. The signatory and date lines are
// always present; reason, custom text and location appear only when set.
func (a Attestation) Text() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Digitally Signed by: %s\nDate: %s", a.SignatoryName, a.DateString)
	if a.Reason != "" {
		fmt.Fprintf(&sb, "\nReason: %s", a.Reason)
	}
	if a.CustomText != "" {
		fmt.Fprintf(&sb, "\nCustom Text: %s", a.CustomText)
	}
	if a.Location != "" {
		fmt.Fprintf(&sb, "\nLocation: %s", a.Location)
	}
	return sb.String()
}
