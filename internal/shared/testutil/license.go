package testutil

import (
	"fmt"
	"strings"
)

// Namespace and Brand match the production license constants.
const (
	Namespace = "http://XXX/Automation/YYY/SecurityPolicy"
	Brand     = "XXX BroYYYast"
)

// LicenseXML builds a license document in Namespace carrying brand and the
// given raw fragment elements.
func LicenseXML(brand string, fragments ...string) []byte {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="utf-8"?>`)
	fmt.Fprintf(&b, `<SecurityPolicy xmlns="%s">`, Namespace)
	if brand != "" {
		fmt.Fprintf(&b, `<BrandName>%s</BrandName>`, brand)
	}
	for _, f := range fragments {
		b.WriteString(f)
	}
	b.WriteString(`</SecurityPolicy>`)
	return []byte(b.String())
}

// Fragment renders <policyTypeParameters>body</policyTypeParameters>.
func Fragment(policyType, body string) string {
	return fmt.Sprintf("<%sParameters>%s</%sParameters>", policyType, body, policyType)
}

// Serialized is the standalone form of Fragment as produced by the policy package.
func Serialized(policyType, body string) string {
	return fmt.Sprintf(`<%sParameters xmlns="%s">%s</%sParameters>`, policyType, Namespace, body, policyType)
}
