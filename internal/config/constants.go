package config

import "time"

// Application constants
const (
	AppName    = "policyhub"
	AppVersion = "0.3.0"

	// TargetNamespace qualifies every element of a license document.
	TargetNamespace = "http://XXX/Automation/YYY/SecurityPolicy"
	// BrandName is the value the license BrandName element must carry.
	BrandName = "XXX BroYYYast"

	DefaultApplicationID = "a8e9274d-83e4-451c-82d4-7679f1f004ec"
	DefaultPolicyType    = "WebClient"

	DefaultLicenseDir  = "license"
	DefaultLicenseFile = "license/YYYLicense.lic"
	DefaultAuditFile   = "license/audit.jsonl"
	DefaultLogFile     = "logs/policyhub.log"

	DefaultRetryBackoff  = 5 * time.Second
	DefaultSweepSchedule = "@every 1m"

	DefaultRateLimit = 20 // requests per second
	DefaultBurstSize = 10
)
