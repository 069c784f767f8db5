// policyhub distributes security policies from an encrypted license file to
// subscribed applications.
//
// Usage:
//
//	# Start the service with the configuration found in the usual locations
//	policyhub serve
//
//	# Start with a specific configuration file
//	policyhub serve --config /etc/policyhub/policyhub.yaml
//
//	# Encrypt a license document for upload
//	policyhub license encrypt --in license.xml --out YYYLicense.lic
//
//	# Show which fragments an encrypted license carries
//	policyhub license inspect --in YYYLicense.lic
//
//	# Show version information
//	policyhub version
package main

func main() {
	Execute()
}
