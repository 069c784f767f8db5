// Package config provides centralized configuration management for policyhub.
// It loads configuration from multiple sources, validates it, and resolves
// file system paths relative to the executable.
//
// # Configuration Sources
//
// Configuration is loaded from the following sources in order of precedence:
//
//	1. Environment variables (highest priority)
//	2. YAML configuration file
//	3. Default values (lowest priority)
//
// # Environment Variables
//
// All environment variables follow the pattern POLICYHUB_<SECTION>_<KEY>:
//
//	POLICYHUB_SERVER_PORT=8080
//	POLICYHUB_LICENSE_FILE_PATH=license/YYYLicense.lic
//	POLICYHUB_LICENSE_PASSPHRASE=...
//	POLICYHUB_DELIVERY_RETRY_BACKOFF=5s
//	POLICYHUB_LOGGING_LEVEL=debug
//
// # Application Registry
//
// The mapping from application id to policy types is read from the
// "applications" list of the YAML file, or from the file named by
// license.registry_file. Without either, a single built-in entry is used.
package config
