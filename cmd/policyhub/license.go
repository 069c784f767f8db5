package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"policyhub/internal/config"
	"policyhub/internal/policy"
	"policyhub/internal/security"
)

var licenseFlags struct {
	in         string
	out        string
	passphrase string
	noValidate bool
}

var licenseCmd = &cobra.Command{
	Use:   "license",
	Short: "Encrypt, decrypt and inspect license files",
	Long: `Work with license files offline.

The passphrase comes from --passphrase, or else from the configuration
(license.passphrase or POLICYHUB_LICENSE_PASSPHRASE).

Subcommands:
  encrypt - Encrypt a license document
  decrypt - Decrypt a license file
  inspect - List the policy fragments of a license file`,
}

var licenseEncryptCmd = &cobra.Command{
	Use:   "encrypt",
	Short: "Encrypt a license document",
	Long: `Encrypt a license XML document into a file the service accepts.

The document is parsed and brand-checked first unless --no-validate is set.

Examples:
  policyhub license encrypt --in license.xml --out YYYLicense.lic`,
	RunE: encryptLicense,
}

var licenseDecryptCmd = &cobra.Command{
	Use:   "decrypt",
	Short: "Decrypt a license file",
	Long: `Decrypt a license file. Without --out the document is written to stdout.

Examples:
  policyhub license decrypt --in YYYLicense.lic --out license.xml`,
	RunE: decryptLicense,
}

var licenseInspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "List the policy fragments of a license file",
	Long: `Decrypt and validate a license file, then list its fragments and the
policies each configured application would receive.`,
	RunE: inspectLicense,
}

func init() {
	rootCmd.AddCommand(licenseCmd)
	licenseCmd.AddCommand(licenseEncryptCmd, licenseDecryptCmd, licenseInspectCmd)

	licenseCmd.PersistentFlags().StringVarP(&licenseFlags.in, "in", "i", "", "input file (required)")
	licenseCmd.PersistentFlags().StringVar(&licenseFlags.passphrase, "passphrase", "", "license passphrase")
	_ = licenseCmd.MarkPersistentFlagRequired("in")

	licenseEncryptCmd.Flags().StringVarP(&licenseFlags.out, "out", "o", "", "output file (required)")
	licenseEncryptCmd.Flags().BoolVar(&licenseFlags.noValidate, "no-validate", false, "skip document validation")
	_ = licenseEncryptCmd.MarkFlagRequired("out")

	licenseDecryptCmd.Flags().StringVarP(&licenseFlags.out, "out", "o", "", "output file (default stdout)")
}

// licenseContext loads the configuration and builds the cipher.
func licenseContext() (*config.Config, *security.Cipher, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, err
	}
	passphrase := licenseFlags.passphrase
	if passphrase == "" {
		passphrase = cfg.License.Passphrase
	}
	cipher, err := security.NewCipher(passphrase, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("license passphrase: %w", err)
	}
	return cfg, cipher, nil
}

// openLicense decrypts, parses and brand-checks the --in file the way the
// service does on upload.
func openLicense(cfg *config.Config, cipher *security.Cipher) (*policy.Document, error) {
	blob, err := os.ReadFile(licenseFlags.in)
	if err != nil {
		return nil, fmt.Errorf("read license: %w", err)
	}
	plain, err := cipher.Decrypt(blob)
	if err != nil {
		return nil, fmt.Errorf("decrypt license: %w", err)
	}
	doc, err := policy.Parse(plain, cfg.License.Namespace)
	if err != nil {
		return nil, err
	}
	if err := doc.Validate(cfg.License.BrandName); err != nil {
		return nil, err
	}
	return doc, nil
}

func encryptLicense(cmd *cobra.Command, args []string) error {
	cfg, cipher, err := licenseContext()
	if err != nil {
		return err
	}

	plain, err := os.ReadFile(licenseFlags.in)
	if err != nil {
		return fmt.Errorf("read document: %w", err)
	}

	if !licenseFlags.noValidate {
		doc, err := policy.Parse(plain, cfg.License.Namespace)
		if err != nil {
			return err
		}
		if err := doc.Validate(cfg.License.BrandName); err != nil {
			return err
		}
	}

	blob, err := cipher.Encrypt(plain)
	if err != nil {
		return err
	}
	if err := os.WriteFile(licenseFlags.out, blob, 0600); err != nil {
		return fmt.Errorf("write license: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "License written to %s (%d bytes)\n", licenseFlags.out, len(blob))
	return nil
}

func decryptLicense(cmd *cobra.Command, args []string) error {
	_, cipher, err := licenseContext()
	if err != nil {
		return err
	}

	blob, err := os.ReadFile(licenseFlags.in)
	if err != nil {
		return fmt.Errorf("read license: %w", err)
	}
	plain, err := cipher.Decrypt(blob)
	if err != nil {
		return fmt.Errorf("decrypt license: %w", err)
	}

	if licenseFlags.out == "" {
		_, err = cmd.OutOrStdout().Write(plain)
		return err
	}
	return os.WriteFile(licenseFlags.out, plain, 0600)
}

func inspectLicense(cmd *cobra.Command, args []string) error {
	cfg, cipher, err := licenseContext()
	if err != nil {
		return err
	}
	doc, err := openLicense(cfg, cipher)
	if err != nil {
		return err
	}
	registry, err := policy.RegistryFromConfig(cfg.Applications)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	printFragments(w, doc)

	fmt.Fprintln(w, "\nApplications:")
	for _, entry := range registry.Entries() {
		var present, missing []string
		for _, t := range entry.PolicyTypes {
			if _, ok := doc.Lookup(t); ok {
				present = append(present, t)
			} else {
				missing = append(missing, t)
			}
		}
		fmt.Fprintf(w, "  %s  receives [%s]", entry.ApplicationID, strings.Join(present, ", "))
		if len(missing) > 0 {
			fmt.Fprintf(w, "  missing [%s]", strings.Join(missing, ", "))
		}
		fmt.Fprintln(w)
	}
	return nil
}

func printFragments(w io.Writer, doc *policy.Document) {
	fmt.Fprintf(w, "Fragments (%d):\n", doc.Len())
	for _, f := range doc.Fragments() {
		fmt.Fprintf(w, "  %s  %d bytes\n", f.Name().Local, len(f.String()))
	}
}
