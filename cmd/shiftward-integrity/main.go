// Command shiftward-integrity is the auditor-facing CLI. It verifies
// export bundles against their sealed manifests and time-clock chains
// against their recorded hashes, entirely offline; online subcommands
// fetch manifests, chains, and public keys from a running service.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/shiftward/shiftward/internal/audit"
	"github.com/shiftward/shiftward/internal/ledger"
	"github.com/shiftward/shiftward/internal/verify"
	"github.com/shiftward/shiftward/pkg/client"
	"github.com/shiftward/shiftward/pkg/manifest"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// version is overridden by goreleaser via -ldflags "-X main.version=...".
var version = "dev"

var (
	serverURL string
	cfgFile   string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "shiftward-integrity",
	Short: "Shiftward integrity verification CLI",
	Long: `shiftward-integrity verifies Shiftward export bundles and time-clock
chains. Verification is offline: given a manifest, the bundle files, and
the signer's public key, no network access is needed.

The online subcommands (fetch-key, and the --server flag on the verify
commands) talk to a running integrity service.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(home + "/.shiftward")
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
		viper.AutomaticEnv()
		_ = viper.ReadInConfig()

		if serverURL == "" {
			serverURL = viper.GetString("server_url")
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.shiftward/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "integrity service base URL (for online operations)")

	rootCmd.AddCommand(verifyManifestCmd)
	rootCmd.AddCommand(verifyChainCmd)
	rootCmd.AddCommand(inspectManifestCmd)
	rootCmd.AddCommand(fetchKeyCmd)
	rootCmd.AddCommand(versionCmd)
}

func newClient() (*client.Client, error) {
	if serverURL == "" {
		return nil, errors.New("no service URL: pass --server or set server_url in the config file")
	}
	return client.New(serverURL, client.WithKeyCacheTTL(time.Minute))
}

// ── verify-manifest ──────────────────────────────────────────────────────────

var (
	manifestPath string
	keyPath      string
	outputJSON   bool
)

var verifyManifestCmd = &cobra.Command{
	Use:   "verify-manifest <bundle-dir>",
	Short: "Verify an export bundle against its sealed manifest",
	Long: `verify-manifest recomputes every file hash in the bundle directory,
rebuilds the Merkle root, and checks the root signature.

Offline (the normal audit posture):

  shiftward-integrity verify-manifest --manifest manifest.json --key signer.pem ./bundle

With --server and no --manifest/--key, both are fetched from the service
using the manifest's job id:

  shiftward-integrity verify-manifest --server https://integrity.example --job job-42 ./bundle`,
	Args: cobra.ExactArgs(1),
	RunE: runVerifyManifest,
}

var verifyJobID string

func init() {
	verifyManifestCmd.Flags().StringVar(&manifestPath, "manifest", "", "path to the manifest JSON file")
	verifyManifestCmd.Flags().StringVar(&keyPath, "key", "", "path to the signer's PEM public key")
	verifyManifestCmd.Flags().StringVar(&verifyJobID, "job", "", "export job id (fetch manifest from --server)")
	verifyManifestCmd.Flags().BoolVar(&outputJSON, "json", false, "emit the verification result as JSON")
}

func runVerifyManifest(cmd *cobra.Command, args []string) error {
	bundleDir := args[0]

	m, keyPEM, err := loadManifestAndKey(cmd.Context())
	if err != nil {
		return err
	}

	files, err := readBundle(bundleDir, m)
	if err != nil {
		return err
	}

	result := verify.Manifest(m, files, keyPEM)
	if err := printResult(cmd, resultSummary{
		Valid:  result.Valid,
		Issues: issueStrings(result.Issues),
	}); err != nil {
		return err
	}
	if !result.Valid {
		os.Exit(1)
	}
	return nil
}

// loadManifestAndKey resolves the manifest and public key from local files
// or, when --job is set, from the service.
func loadManifestAndKey(ctx context.Context) (*manifest.Manifest, string, error) {
	if verifyJobID != "" {
		c, err := newClient()
		if err != nil {
			return nil, "", err
		}
		m, err := c.Manifest(ctx, verifyJobID)
		if err != nil {
			return nil, "", fmt.Errorf("fetch manifest %s: %w", verifyJobID, err)
		}
		pk, err := c.VerificationKey(ctx, m)
		if err != nil {
			return nil, "", err
		}
		return m, pk.PublicKeyPEM, nil
	}

	if manifestPath == "" || keyPath == "" {
		return nil, "", errors.New("offline mode needs both --manifest and --key (or use --server with --job)")
	}
	m, err := manifest.Load(manifestPath)
	if err != nil {
		return nil, "", err
	}
	keyPEM, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, "", fmt.Errorf("read key: %w", err)
	}
	return m, string(keyPEM), nil
}

// readBundle loads the files the manifest names from dir, plus any extra
// files present. Extras are passed through so the verifier can report them.
func readBundle(dir string, m *manifest.Manifest) ([]audit.File, error) {
	seen := make(map[string]bool)
	files := []audit.File{}

	for _, leaf := range m.Leaves {
		data, err := os.ReadFile(filepath.Join(dir, leaf.FileName))
		if err != nil {
			if os.IsNotExist(err) {
				continue // verifier reports the missing leaf
			}
			return nil, fmt.Errorf("read %s: %w", leaf.FileName, err)
		}
		files = append(files, audit.File{Name: leaf.FileName, Data: data})
		seen[leaf.FileName] = true
	}

	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read bundle dir: %w", err)
	}
	for _, de := range dirEntries {
		if de.IsDir() || seen[de.Name()] {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, de.Name()))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", de.Name(), err)
		}
		files = append(files, audit.File{Name: de.Name(), Data: data})
	}
	return files, nil
}

// ── verify-chain ─────────────────────────────────────────────────────────────

var (
	chainPath    string
	chainSubject string
)

var verifyChainCmd = &cobra.Command{
	Use:   "verify-chain",
	Short: "Verify a subject's time-clock hash chain",
	Long: `verify-chain recomputes every entry hash and predecessor link in a
chain and reports any break.

Offline, from a JSON dump of the chain entries:

  shiftward-integrity verify-chain --input chain.json --subject emp-042

Online, fetching the chain from the service:

  shiftward-integrity verify-chain --server https://integrity.example --subject emp-042`,
	RunE: runVerifyChain,
}

func init() {
	verifyChainCmd.Flags().StringVar(&chainPath, "input", "", "path to a JSON array of chain entries")
	verifyChainCmd.Flags().StringVar(&chainSubject, "subject", "", "subject id the chain must belong to")
	verifyChainCmd.Flags().BoolVar(&outputJSON, "json", false, "emit the verification report as JSON")
	_ = verifyChainCmd.MarkFlagRequired("subject")
}

func runVerifyChain(cmd *cobra.Command, args []string) error {
	var report *ledger.ChainReport

	if chainPath != "" {
		raw, err := os.ReadFile(chainPath)
		if err != nil {
			return fmt.Errorf("read chain: %w", err)
		}
		var entries []*ledger.Entry
		if err := json.Unmarshal(raw, &entries); err != nil {
			return fmt.Errorf("decode chain: %w", err)
		}
		report = verify.LedgerChain(entries, chainSubject)
	} else {
		c, err := newClient()
		if err != nil {
			return err
		}
		remote, err := c.VerifyChain(cmd.Context(), chainSubject)
		if err != nil {
			return fmt.Errorf("verify chain for %s: %w", chainSubject, err)
		}
		report = &ledger.ChainReport{
			IsValid:      remote.IsValid,
			TotalEntries: remote.TotalEntries,
			ValidEntries: remote.ValidEntries,
			ChainHash:    remote.ChainHash,
		}
		for _, iss := range remote.Issues {
			report.Issues = append(report.Issues, ledger.Issue{
				Kind:       ledger.IssueKind(iss.Kind),
				EntryID:    iss.EntryID,
				EntryIndex: iss.EntryIndex,
				Expected:   iss.Expected,
				Actual:     iss.Actual,
			})
		}
	}

	if outputJSON {
		if err := json.NewEncoder(cmd.OutOrStdout()).Encode(report); err != nil {
			return err
		}
	} else {
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintf(w, "subject:\t%s\n", chainSubject)
		fmt.Fprintf(w, "entries:\t%d (%d valid)\n", report.TotalEntries, report.ValidEntries)
		if report.IsValid {
			fmt.Fprintf(w, "status:\tVALID\n")
			fmt.Fprintf(w, "chain hash:\t%s\n", report.ChainHash)
		} else {
			fmt.Fprintf(w, "status:\tINVALID\n")
			for _, iss := range report.Issues {
				fmt.Fprintf(w, "issue:\t%s at entry %d (%s)\n", iss.Kind, iss.EntryIndex, iss.EntryID)
			}
		}
		w.Flush()
	}

	if !report.IsValid {
		os.Exit(1)
	}
	return nil
}

// ── inspect-manifest ─────────────────────────────────────────────────────────

var inspectManifestCmd = &cobra.Command{
	Use:   "inspect-manifest <manifest.json>",
	Short: "Print a manifest's seal details without verifying anything",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := manifest.Load(args[0])
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintf(w, "job:\t%s\n", m.JobID)
		fmt.Fprintf(w, "tenant:\t%s\n", m.TenantID)
		fmt.Fprintf(w, "schema:\t%s\n", m.SchemaVersion)
		fmt.Fprintf(w, "files:\t%d\n", len(m.Leaves))
		fmt.Fprintf(w, "merkle root:\t%s\n", m.MerkleRoot)
		fmt.Fprintf(w, "key:\tv%d (%s, %s)\n", m.KeyVersion, m.Algorithm, m.KeyFingerprint)
		fmt.Fprintf(w, "retention:\t%s, %d years\n", m.Retention.Mode, m.Retention.Years)
		fmt.Fprintf(w, "timestamp:\t%s\n", m.TimestampStatus)
		fmt.Fprintf(w, "sealed at:\t%s\n", m.CreatedAt.Format(time.RFC3339))
		return w.Flush()
	},
}

// ── fetch-key ────────────────────────────────────────────────────────────────

var (
	keyTenant  string
	keyVersion int
)

var fetchKeyCmd = &cobra.Command{
	Use:   "fetch-key",
	Short: "Fetch a tenant's signing public key as PEM",
	Long: `fetch-key downloads a signing public key for offline verification.
Version 0 (the default) fetches the currently active key; retired
versions stay available forever:

  shiftward-integrity fetch-key --server https://integrity.example --tenant acme --version 2 > signer.pem`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		pk, err := c.PublicKey(cmd.Context(), keyTenant, keyVersion)
		if err != nil {
			return fmt.Errorf("fetch key for %s: %w", keyTenant, err)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "version %d, %s, fingerprint %s\n", pk.Version, pk.Algorithm, pk.Fingerprint)
		fmt.Fprint(cmd.OutOrStdout(), pk.PublicKeyPEM)
		return nil
	},
}

func init() {
	fetchKeyCmd.Flags().StringVar(&keyTenant, "tenant", "", "tenant id")
	fetchKeyCmd.Flags().IntVar(&keyVersion, "version", 0, "key version (0 = active)")
	_ = fetchKeyCmd.MarkFlagRequired("tenant")
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the CLI version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "shiftward-integrity", version)
	},
}

// ── output helpers ───────────────────────────────────────────────────────────

type resultSummary struct {
	Valid  bool     `json:"valid"`
	Issues []string `json:"issues"`
}

func issueStrings(issues []verify.Issue) []string {
	out := make([]string, 0, len(issues))
	for _, iss := range issues {
		s := string(iss.Kind)
		if iss.FileName != "" {
			s += ": " + iss.FileName
		}
		if iss.Detail != "" {
			s += " (" + iss.Detail + ")"
		}
		out = append(out, s)
	}
	return out
}

func printResult(cmd *cobra.Command, summary resultSummary) error {
	if outputJSON {
		return json.NewEncoder(cmd.OutOrStdout()).Encode(summary)
	}
	if summary.Valid {
		fmt.Fprintln(cmd.OutOrStdout(), "VALID: bundle matches its sealed manifest")
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), "INVALID: bundle does not match its sealed manifest")
	for _, iss := range summary.Issues {
		fmt.Fprintln(cmd.OutOrStdout(), "  -", iss)
	}
	return nil
}
