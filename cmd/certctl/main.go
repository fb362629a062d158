package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmerrifield20/examcert/internal/issuance"
	"github.com/jmerrifield20/examcert/internal/ledger"
	"github.com/jmerrifield20/examcert/internal/reconcile"
	"github.com/jmerrifield20/examcert/internal/scoring"
	"github.com/jmerrifield20/examcert/internal/signer"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// version is overridden via -ldflags "-X main.version=...".
var version = "dev"

var (
	cfgFile   string
	portalURL string
	verbose   bool
	logger    = zap.NewNop()
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "certctl",
	Short: "Exam certificate operator CLI",
	Long: `certctl issues and verifies anchored exam certificates.

It submits scores to the portal, signs the resulting anchor with the
operator's key, writes it to the ledger and reconciles the enrollment.
Interrupted issuances are kept in the session directory and can be
resumed with "certctl retry".`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(filepath.Join(home, ".certctl"))
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
		viper.SetEnvPrefix("certctl")
		viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		viper.AutomaticEnv()
		_ = viper.ReadInConfig()

		home, _ := os.UserHomeDir()
		viper.SetDefault("portal_url", "http://localhost:8080")
		viper.SetDefault("session_dir", filepath.Join(home, ".certctl", "sessions"))
		viper.SetDefault("signing_key_file", filepath.Join(home, ".certctl", "signing.pem"))
		viper.SetDefault("submit_timeout", "15s")
		viper.SetDefault("anchor_attempts", 3)

		if portalURL == "" {
			portalURL = viper.GetString("portal_url")
		}
		if verbose {
			l, err := zap.NewDevelopment()
			if err != nil {
				return err
			}
			logger = l
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.certctl/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&portalURL, "portal", "", "portal base URL (default http://localhost:8080)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log saga and worker activity to stderr")

	rootCmd.AddCommand(issueCmd)
	rootCmd.AddCommand(retryCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(keygenCmd)
	rootCmd.AddCommand(reconcileCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the certctl version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("certctl %s\n", version)
	},
}

// ── shared wiring ────────────────────────────────────────────────────────────

func sessionStore() *issuance.FileStore {
	return issuance.NewFileStore(viper.GetString("session_dir"))
}

func jobQueue() *reconcile.FileQueue {
	return reconcile.NewFileQueue(filepath.Join(viper.GetString("session_dir"), "reconcile.yaml"))
}

func scoringClient() (*scoring.Client, error) {
	tok := viper.GetString("operator_token")
	if tok == "" {
		return nil, fmt.Errorf("no operator token: run `certctl token` on the portal host and set operator_token")
	}
	return scoring.NewClient(portalURL, tok, viper.GetDuration("submit_timeout")), nil
}

// newSaga builds a saga against the configured portal. When assumeYes is
// false the operator confirms each signature on the terminal.
func newSaga(assumeYes bool, rec *sagaMetrics) (*issuance.Saga, error) {
	backend, err := scoringClient()
	if err != nil {
		return nil, err
	}
	key, err := signer.LoadKey(viper.GetString("signing_key_file"))
	if err != nil {
		return nil, fmt.Errorf("%w (create one with `certctl keygen`)", err)
	}
	var approver signer.Approver = &signer.PromptApprover{In: os.Stdin, Out: os.Stderr}
	if assumeYes {
		approver = signer.AutoApprove
	}

	// Anchoring has no client-side timeout; the saga bounds it instead.
	saga := issuance.New(
		backend,
		signer.NewKeySigner(key, approver, 0),
		ledger.NewClient(portalURL, 0, logger),
		sessionStore(),
		issuance.Config{
			SubmitTimeout:  viper.GetDuration("submit_timeout"),
			AnchorAttempts: viper.GetInt("anchor_attempts"),
		},
		logger,
	)
	saga.SetQueue(jobQueue())
	saga.SetObserver(func(_ uuid.UUID, from, to issuance.Phase) {
		fmt.Fprintf(os.Stderr, "  %-12s -> %s\n", from.Name(), to.Name())
		rec.observe(from, to)
	})
	return saga, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}
