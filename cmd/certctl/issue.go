package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/jmerrifield20/examcert/internal/certificate"
	"github.com/jmerrifield20/examcert/internal/issuance"
	"github.com/spf13/cobra"
)

var (
	issueEnrollment  string
	issueParticipant string
	issueListening   int
	issueStructure   int
	issueReading     int
	issueScoresFile  string
	assumeYes        bool
	metricsFile      string
)

func addSagaFlags(cmd *cobra.Command) {
	cmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "sign anchor transactions without prompting")
	cmd.Flags().StringVar(&metricsFile, "metrics-file", "", "write saga metrics to this Prometheus textfile")
}

// ── issue ────────────────────────────────────────────────────────────────────

var issueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Submit scores and anchor the resulting certificate",
	Long: `Issue submits raw section scores for an approved enrollment, signs the
returned anchor hash and writes it to the ledger, then reconciles the
enrollment. Scores are given as flags or as a JSON file:

  certctl issue --enrollment <id> --participant <id> --listening 45 --structure 35 --reading 40
  certctl issue --enrollment <id> --participant <id> --scores scores.json`,
	RunE: runIssue,
}

func init() {
	issueCmd.Flags().StringVar(&issueEnrollment, "enrollment", "", "enrollment ID (required)")
	issueCmd.Flags().StringVar(&issueParticipant, "participant", "", "participant ID (required)")
	issueCmd.Flags().IntVar(&issueListening, "listening", 0, "listening section score")
	issueCmd.Flags().IntVar(&issueStructure, "structure", 0, "structure section score")
	issueCmd.Flags().IntVar(&issueReading, "reading", 0, "reading section score")
	issueCmd.Flags().StringVar(&issueScoresFile, "scores", "", "JSON file with listening, structure and reading")
	_ = issueCmd.MarkFlagRequired("enrollment")
	_ = issueCmd.MarkFlagRequired("participant")
	addSagaFlags(issueCmd)
	addSagaFlags(retryCmd)
}

func runIssue(cmd *cobra.Command, args []string) error {
	enrollmentID, err := uuid.Parse(issueEnrollment)
	if err != nil {
		return fmt.Errorf("invalid --enrollment: %w", err)
	}
	participantID, err := uuid.Parse(issueParticipant)
	if err != nil {
		return fmt.Errorf("invalid --participant: %w", err)
	}
	scores, err := readScores(cmd)
	if err != nil {
		return err
	}

	rec := newSagaMetrics(metricsFile)
	saga, err := newSaga(assumeYes, rec)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sess, runErr := saga.Start(ctx, issuance.Request{
		EnrollmentID:  enrollmentID,
		ParticipantID: participantID,
		Scores:        scores,
	})
	rec.finish(sess)
	if err := rec.flush(); err != nil {
		fmt.Fprintln(os.Stderr, "warning:", err)
	}
	return report(sess, runErr)
}

// readScores takes scores from --scores when given, otherwise from the
// section flags.
func readScores(cmd *cobra.Command) (certificate.ExamScore, error) {
	if issueScoresFile == "" {
		for _, f := range []string{"listening", "structure", "reading"} {
			if !cmd.Flags().Changed(f) {
				return certificate.ExamScore{}, fmt.Errorf("--%s is required without --scores", f)
			}
		}
		return certificate.ExamScore{
			Listening: issueListening,
			Structure: issueStructure,
			Reading:   issueReading,
		}, nil
	}
	data, err := os.ReadFile(issueScoresFile)
	if err != nil {
		return certificate.ExamScore{}, fmt.Errorf("read scores file: %w", err)
	}
	return certificate.ParseScores(data)
}

// report prints the final state of a session and turns it into the command's
// error.
func report(sess *issuance.Session, runErr error) error {
	var verr *certificate.ValidationError
	if errors.As(runErr, &verr) {
		for field, msg := range verr.Fields {
			fmt.Fprintf(os.Stderr, "  %s: %s\n", field, msg)
		}
		return runErr
	}
	if sess == nil {
		return runErr
	}

	switch p := sess.Phase.(type) {
	case issuance.Succeeded:
		fmt.Printf("Certificate issued.\n")
		fmt.Printf("Session:  %s\n", sess.ID)
		fmt.Printf("Hash:     %s\n", p.Issued.Hash)
		fmt.Printf("Locator:  %s\n", p.Issued.Locator)
		fmt.Printf("Scores:   L%d S%d R%d  total %d\n",
			p.Issued.Scores.Listening, p.Issued.Scores.Structure, p.Issued.Scores.Reading, p.Issued.Scores.Total)
		if p.Warning != nil {
			fmt.Fprintf(os.Stderr, "warning: %v\n", p.Warning)
			if p.Warning.Queued {
				fmt.Fprintln(os.Stderr, "  a reconcile job was queued; run `certctl reconcile` to retry it")
			}
		}
		return nil
	case issuance.Failed:
		fmt.Fprintf(os.Stderr, "Issuance failed (%s): %v\n", p.Kind, p.Err)
		if p.Retryable() {
			fmt.Fprintf(os.Stderr, "The certificate record exists. Resume with:\n  certctl retry %s\n", sess.ID)
		}
		if runErr == nil {
			runErr = p.Err
		}
		return runErr
	}
	return runErr
}

// ── retry ────────────────────────────────────────────────────────────────────

var retryCmd = &cobra.Command{
	Use:   "retry <session-id>",
	Short: "Resume a failed issuance from the anchoring phase",
	Long: `Retry re-signs and re-anchors the (hash, locator) pair a failed session
was issued. Scores are never resubmitted.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid session ID: %w", err)
		}
		rec := newSagaMetrics(metricsFile)
		saga, err := newSaga(assumeYes, rec)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		sess, runErr := saga.Retry(ctx, id)
		if errors.Is(runErr, issuance.ErrSessionNotFound) || errors.Is(runErr, issuance.ErrNotRetryable) {
			return runErr
		}
		rec.finish(sess)
		if err := rec.flush(); err != nil {
			fmt.Fprintln(os.Stderr, "warning:", err)
		}
		return report(sess, runErr)
	},
}

// ── sessions ─────────────────────────────────────────────────────────────────

var sessionsFormat string

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List issuance sessions in the session directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		list, err := sessionStore().List(context.Background())
		if err != nil {
			return err
		}
		if sessionsFormat == "json" {
			return printSessionsJSON(list)
		}
		if len(list) == 0 {
			fmt.Println("No sessions.")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tENROLLMENT\tPHASE\tHASH\tUPDATED\tDETAIL")
		for _, s := range list {
			hash := ""
			if s.Issued != nil {
				hash = s.Issued.Hash
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				s.ID, s.EnrollmentID, s.Phase.Name(), hash, formatTime(s.UpdatedAt), phaseDetail(s.Phase))
		}
		return w.Flush()
	},
}

func init() {
	sessionsCmd.Flags().StringVar(&sessionsFormat, "format", "text", "output format: text or json")
}

func phaseDetail(p issuance.Phase) string {
	switch p := p.(type) {
	case issuance.Failed:
		if p.Retryable() {
			return p.Kind.String() + " (retryable)"
		}
		return p.Kind.String()
	case issuance.Succeeded:
		if p.Warning != nil {
			return "reconcile pending"
		}
	}
	return ""
}

func printSessionsJSON(list []*issuance.Session) error {
	type jsonRow struct {
		ID           string `json:"id"`
		EnrollmentID string `json:"enrollment_id"`
		Phase        string `json:"phase"`
		Hash         string `json:"hash,omitempty"`
		Locator      string `json:"locator,omitempty"`
		Detail       string `json:"detail,omitempty"`
		Error        string `json:"error,omitempty"`
	}
	rows := make([]jsonRow, 0, len(list))
	for _, s := range list {
		r := jsonRow{
			ID:           s.ID.String(),
			EnrollmentID: s.EnrollmentID.String(),
			Phase:        s.Phase.Name(),
			Detail:       phaseDetail(s.Phase),
		}
		if s.Issued != nil {
			r.Hash, r.Locator = s.Issued.Hash, s.Issued.Locator
		}
		if err := s.LastError(); err != nil {
			r.Error = err.Error()
		}
		rows = append(rows, r)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(rows)
}

// ── cancel ───────────────────────────────────────────────────────────────────

var cancelCmd = &cobra.Command{
	Use:   "cancel <session-id>",
	Short: "Discard a session so it can no longer be retried",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid session ID: %w", err)
		}
		// Cancel touches only the session store.
		saga := issuance.New(nil, nil, nil, sessionStore(), issuance.Config{}, logger)
		ctx := context.Background()
		sess, err := saga.Get(ctx, id)
		if err != nil {
			return err
		}
		if !sess.Cancellable() {
			return fmt.Errorf("session %s is %s; only failed or interrupted submitting sessions can be cancelled", id, sess.Phase.Name())
		}
		if err := saga.Cancel(ctx, id); err != nil {
			return err
		}
		fmt.Printf("Session %s discarded.\n", id)
		return nil
	},
}
