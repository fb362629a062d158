package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/jmerrifield20/examcert/internal/reconcile"
	"github.com/jmerrifield20/examcert/internal/scoring"
	"github.com/spf13/cobra"
)

var (
	reconcileList        bool
	reconcileMaxAttempts int
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Retry queued reconciliations against the portal",
	Long: `Reconcile drains the local reconcile queue. Jobs are queued when an
issuance anchored its certificate but could not tell the portal; jobs that
are not yet due stay queued.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		q := jobQueue()
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if reconcileList {
			jobs, err := q.List(ctx)
			if err != nil {
				return err
			}
			if len(jobs) == 0 {
				fmt.Println("No queued reconciliations.")
				return nil
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ENROLLMENT\tHASH\tATTEMPTS\tNEXT\tLAST ERROR")
			for _, j := range jobs {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", j.EnrollmentID, j.Hash, j.Attempts, formatTime(j.NextAttempt), j.LastError)
			}
			return w.Flush()
		}

		backend, err := scoringClient()
		if err != nil {
			return err
		}
		worker := reconcile.NewWorker(q, backend, reconcile.Config{
			MaxAttempts: reconcileMaxAttempts,
			IsPermanent: scoring.IsPermanent,
		}, logger)
		counts := map[string]int{}
		worker.SetRecorder(func(outcome string) { counts[outcome]++ })

		done, err := worker.RunOnce(ctx)
		if err != nil {
			return err
		}
		remaining, err := q.List(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Reconciled %d job(s); %d still queued.\n", done, len(remaining))
		for outcome, n := range counts {
			fmt.Printf("  %-10s %d\n", outcome, n)
		}
		return nil
	},
}

func init() {
	reconcileCmd.Flags().BoolVar(&reconcileList, "list", false, "list queued jobs without running them")
	reconcileCmd.Flags().IntVar(&reconcileMaxAttempts, "max-attempts", 10, "attempts before a job is abandoned")
}
