package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/jmerrifield20/examcert/internal/verify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	verifyFormat  string
	verifyURL     string
	verifyTimeout time.Duration
)

var verifyCmd = &cobra.Command{
	Use:   "verify <hash> [hash] ...",
	Short: "Verify one or more certificate anchor hashes",
	Long: `Verify resolves each hash through the ledger and content store and checks
the certificate it finds. By default it asks the portal; use --url to target
the standalone verifier:

  certctl verify --url http://localhost:9091/v1/verify 0x...`,
	Args: cobra.MinimumNArgs(1),
	RunE: runVerify,
}

func init() {
	verifyCmd.Flags().StringVar(&verifyFormat, "format", "text", "output format: text or json")
	verifyCmd.Flags().StringVar(&verifyURL, "url", "", "verify endpoint base (default <portal>/api/v1/verify)")
	verifyCmd.Flags().DurationVar(&verifyTimeout, "timeout", 20*time.Second, "per-hash timeout")
}

type verifyRow struct {
	hash string
	resp *verify.Response
	err  error
}

func runVerify(cmd *cobra.Command, args []string) error {
	base := verifyURL
	if base == "" {
		base = viper.GetString("verify_url")
	}
	if base == "" {
		base = strings.TrimRight(portalURL, "/") + "/api/v1/verify"
	}
	base = strings.TrimRight(base, "/")
	hc := &http.Client{Timeout: verifyTimeout}

	resultsCh := make(chan verifyRow, len(args))
	for _, h := range args {
		go func() {
			resp, err := fetchVerification(context.Background(), hc, base, h)
			resultsCh <- verifyRow{hash: h, resp: resp, err: err}
		}()
	}

	byHash := make(map[string]verifyRow, len(args))
	for range args {
		r := <-resultsCh
		byHash[r.hash] = r
	}
	ordered := make([]verifyRow, len(args))
	for i, h := range args {
		ordered[i] = byHash[h]
	}

	if verifyFormat == "json" {
		return printVerifyJSON(ordered)
	}
	return printVerifyText(ordered)
}

func fetchVerification(ctx context.Context, hc *http.Client, base, hash string) (*verify.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/"+url.PathEscape(hash), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("verify request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read verify response: %w", err)
	}
	var out verify.Response
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("verify endpoint returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return &out, nil
}

func printVerifyJSON(rows []verifyRow) error {
	type jsonRow struct {
		*verify.Response
		Hash  string `json:"hash"`
		Error string `json:"error,omitempty"`
	}
	out := make([]jsonRow, len(rows))
	for i, r := range rows {
		out[i] = jsonRow{Response: r.resp, Hash: r.hash}
		if r.err != nil {
			out[i] = jsonRow{Hash: r.hash, Error: r.err.Error()}
		} else if r.resp.Error != "" {
			out[i].Error = r.resp.Error
		}
	}
	var v any = out
	if len(out) == 1 {
		v = out[0]
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printVerifyText(rows []verifyRow) error {
	if len(rows) == 1 {
		r := rows[0]
		if r.err != nil {
			return fmt.Errorf("verify %q: %w", r.hash, r.err)
		}
		fmt.Printf("Hash:        %s\n", r.resp.Hash)
		fmt.Printf("Outcome:     %s\n", r.resp.Outcome)
		if r.resp.Locator != "" {
			fmt.Printf("Locator:     %s\n", r.resp.Locator)
		}
		if c := r.resp.Certificate; c != nil {
			fmt.Printf("Name:        %s (%s)\n", c.FullName, c.StudentID)
			fmt.Printf("Program:     %s, %s\n", c.Program, c.Faculty)
			fmt.Printf("Exam:        %s on %s\n", c.ServiceName, c.ExamDate)
			fmt.Printf("Scores:      L%d S%d R%d  total %d\n", c.Listening, c.Structure, c.Reading, c.Total)
			fmt.Printf("Issued:      %s\n", formatTime(c.IssuedAt))
		}
		if r.resp.Outcome != verify.Verified {
			if r.resp.Error != "" {
				fmt.Printf("Error:       %s\n", r.resp.Error)
			}
			return fmt.Errorf("certificate not verified: %s", r.resp.Outcome)
		}
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "HASH\tOUTCOME\tNAME\tTOTAL\tERROR")
	for _, r := range rows {
		switch {
		case r.err != nil:
			fmt.Fprintf(w, "%s\t\t\t\t%s\n", r.hash, r.err.Error())
		case r.resp.Certificate != nil:
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t\n", r.hash, r.resp.Outcome, r.resp.Certificate.FullName, r.resp.Certificate.Total)
		default:
			fmt.Fprintf(w, "%s\t%s\t\t\t%s\n", r.hash, r.resp.Outcome, r.resp.Error)
		}
	}
	return w.Flush()
}
