package signer

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
)

// Approver asks the key holder whether a request may be signed.
// A false result with a nil error is a refusal.
type Approver interface {
	Approve(ctx context.Context, req Request) (bool, error)
}

// ApproveFunc adapts a function to the Approver interface.
type ApproveFunc func(ctx context.Context, req Request) (bool, error)

// Approve implements Approver.
func (f ApproveFunc) Approve(ctx context.Context, req Request) (bool, error) { return f(ctx, req) }

// AutoApprove approves every request. Used by `certctl --yes`.
var AutoApprove Approver = ApproveFunc(func(context.Context, Request) (bool, error) { return true, nil })

// PromptApprover asks on an interactive terminal.
type PromptApprover struct {
	In  io.Reader
	Out io.Writer
}

// Approve implements Approver. Anything other than "y" or "yes" is a refusal.
func (p *PromptApprover) Approve(ctx context.Context, req Request) (bool, error) {
	fmt.Fprintf(p.Out, "Sign anchor transaction?\n  hash:    %s\n  locator: %s\n[y/N]: ", req.Hash, req.Locator)

	type answer struct {
		line string
		err  error
	}
	ch := make(chan answer, 1)
	go func() {
		line, err := bufio.NewReader(p.In).ReadString('\n')
		ch <- answer{line, err}
	}()

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case a := <-ch:
		if a.err != nil && a.err != io.EOF {
			return false, fmt.Errorf("read approval: %w", a.err)
		}
		switch strings.ToLower(strings.TrimSpace(a.line)) {
		case "y", "yes":
			return true, nil
		}
		return false, nil
	}
}
