package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/avi3tal/stepflow/internal/execution"
	"github.com/avi3tal/stepflow/internal/types"
	"github.com/avi3tal/stepflow/internal/validate"
	"github.com/avi3tal/stepflow/pkg/workflow"
)

func newValidateCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "validate FILE",
		Short: "Report validation issues of a workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := g.engine(cmd, args[0])
			if err != nil {
				return err
			}
			defer e.Close()

			res := e.Validate()
			printIssues(cmd.OutOrStdout(), res)
			if !res.IsValid() {
				return errors.Wrapf(ErrInvalid, "%d error(s)", len(res.Errors()))
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
}

func printIssues(w io.Writer, res validate.Result) {
	for _, issue := range res.Issues {
		fmt.Fprintf(w, "%-7s %s: %s\n", issue.Severity, issue.ID, issue.Message)
	}
}

func newRunCmd(g *globals) *cobra.Command {
	var (
		autoApprove bool
		runID       string
	)
	cmd := &cobra.Command{
		Use:   "run FILE",
		Short: "Run a workflow to completion",
		Long: `Run a workflow with the built-in step executors. Approval gates ask on
stdin unless --auto-approve is set. Prompt steps call OpenAI when
OPENAI_API_KEY or model.apiKey is set and pass their input through otherwise.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := g.engine(cmd, args[0])
			if err != nil {
				return err
			}
			defer e.Close()

			if res := e.Validate(); !res.IsValid() {
				printIssues(cmd.ErrOrStderr(), res)
				return errors.Wrapf(ErrInvalid, "%d error(s)", len(res.Errors()))
			}

			// run events arrive from executor goroutines
			out := &lockedWriter{w: cmd.OutOrStdout()}
			e.SubscribeRun(func(ev execution.Event) {
				if ev.Kind != execution.EventNode {
					return
				}
				n, _ := e.Node(ev.NodeID)
				fmt.Fprintf(out, "%-13s %s\n", ev.NodeStatus, n.Label)
			})

			approve := workflow.AutoApprove
			if !autoApprove {
				approve = promptApprover(cmd.InOrStdin(), out)
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			snap, err := e.Run(ctx, runID, approve)
			fmt.Fprintf(out, "run %s %s\n", snap.RunID, snap.Status)
			if err != nil {
				return err
			}
			for _, n := range e.Nodes() {
				if n.StepType != types.StepEnd {
					continue
				}
				if st := snap.NodeStates[n.ID]; st.Status == types.NodeSuccess {
					fmt.Fprintf(out, "%s: %v\n", n.Label, st.Output)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&autoApprove, "auto-approve", false, "approve every approval gate")
	cmd.Flags().StringVar(&runID, "run-id", "", "run id (default: generated)")
	return cmd
}

type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

// promptApprover asks on r for every approval request. Answers starting
// with "y" approve; anything else rejects with the answer as reason.
func promptApprover(r io.Reader, w io.Writer) workflow.Approver {
	in := bufio.NewReader(r)
	return func(_ context.Context, req types.PendingApprovalRequest) types.ApprovalResponse {
		fmt.Fprintf(w, "%s\n  data: %v\n  approve? [y/N]: ", req.PromptMessage, req.DataToReview)
		line, err := in.ReadString('\n')
		line = strings.TrimSpace(line)
		if err != nil && line == "" {
			return types.ApprovalResponse{Action: types.ApprovalReject, Reason: "no answer"}
		}
		if strings.HasPrefix(strings.ToLower(line), "y") {
			return types.ApprovalResponse{Action: types.ApprovalApprove}
		}
		return types.ApprovalResponse{Action: types.ApprovalReject, Reason: line}
	}
}

func newExportCmd(g *globals) *cobra.Command {
	var (
		format string
		output string
	)
	cmd := &cobra.Command{
		Use:   "export FILE",
		Short: "Convert a workflow between JSON and YAML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := g.engine(cmd, args[0])
			if err != nil {
				return err
			}
			defer e.Close()

			data, err := e.Export(format)
			if err != nil {
				return err
			}
			if output == "" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			return errors.Wrap(os.WriteFile(output, data, 0o644), "write export")
		},
	}
	cmd.Flags().StringVar(&format, "format", "json", "output format: json or yaml")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default: stdout)")
	return cmd
}

func newGraphCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "graph FILE",
		Short: "Print the nodes and edges of a workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := g.engine(cmd, args[0])
			if err != nil {
				return err
			}
			defer e.Close()
			e.Print(cmd.OutOrStdout())
			return nil
		},
	}
}
