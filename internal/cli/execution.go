package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// NewExecutionCmd создаёт группу команд для управления выполнениями.
func NewExecutionCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "execution",
		Aliases: []string{"exec"},
		Short:   "Manage executions",
	}

	cmd.AddCommand(
		newExecutionListCmd(clientFn, outputFn),
		newExecutionStartCmd(clientFn, outputFn),
		newExecutionShowCmd(clientFn, outputFn),
		newExecutionCancelCmd(clientFn, outputFn),
		newExecutionStepsCmd(clientFn, outputFn),
		newExecutionWatchCmd(clientFn, outputFn),
	)

	return cmd
}

func newExecutionListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var pipelineID string
	var status string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List executions",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			execs, err := client.ListExecutions(ListExecutionsOpts{
				PipelineID: pipelineID,
				Status:     status,
				Limit:      limit,
			})
			if err != nil {
				return err
			}

			headers := []string{"ID", "PIPELINE_ID", "STATUS", "STEPS", "COST", "CREATED"}
			rows := make([][]string, len(execs))
			for i, e := range execs {
				rows[i] = []string{
					e.ID, e.PipelineID, e.Status,
					fmt.Sprintf("%d/%d", e.StepsCompleted, e.TotalSteps),
					fmt.Sprintf("$%.4f", e.TotalCost),
					e.CreatedAt,
				}
			}

			out.Print(headers, rows, execs)
			return nil
		},
	}

	cmd.Flags().StringVar(&pipelineID, "pipeline-id", "", "Filter by pipeline ID")
	cmd.Flags().StringVar(&status, "status", "", "Filter by status (PENDING, RUNNING, COMPLETED, FAILED, CANCELLED)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of results")

	return cmd
}

func newExecutionStartCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var variables []string
	var dryRun bool
	var debug bool
	var watch bool

	cmd := &cobra.Command{
		Use:   "start PIPELINE_ID",
		Short: "Start a new execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			req := ExecuteRequest{DryRun: dryRun, DebugMode: debug}

			if len(variables) > 0 {
				req.Variables = make(map[string]any)
				for _, kv := range variables {
					parts := strings.SplitN(kv, "=", 2)
					if len(parts) != 2 {
						return fmt.Errorf("invalid variable format %q, expected KEY=VALUE", kv)
					}
					req.Variables[parts[0]] = parts[1]
				}
			}

			exec, err := client.StartExecution(args[0], req)
			if err != nil {
				return err
			}

			if dryRun {
				out.Success(fmt.Sprintf("Dry run finished: %s", exec.ID))
				out.JSON(exec.FinalOutput)
				return nil
			}

			out.Success(fmt.Sprintf("Execution started: %s", exec.ID))

			if watch {
				return watchExecution(client, out, exec.ID)
			}

			out.Print(
				[]string{"ID", "PIPELINE_ID", "STATUS", "TOTAL_STEPS", "CREATED"},
				[][]string{{exec.ID, exec.PipelineID, exec.Status, strconv.Itoa(exec.TotalSteps), exec.CreatedAt}},
				exec,
			)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&variables, "var", nil, "Variable values as KEY=VALUE (repeatable)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Validate and estimate cost without executing")
	cmd.Flags().BoolVar(&debug, "debug", false, "Include resolved step inputs in step_started events")
	cmd.Flags().BoolVar(&watch, "watch", false, "Stream events until the execution finishes")

	return cmd
}

func newExecutionShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show execution details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			exec, err := client.GetExecution(args[0])
			if err != nil {
				return err
			}

			out.Print(
				[]string{"ID", "PIPELINE_ID", "STATUS", "STEPS", "COST", "TOKENS", "ERROR"},
				[][]string{{
					exec.ID, exec.PipelineID, exec.Status,
					fmt.Sprintf("%d/%d", exec.StepsCompleted, exec.TotalSteps),
					fmt.Sprintf("$%.4f", exec.TotalCost),
					strconv.Itoa(exec.TotalTokens),
					exec.Error,
				}},
				exec,
			)
			return nil
		},
	}
}

func newExecutionCancelCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel ID",
		Short: "Cancel a running execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			exec, err := client.CancelExecution(args[0])
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Cancellation requested: %s", exec.ID))
			return nil
		},
	}
}

func newExecutionStepsCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "steps EXECUTION_ID",
		Short: "List steps of an execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			steps, err := client.ListExecutionSteps(args[0])
			if err != nil {
				return err
			}

			headers := []string{"STEP_ID", "TYPE", "STATUS", "ATTEMPT", "COST", "TOKENS", "ERROR"}
			rows := make([][]string, len(steps))
			for i, s := range steps {
				rows[i] = []string{
					s.StepID, s.Type, s.Status,
					strconv.Itoa(s.Attempt),
					fmt.Sprintf("$%.4f", s.Cost),
					strconv.Itoa(s.TokensUsed),
					s.Error,
				}
			}

			out.Print(headers, rows, steps)
			return nil
		},
	}
}

func newExecutionWatchCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "watch ID",
		Short: "Stream execution events until it finishes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return watchExecution(clientFn(), outputFn(), args[0])
		},
	}
}

// watchExecution печатает события выполнения по мере поступления.
func watchExecution(client *Client, out *Output, executionID string) error {
	events, err := client.WatchExecution(executionID)
	if err != nil {
		return err
	}

	var failed bool
	for event := range events {
		out.Line(formatEvent(event))
		if event.Type == "failed" {
			failed = true
		}
	}

	if failed {
		return fmt.Errorf("execution failed")
	}
	return nil
}

// formatEvent форматирует событие в одну строку.
func formatEvent(e EventMessage) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%4d] %-14s", e.Seq, e.Type)
	if e.StepID != "" {
		fmt.Fprintf(&b, " %s", e.StepID)
	}
	if e.Attempt > 1 {
		fmt.Fprintf(&b, " (attempt %d)", e.Attempt)
	}
	if e.Cost > 0 {
		fmt.Fprintf(&b, " cost=$%.4f", e.Cost)
	}
	if e.TokensUsed > 0 {
		fmt.Fprintf(&b, " tokens=%d", e.TokensUsed)
	}
	if e.Error != "" {
		fmt.Fprintf(&b, " error=%s", e.Error)
	}
	return b.String()
}
