package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
)

// NewPipelineCmd создаёт группу команд для управления pipelines.
func NewPipelineCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pipeline",
		Short: "Manage pipelines",
	}

	cmd.AddCommand(
		newPipelineListCmd(clientFn, outputFn),
		newPipelineCreateCmd(clientFn, outputFn),
		newPipelineShowCmd(clientFn, outputFn),
		newPipelineUpdateCmd(clientFn, outputFn),
		newPipelineDeleteCmd(clientFn, outputFn),
		newPipelineValidateCmd(clientFn, outputFn),
	)

	return cmd
}

func newPipelineListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List pipelines",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			pipelines, err := client.ListPipelines()
			if err != nil {
				return err
			}

			headers := []string{"ID", "NAME", "STEPS", "CREATED"}
			rows := make([][]string, len(pipelines))
			for i, p := range pipelines {
				rows[i] = []string{p.ID, p.Name, strconv.Itoa(len(p.Steps)), p.CreatedAt}
			}

			out.Print(headers, rows, pipelines)
			return nil
		},
	}
}

func newPipelineCreateCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "create FILE",
		Short: "Create a pipeline from a JSON definition file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			definition, err := readDefinition(args[0])
			if err != nil {
				return err
			}

			pipeline, err := client.CreatePipeline(definition)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Pipeline created: %s", pipeline.ID))
			out.Print(
				[]string{"ID", "NAME", "STEPS", "CREATED"},
				[][]string{{pipeline.ID, pipeline.Name, strconv.Itoa(len(pipeline.Steps)), pipeline.CreatedAt}},
				pipeline,
			)
			return nil
		},
	}
}

func newPipelineShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show pipeline definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			pipeline, err := client.GetPipeline(args[0])
			if err != nil {
				return err
			}

			// Определение всегда выводится как JSON: таблица
			// не передаёт структуру графа.
			out.JSON(pipeline)
			return nil
		},
	}
}

func newPipelineUpdateCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "update ID FILE",
		Short: "Update a pipeline from a JSON definition file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			definition, err := readDefinition(args[1])
			if err != nil {
				return err
			}

			pipeline, err := client.UpdatePipeline(args[0], definition)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Pipeline updated: %s", pipeline.ID))
			return nil
		},
	}
}

func newPipelineDeleteCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			if err := client.DeletePipeline(args[0]); err != nil {
				return err
			}

			out.Success("Pipeline deleted")
			return nil
		},
	}
}

func newPipelineValidateCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "validate FILE",
		Short: "Validate a pipeline definition without saving it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			definition, err := readDefinition(args[0])
			if err != nil {
				return err
			}

			result, err := client.ValidatePipeline(definition)
			if err != nil {
				return err
			}

			printValidation(out, result)
			if !result.Valid {
				return fmt.Errorf("pipeline is invalid")
			}
			return nil
		},
	}
}

// printValidation выводит результат валидации.
func printValidation(out *Output, result *ValidationResultResponse) {
	for _, e := range result.Errors {
		if e.StepID != "" {
			out.Line(fmt.Sprintf("error: step %s: %s", e.StepID, e.Message))
		} else {
			out.Line("error: " + e.Message)
		}
	}
	for _, w := range result.Warnings {
		if w.StepID != "" {
			out.Line(fmt.Sprintf("warning: step %s: %s", w.StepID, w.Message))
		} else {
			out.Line("warning: " + w.Message)
		}
	}
	if result.Valid {
		out.Success("Pipeline is valid")
	}
}

// readDefinition читает и минимально проверяет JSON файл определения.
func readDefinition(path string) (json.RawMessage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read definition file: %w", err)
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("file %s is not valid JSON", path)
	}
	return data, nil
}
