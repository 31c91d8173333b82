// Command orchestratorctl is a standalone administrative CLI over the
// coordination engine, for operators who want to bootstrap a project,
// create tasks, or record decisions without going through an agent's
// JSON-RPC session.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/alexpekarovsky/orchestrator/internal/config"
	"github.com/alexpekarovsky/orchestrator/internal/orchestrator"
	"github.com/alexpekarovsky/orchestrator/internal/policy"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type ctlOptions struct {
	root       string
	policyPath string
	source     string
}

func newRootCmd() *cobra.Command {
	opts := &ctlOptions{}

	root := &cobra.Command{
		Use:   "orchestratorctl",
		Short: "Administrative CLI for the orchestrator's coordination engine",
	}
	root.PersistentFlags().StringVar(&opts.root, "root", envOrDefault(config.RootEnv, "."), "project root directory")
	root.PersistentFlags().StringVar(&opts.policyPath, "policy", envOrDefault(config.PolicyEnv, ""), "path to the policy document")
	root.PersistentFlags().StringVar(&opts.source, "source", "", "acting agent id (defaults to the policy manager)")

	root.AddCommand(newBootstrapCmd(opts))
	root.AddCommand(newCreateTaskCmd(opts))
	root.AddCommand(newListTasksCmd(opts))
	root.AddCommand(newIngestReportCmd(opts))
	root.AddCommand(newValidateCmd(opts))
	root.AddCommand(newDecideArchitectureCmd(opts))
	return root
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func loadEngine(opts *ctlOptions) (*orchestrator.Engine, string, error) {
	if opts.root != "" {
		os.Setenv(config.RootEnv, opts.root)
	}
	if opts.policyPath != "" {
		os.Setenv(config.PolicyEnv, opts.policyPath)
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, "", fmt.Errorf("load config: %w", err)
	}
	pol, err := policy.Load(cfg.PolicyPath)
	if err != nil {
		return nil, "", fmt.Errorf("load policy: %w", err)
	}
	source := opts.source
	if source == "" {
		source = pol.Manager
	}
	return orchestrator.New(cfg, pol), source, nil
}

func printJSON(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintln(os.Stderr, "encode result:", err)
		return
	}
	fmt.Println(string(data))
}

func newBootstrapCmd(opts *ctlOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "bootstrap",
		Short: "Initialize state and bus artifacts under the project root",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, _, err := loadEngine(opts)
			if err != nil {
				return err
			}
			if err := engine.Bootstrap(); err != nil {
				return err
			}
			roles, err := engine.GetRoles()
			if err != nil {
				return err
			}
			fmt.Printf("bootstrapped with leader %q\n", roles.Leader)
			return nil
		},
	}
}

func newCreateTaskCmd(opts *ctlOptions) *cobra.Command {
	var title, workstream, owner string
	var accept []string

	cmd := &cobra.Command{
		Use:   "create-task",
		Short: "Create and assign a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, source, err := loadEngine(opts)
			if err != nil {
				return err
			}
			result, err := engine.CreateTask(orchestrator.CreateTaskInput{
				Source: source, Title: title, Workstream: workstream,
				AcceptanceCriteria: accept, Owner: owner,
			})
			if err != nil {
				return err
			}
			printJSON(result)
			return nil
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "task title (required)")
	cmd.Flags().StringVar(&workstream, "workstream", "", "workstream: backend|frontend|qa|devops|default (required)")
	cmd.Flags().StringArrayVar(&accept, "accept", nil, "acceptance criterion (repeatable)")
	cmd.Flags().StringVar(&owner, "owner", "", "explicit owner override")
	cmd.MarkFlagRequired("title")
	cmd.MarkFlagRequired("workstream")
	return cmd
}

func newListTasksCmd(opts *ctlOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list-tasks",
		Short: "List all tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, _, err := loadEngine(opts)
			if err != nil {
				return err
			}
			tasks, err := engine.ListTasks()
			if err != nil {
				return err
			}
			printJSON(tasks)
			return nil
		},
	}
}

func newIngestReportCmd(opts *ctlOptions) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "ingest-report",
		Short: "Ingest an agent report JSON file",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("read report file: %w", err)
			}
			var report orchestrator.ReportPayload
			if err := json.Unmarshal(data, &report); err != nil {
				return fmt.Errorf("parse report file: %w", err)
			}
			engine, _, err := loadEngine(opts)
			if err != nil {
				return err
			}
			queued, task, err := engine.SubmitReport(report)
			if err != nil {
				return err
			}
			printJSON(map[string]any{"queued_for_retry": queued, "task": task})
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "path to report JSON (required)")
	cmd.MarkFlagRequired("file")
	return cmd
}

func newValidateCmd(opts *ctlOptions) *cobra.Command {
	var taskID string
	var pass bool
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Record a validation result for a reported task",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, source, err := loadEngine(opts)
			if err != nil {
				return err
			}
			task, err := engine.ValidateTask(source, taskID, pass)
			if err != nil {
				return err
			}
			printJSON(task)
			return nil
		},
	}
	cmd.Flags().StringVar(&taskID, "task-id", "", "task id (required)")
	cmd.Flags().BoolVar(&pass, "pass", false, "mark the task as passing validation")
	cmd.MarkFlagRequired("task-id")
	return cmd
}

func newDecideArchitectureCmd(opts *ctlOptions) *cobra.Command {
	var title, votesJSON string
	var options []string
	cmd := &cobra.Command{
		Use:   "decide-architecture",
		Short: "Record an architecture decision vote",
		RunE: func(cmd *cobra.Command, args []string) error {
			votes := map[string]string{}
			if votesJSON != "" {
				if err := json.Unmarshal([]byte(votesJSON), &votes); err != nil {
					return fmt.Errorf("parse --votes: %w", err)
				}
			}
			engine, source, err := loadEngine(opts)
			if err != nil {
				return err
			}
			decision, err := engine.DecideArchitecture(orchestrator.ArchitectureDecisionInput{
				Source: source, Title: title, Options: options, Votes: votes,
			})
			if err != nil {
				return err
			}
			printJSON(decision)
			return nil
		},
	}
	cmd.Flags().StringVar(&title, "topic", "", "decision topic (required)")
	cmd.Flags().StringArrayVar(&options, "options", nil, "option string (repeatable)")
	cmd.Flags().StringVar(&votesJSON, "votes", "{}", `JSON object: {"agent":"option", ...}`)
	cmd.MarkFlagRequired("topic")
	cmd.MarkFlagRequired("options")
	return cmd
}
