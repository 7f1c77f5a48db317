package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/eugenetaranov/fleetcmd/internal/logging"
	"github.com/eugenetaranov/fleetcmd/internal/runbook"
)

// runCmd executes a runbook
func (c *cli) runCmd() *cobra.Command {
	var (
		extraVars []string
		dryRun    bool
	)

	cmd := &cobra.Command{
		Use:   "run <runbook.yaml>",
		Short: "Run a runbook",
		Long: `Execute the steps of a runbook in order against the configured cluster.
A failing step stops the run unless it sets ignore_errors.

Step lines and the recap are printed to stdout; with -o json they go to
stderr and stdout receives the JSON run result instead.

Examples:
  fleetcmd run gpu-health.yaml
  fleetcmd run gpu-health.yaml -e partition=gpu -e 'nodes=[gpu-01, gpu-02]'
  fleetcmd run gpu-health.yaml --dry-run`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			if _, err := os.Stat(path); os.IsNotExist(err) {
				return fmt.Errorf("runbook not found: %s", path)
			}

			rb, err := runbook.ParseFile(path)
			if err != nil {
				return err
			}
			if err := runbook.ResolveTools(rb); err != nil {
				return err
			}

			vars, err := parseVars(extraVars)
			if err != nil {
				return err
			}

			exec, err := c.newExecutor()
			if err != nil {
				return err
			}

			progress := c.stdout
			if c.outFormat == "json" {
				progress = c.stderr
			}

			runner := runbook.NewRunner(exec,
				runbook.WithOutput(c.newOutput(progress)),
				runbook.WithRunnerLogger(logging.WithComponent("runbook")),
				runbook.WithVars(vars),
				runbook.WithDryRun(dryRun),
			)

			res, runErr := runner.Run(cmd.Context(), rb)
			if c.outFormat == "json" {
				if err := c.newOutput(c.stdout).JSON(res); err != nil {
					return err
				}
			}
			if runErr != nil {
				return runErr
			}
			if !res.Success {
				return errResultFailed
			}
			return nil
		},
	}

	cmd.Flags().StringArrayVarP(&extraVars, "extra-vars", "e", nil, "Extra variables as key=value (repeatable)")
	cmd.Flags().BoolVarP(&dryRun, "dry-run", "n", false, "Show which steps would run without calling any tool")
	return cmd
}

// validateCmd validates runbooks without running them
func (c *cli) validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <runbook.yaml> [runbook2.yaml ...]",
		Short: "Validate one or more runbooks",
		Long: `Parse and validate runbooks without executing them.

This checks for:
  - Valid YAML syntax
  - Exactly one tool per step
  - Known tool names
  - Step directives (when, register, loop, ignore_errors)

Examples:
  fleetcmd validate gpu-health.yaml
  fleetcmd validate runbooks/*.yaml`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var hasErrors bool

			for _, path := range args {
				if err := validateRunbook(path); err != nil {
					fmt.Fprintf(c.stdout, "FAIL: %s - %v\n", path, err)
					hasErrors = true
				} else {
					fmt.Fprintf(c.stdout, "OK: %s\n", path)
				}
			}

			if hasErrors {
				return fmt.Errorf("one or more runbooks failed validation")
			}

			fmt.Fprintf(c.stdout, "\nAll %d runbook(s) valid.\n", len(args))
			return nil
		},
	}
}

func validateRunbook(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fmt.Errorf("not found")
	}

	rb, err := runbook.ParseFile(path)
	if err != nil {
		return err
	}

	return runbook.ResolveTools(rb)
}
