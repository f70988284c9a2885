package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/cuemby/stratum/pkg/engine"
	"github.com/cuemby/stratum/pkg/types"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run [COMMAND...]",
	Short: "Run actions from a script file or the command line",
	Long: `Run actions against the saved project and save the result.

Each action is dispatched and waited for before the next one is posted.
The run stops at the first action that fails.

Examples:
  # Run a script
  stratum run -f segment.yaml

  # Run single commands
  stratum run "CreateLayer name='base' dims='64,64,32' pattern='ramp'" \
              "Threshold target='layer_1' lower='0.5' upper='1'"

  # Undo the last action
  stratum run Undo`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringP("file", "f", "", "YAML script to run")

	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	filename, _ := cmd.Flags().GetString("file")
	if filename == "" && len(args) == 0 {
		return fmt.Errorf("either --file or at least one command is required")
	}

	script := &engine.Script{Kind: engine.ScriptKind}
	if filename != "" {
		data, err := os.ReadFile(filename)
		if err != nil {
			return fmt.Errorf("failed to read file: %v", err)
		}
		if script, err = engine.ParseScript(data); err != nil {
			return err
		}
	}
	for _, c := range args {
		script.Spec.Actions = append(script.Spec.Actions, engine.ScriptStep{Command: c})
	}

	eng, err := openEngine(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	results, runErr := eng.RunScript(ctx, script)
	for _, r := range results {
		mark := "✓"
		if r.Status != types.StatusSuccess {
			mark = "✗"
		}
		fmt.Printf("%s %s\n", mark, r.Command)
		if len(r.Layers) > 0 {
			fmt.Printf("  Layers: %s\n", strings.Join(r.Layers, ", "))
		}
	}

	if err := closeEngine(eng); err != nil {
		return err
	}
	if runErr != nil {
		return runErr
	}
	fmt.Printf("✓ %d action(s) completed\n", len(results))
	return nil
}
