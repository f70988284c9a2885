package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/cuemby/stratum/pkg/action"
	"github.com/cuemby/stratum/pkg/actions"
	"github.com/cuemby/stratum/pkg/engine"
	"github.com/cuemby/stratum/pkg/storage"
	"github.com/cuemby/stratum/pkg/types"
	"github.com/spf13/cobra"
)

var replayCmd = &cobra.Command{
	Use:   "replay --prov-id ID",
	Short: "Recreate a layer from its provenance",
	Long: `Rebuild the layer that carried a provenance id by replaying the
recorded steps that produced it in a sandbox, then move the result into
the project. Inputs that still exist are reused.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		pid, _ := cmd.Flags().GetInt64("prov-id")
		if pid < 0 {
			return fmt.Errorf("--prov-id is required")
		}

		eng, err := openEngine(cmd)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		fmt.Printf("Replaying provenance of %d...\n", pid)
		ids, replayErr := eng.Recreate(ctx, types.ProvenanceID(pid))
		if err := closeEngine(eng); err != nil {
			return err
		}
		if replayErr != nil {
			return fmt.Errorf("replay failed: %v", replayErr)
		}
		fmt.Printf("✓ Recreated: %s\n", strings.Join(ids, ", "))
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded provenance steps",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		db, err := storage.OpenProvenanceDB(filepath.Join(cfg.DataDir, engine.ProvenanceDBFile))
		if err != nil {
			return fmt.Errorf("failed to open provenance database: %v", err)
		}
		defer db.Close()

		steps, err := db.LoadSteps()
		if err != nil {
			return err
		}
		if len(steps) == 0 {
			fmt.Println("No provenance recorded")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "STEP\tINPUTS\tOUTPUTS\tUSER\tCOMMAND")
		for _, s := range steps {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
				s.ID, joinIDs(s.Inputs), joinIDs(s.Outputs), s.User, s.Command())
		}
		return w.Flush()
	},
}

var actionsCmd = &cobra.Command{
	Use:   "actions",
	Short: "List the available actions",
	Run: func(cmd *cobra.Command, args []string) {
		reg := action.NewRegistry()
		actions.Register(&actions.Env{Registry: reg})
		for _, name := range reg.Names() {
			fmt.Println(name)
		}
	},
}

func joinIDs(ids []types.ProvenanceID) string {
	if len(ids) == 0 {
		return "-"
	}
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprint(int64(id))
	}
	return strings.Join(parts, ",")
}

func init() {
	replayCmd.Flags().Int64("prov-id", -1, "Provenance id of the layer to recreate")

	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(actionsCmd)
}
