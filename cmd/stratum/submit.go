package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/cuemby/stratum/pkg/api"
	"github.com/cuemby/stratum/pkg/client"
	"github.com/cuemby/stratum/pkg/types"
	"github.com/spf13/cobra"
)

var submitCmd = &cobra.Command{
	Use:   "submit COMMAND...",
	Short: "Submit actions to a running server",
	Long: `Submit actions to a server started with "stratum serve". Several
commands are queued together, in order, and none is queued if one fails to
parse.

Examples:
  stratum submit --server 127.0.0.1:9090 "Invert target='layer_1'"
  stratum submit --no-wait "CreateLayer name='base' dims='64,64,32'"
  stratum submit "CreateLayer name='base' dims='8,8,4' pattern='ramp'" "Threshold target='layer_1'"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		server, _ := cmd.Flags().GetString("server")
		noWait, _ := cmd.Flags().GetBool("no-wait")

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		c := client.NewClient(server)
		if len(args) > 1 {
			resps, err := c.SubmitBatch(ctx, args, !noWait)
			if err != nil {
				return fmt.Errorf("submit failed: %v", err)
			}
			failed := 0
			for _, resp := range resps {
				printResponse(resp, noWait)
				if resp.Done && resp.Status != string(types.StatusSuccess) {
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d actions failed", failed, len(resps))
			}
			return nil
		}

		resp, err := c.Submit(ctx, args[0], !noWait)
		if err != nil {
			var apiErr *client.APIError
			if errors.As(err, &apiErr) && apiErr.Action != nil {
				printResponse(*apiErr.Action, false)
			}
			return fmt.Errorf("submit failed: %v", err)
		}
		printResponse(*resp, noWait)
		return nil
	},
}

func printResponse(resp api.ActionResponse, queued bool) {
	switch {
	case queued:
		fmt.Printf("✓ %s queued: %s\n", resp.Action, resp.ID)
		return
	case resp.Status == string(types.StatusSuccess):
		fmt.Printf("✓ %s %s\n", resp.Action, resp.Status)
	default:
		fmt.Printf("✗ %s (%s)\n", resp.Action, resp.Status)
		if resp.Error != "" {
			fmt.Printf("  %s\n", resp.Error)
		}
	}
	for _, m := range resp.Messages {
		fmt.Printf("  %s\n", m)
	}
	if len(resp.Layers) > 0 {
		fmt.Printf("  Layers: %s\n", strings.Join(resp.Layers, ", "))
	}
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the action queue of a running server",
	RunE: func(cmd *cobra.Command, args []string) error {
		server, _ := cmd.Flags().GetString("server")

		st, err := client.NewClient(server).Status(context.Background())
		if err != nil {
			return fmt.Errorf("failed to get status: %v", err)
		}
		state := "idle"
		if st.Busy {
			state = "busy"
		}
		fmt.Printf("Dispatcher: %s (%d pending)\n", state, st.Pending)
		if st.LastCompleted != nil {
			fmt.Printf("Last action: %s\n", st.LastCompleted.Format(time.RFC3339))
		}
		return nil
	},
}

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Follow the events of a running server",
	RunE: func(cmd *cobra.Command, args []string) error {
		server, _ := cmd.Flags().GetString("server")

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return client.NewClient(server).Events(ctx, func(ev api.EventView) error {
			fmt.Printf("%s %-22s %s%s\n", ev.Timestamp.Format("15:04:05.000"), ev.Type, ev.Message, formatMetadata(ev.Metadata))
			return nil
		})
	},
}

func formatMetadata(meta map[string]string) string {
	if len(meta) == 0 {
		return ""
	}
	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%s", k, meta[k])
	}
	return b.String()
}

var layersCmd = &cobra.Command{
	Use:   "layers",
	Short: "List the layers of a running server",
	RunE: func(cmd *cobra.Command, args []string) error {
		server, _ := cmd.Flags().GetString("server")

		groups, err := client.NewClient(server).ListLayers(context.Background())
		if err != nil {
			return fmt.Errorf("failed to list layers: %v", err)
		}
		if len(groups) == 0 {
			fmt.Println("No layers found")
			return nil
		}
		for _, g := range groups {
			fmt.Printf("%s (grid %s)\n", g.ID, g.Grid)
			for _, l := range g.Layers {
				mark := " "
				if l.Active {
					mark = "*"
				}
				fmt.Printf(" %s %-12s %-20s %-6s %-8s prov=%d\n", mark, l.ID, l.Name, l.Kind, l.State, l.ProvenanceID)
			}
		}
		return nil
	},
}

func init() {
	submitCmd.Flags().String("server", "127.0.0.1:9090", "Server address")
	submitCmd.Flags().Bool("no-wait", false, "Return as soon as the action is queued")
	layersCmd.Flags().String("server", "127.0.0.1:9090", "Server address")
	statusCmd.Flags().String("server", "127.0.0.1:9090", "Server address")
	eventsCmd.Flags().String("server", "127.0.0.1:9090", "Server address")

	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(layersCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(eventsCmd)
}
