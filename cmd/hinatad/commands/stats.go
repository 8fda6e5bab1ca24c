package commands

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/notcontrolos/hinata/internal/cli/output"
	"github.com/notcontrolos/hinata/pkg/config"
	"github.com/notcontrolos/hinata/pkg/hinata"
)

var (
	statsOutput  string
	statsAPIPort int
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show daemon statistics",
	Long: `Display statistics from a running hinatad daemon.

This command queries the management API for subsystem counters: allocator
usage, packet registry, storage regions and cache, and the worker pool.

Examples:
  # Show statistics as a table
  hinatad stats

  # Query a custom API port
  hinatad stats --api-port 9080

  # Output as JSON
  hinatad stats --output json`,
	RunE: runStats,
}

func init() {
	statsCmd.Flags().StringVarP(&statsOutput, "output", "o", "table", "Output format (table, json)")
	statsCmd.Flags().IntVar(&statsAPIPort, "api-port", 0, "Management API port (default: from config)")
}

// statsEnvelope matches the management API response wrapper.
type statsEnvelope struct {
	Status string       `json:"status"`
	Error  string       `json:"error"`
	Data   hinata.Stats `json:"data"`
}

func runStats(cmd *cobra.Command, args []string) error {
	port := statsAPIPort
	if port == 0 {
		cfg, err := config.Load(GetConfigFile())
		if err != nil {
			return err
		}
		port = cfg.API.Port
	}

	client := &http.Client{Timeout: 5 * time.Second}
	url := fmt.Sprintf("http://localhost:%d/api/v1/stats", port)

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("daemon not reachable at %s (is it running?): %w", url, err)
	}
	defer resp.Body.Close()

	var envelope statsEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("failed to decode stats response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("stats request failed: %s", envelope.Error)
	}

	format, err := output.ParseFormat(statsOutput)
	if err != nil {
		return err
	}
	if format == output.FormatJSON {
		return output.PrintJSON(os.Stdout, envelope.Data)
	}

	return printStatsTable(envelope.Data)
}

func printStatsTable(s hinata.Stats) error {
	table := output.NewTableData("SUBSYSTEM", "METRIC", "VALUE")

	table.AddRow("memory", "current usage", fmt.Sprintf("%d B", s.Memory.CurrentUsage))
	table.AddRow("memory", "allocations", fmt.Sprintf("%d", s.Memory.AllocCount))
	table.AddRow("memory", "frees", fmt.Sprintf("%d", s.Memory.FreeCount))
	table.AddRow("memory", "oom rejections", fmt.Sprintf("%d", s.Memory.OOMCount))
	table.AddRow("memory", "leaks detected", fmt.Sprintf("%d", s.Memory.LeakCount))
	table.AddRow("memory", "gc runs", fmt.Sprintf("%d", s.Memory.GCRuns))

	table.AddRow("packets", "active", fmt.Sprintf("%d", s.Packets.Active))
	table.AddRow("packets", "created", fmt.Sprintf("%d", s.Packets.Created))
	table.AddRow("packets", "destroyed", fmt.Sprintf("%d", s.Packets.Destroyed))

	table.AddRow("storage", "regions", fmt.Sprintf("%d", s.Storage.Regions))
	table.AddRow("storage", "packets on disk", fmt.Sprintf("%d", s.Storage.Packets))
	table.AddRow("storage", "used bytes", fmt.Sprintf("%d", s.Storage.UsedBytes))
	table.AddRow("storage", "stores", fmt.Sprintf("%d", s.Storage.Stores))
	table.AddRow("storage", "loads", fmt.Sprintf("%d", s.Storage.Loads))
	table.AddRow("storage", "deletes", fmt.Sprintf("%d", s.Storage.Deletes))
	table.AddRow("storage", "cache entries", fmt.Sprintf("%d", s.Storage.Cache.Entries))
	table.AddRow("storage", "cache hits", fmt.Sprintf("%d", s.Storage.Cache.Hits))
	table.AddRow("storage", "cache misses", fmt.Sprintf("%d", s.Storage.Cache.Misses))

	table.AddRow("workers", "pool size", fmt.Sprintf("%d", s.Workers.Workers))
	table.AddRow("workers", "active", fmt.Sprintf("%d", s.Workers.ActiveWorkers))
	table.AddRow("workers", "submitted", fmt.Sprintf("%d", s.Workers.Submitted))
	table.AddRow("workers", "completed", fmt.Sprintf("%d", s.Workers.Completed))
	table.AddRow("workers", "failed", fmt.Sprintf("%d", s.Workers.Failed))
	table.AddRow("workers", "timeouts", fmt.Sprintf("%d", s.Workers.Timeouts))

	return output.PrintTable(os.Stdout, table)
}
