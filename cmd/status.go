package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/civitas-labs/strategist/internal/monitor"
)

var statusAddr string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show provider health and active alerts from a running server",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := &http.Client{Timeout: 10 * time.Second}

		req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, statusAddr+"/metrics", nil)
		if err != nil {
			return eris.Wrap(err, "build metrics request")
		}
		resp, err := client.Do(req)
		if err != nil {
			return eris.Wrap(err, "fetch metrics")
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return eris.Errorf("metrics endpoint returned %d", resp.StatusCode)
		}

		var snap monitor.Snapshot
		if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
			return eris.Wrap(err, "decode metrics response")
		}

		printSnapshot(os.Stdout, snap)
		return nil
	},
}

func init() {
	statusCmd.Flags().StringVar(&statusAddr, "addr", "http://localhost:8080", "server base URL")
	rootCmd.AddCommand(statusCmd)
}

func printSnapshot(out *os.File, snap monitor.Snapshot) {
	fmt.Fprintf(out, "collected at %s\n\n", snap.CollectedAt.Format(time.RFC3339))

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PROVIDER\tCIRCUIT\tERROR RATE\tAVAILABILITY\tSCORE")
	for _, p := range snap.Providers {
		fmt.Fprintf(w, "%s\t%s\t%.2f\t%.2f\t%.3f\n",
			p.Provider, p.CircuitState, p.ErrorRate, p.Availability, p.Score)
	}
	w.Flush()

	if len(snap.Alerts) == 0 {
		fmt.Fprintln(out, "\nno active alerts")
		return
	}

	fmt.Fprintf(out, "\n%d active alert(s):\n", len(snap.Alerts))
	for _, a := range snap.Alerts {
		fmt.Fprintf(out, "  [%s] %s: %s (value %.3f)\n", a.Severity, a.RuleName, a.Message, a.Value)
	}
}
