package cli

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/intelgate/intelgate/internal/core/config"
	"github.com/intelgate/intelgate/internal/server"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current status of all configured sources",
	Run:   runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	url := fmt.Sprintf("http://localhost:%d/health/detailed", cfg.Server.Port)
	resp, err := client.Get(url)
	if err != nil {
		slog.Error("Failed to reach service", "url", url, "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	var statuses []server.SourceStatus
	if err := json.NewDecoder(resp.Body).Decode(&statuses); err != nil {
		slog.Error("Failed to decode status response", "error", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "SOURCE\tHEALTHY\tERRORS\tTOKENS\tMIN\tHOUR\tDAY\tCAPABILITIES")

	for _, st := range statuses {
		caps := make([]string, 0, len(st.Capabilities))
		for _, c := range st.Capabilities {
			caps = append(caps, string(c))
		}
		_, _ = fmt.Fprintf(w, "%s\t%t\t%d\t%.1f\t%d\t%d\t%d\t%s\n",
			st.Source, st.Healthy, st.ErrorCount, st.Tokens,
			st.MinuteUsed, st.HourUsed, st.DayUsed,
			strings.Join(caps, ","))
	}
	_ = w.Flush()
}
