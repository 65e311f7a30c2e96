package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/retrosoft-labs/retrosoft/internal/branding"
	"github.com/retrosoft-labs/retrosoft/internal/config"
	"github.com/spf13/cobra"
)

const statusTimeout = 5 * time.Second

var (
	statusJSON bool
	statusAddr string
)

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Print the worker records as JSON")
	statusCmd.Flags().StringVar(&statusAddr, "addr", "", "Daemon control address (default: control_addr)")
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the state of the daemon's workers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr := statusAddr
		if addr == "" {
			addr = config.Load(config.FilePath()).ControlAddr
		}
		st, raw, err := fetchStatus(cmd.Context(), "http://"+addr+"/status")
		if err != nil {
			return fmt.Errorf("contacting daemon at %s (is `%s run` running?): %w", addr, branding.CLIName(), err)
		}
		if statusJSON {
			fmt.Fprintln(cmd.OutOrStdout(), string(raw))
			return nil
		}
		fmt.Fprintln(cmd.OutOrStdout(), st.Report)
		return nil
	},
}

func fetchStatus(ctx context.Context, url string) (*statusResponse, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, statusTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("User-Agent", branding.UserAgent())
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("reading status: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	var st statusResponse
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, nil, fmt.Errorf("parsing status: %w", err)
	}
	return &st, raw, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
