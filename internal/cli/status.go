package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/dbgwatch/dbgwatch/internal/api"
	"github.com/dbgwatch/dbgwatch/internal/domain"
	"github.com/dbgwatch/dbgwatch/internal/runstate"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the state of the active session",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	state, err := runstate.Load(runstate.Dir())
	if err != nil {
		if errors.Is(err, domain.ErrStateNotFound) {
			fmt.Println("No active session.")
			return nil
		}
		return err
	}

	fmt.Printf("Session pid:    %d\n", state.PID)
	fmt.Printf("Collector pid:  %d\n", state.CollectorPID)
	fmt.Printf("Log file:       %s\n", state.LogFile)
	fmt.Printf("Started:        %s\n", state.StartedAt.Format(time.RFC3339))

	if state.Host == "" || state.Port == 0 {
		return nil
	}

	// The state file tells us where the session's status API lives;
	// a dead session leaves a stale file, so a failed request is a warning.
	status, err := fetchStatus(state.Host, state.Port)
	if err != nil {
		fmt.Printf("Status API:     unreachable (%v) - session may have crashed\n", err)
		return nil
	}

	fmt.Printf("State:          %s\n", status.State)
	fmt.Printf("Uptime:         %ds\n", status.UptimeSeconds)
	fmt.Printf("Lines seen:     %d\n", status.LinesSeen)
	fmt.Printf("Lines emitted:  %d\n", status.LinesEmitted)
	return nil
}

func fetchStatus(host string, port int) (*api.StatusResponse, error) {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://%s:%d/api/v1/status", host, port))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var status api.StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, err
	}
	return &status, nil
}
