package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/mev-engine/solana-mev-pipeline/pkg/interfaces"
	"github.com/mev-engine/solana-mev-pipeline/pkg/risk"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check pipeline status",
	Long: `Check the current status of a running pipeline: endpoint health, risk
accounting, and whether the stream has degraded to polling.`,
	RunE: runStatus,
}

var (
	jsonOutput bool
	statusAddr string
)

// pipelineStatus mirrors the /status document served by the API.
type pipelineStatus struct {
	Status    string                    `json:"status"`
	Uptime    string                    `json:"uptime"`
	Degraded  bool                      `json:"degraded"`
	Endpoints []interfaces.EndpointInfo `json:"endpoints"`
	Risk      *risk.Snapshot            `json:"risk,omitempty"`
	Timestamp time.Time                 `json:"timestamp"`
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().BoolVarP(&jsonOutput, "json", "j", false, "output in JSON format")
	statusCmd.Flags().StringVar(&statusAddr, "addr", "localhost:8080", "status API address")
}

func runStatus(cmd *cobra.Command, args []string) error {
	status, err := fetchStatus()
	if err != nil {
		return fmt.Errorf("failed to get pipeline status: %w", err)
	}

	if jsonOutput {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(status)
	}
	return printStatus(status)
}

func fetchStatus() (*pipelineStatus, error) {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://%s/status", statusAddr))
	if err != nil {
		// The pipeline may simply not be running.
		return &pipelineStatus{Status: "offline", Timestamp: time.Now()}, nil
	}
	defer resp.Body.Close()

	var status pipelineStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("failed to decode status response: %w", err)
	}
	return &status, nil
}

func printStatus(status *pipelineStatus) error {
	fmt.Println("Pipeline Status")
	fmt.Println("===============")
	fmt.Printf("Status:     %s\n", status.Status)
	if status.Uptime != "" {
		fmt.Printf("Uptime:     %s\n", status.Uptime)
	}
	if status.Degraded {
		fmt.Println("Stream:     DEGRADED (polling fallback)")
	}
	fmt.Printf("Timestamp:  %s\n", status.Timestamp.Format(time.RFC3339))

	if len(status.Endpoints) > 0 {
		fmt.Println("\nEndpoints")
		fmt.Println("---------")
		for _, ep := range status.Endpoints {
			state := "unhealthy"
			if ep.Health.Healthy {
				state = "healthy"
			}
			fmt.Printf("%-16s %-10s latency=%s success=%.2f\n",
				ep.Name, state, ep.Health.Latency, ep.Health.SuccessRate)
		}
	}

	if status.Risk != nil {
		fmt.Println("\nRisk")
		fmt.Println("----")
		fmt.Printf("Balance:              %.4f SOL\n", status.Risk.BalanceSOL)
		fmt.Printf("Spent today:          %.4f SOL\n", status.Risk.DailySpentSOL)
		fmt.Printf("Earned total:         %.4f SOL\n", status.Risk.TotalEarnedSOL)
		fmt.Printf("Consecutive failures: %d\n", status.Risk.ConsecutiveFailures)
		for kind, until := range status.Risk.DisabledStrategies {
			fmt.Printf("Disabled:             %s until %s\n", kind, until.Format(time.RFC3339))
		}
	}
	return nil
}
