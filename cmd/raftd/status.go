package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cuemby/raftkv/pkg/metrics"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report role, term, commit index and replication lag for one node",
	Long: `status reads a node's own /status endpoint rather than calling through
the client RPC plane: term, commit index and per-follower replication lag
are internal consensus bookkeeping that Connect/Query/Command deliberately
never expose to remote clients, only to the node's own operator tooling.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("metrics-addr")

		httpClient := &http.Client{Timeout: 5 * time.Second}
		resp, err := httpClient.Get(fmt.Sprintf("http://%s/status", addr))
		if err != nil {
			return fmt.Errorf("raftd: fetch status from %s: %w", addr, err)
		}
		defer resp.Body.Close()

		var report metrics.StatusReport
		if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
			return fmt.Errorf("raftd: decode status: %w", err)
		}

		fmt.Printf("Node:          %s\n", report.NodeID)
		fmt.Printf("Role:          %s\n", report.Role)
		fmt.Printf("Term:          %d\n", report.Term)
		fmt.Printf("Last log index: %d\n", report.LastLogIndex)
		fmt.Printf("Commit index:   %d\n", report.CommitIndex)
		fmt.Printf("Applied index:  %d\n", report.AppliedIndex)
		fmt.Printf("Open sessions:  %d\n", report.OpenSessions)
		if report.SnapshotAge != "" {
			fmt.Printf("Snapshot age:   %s\n", report.SnapshotAge)
		}
		fmt.Printf("Members:        %v\n", report.Members)
		if len(report.ReplicationLag) > 0 {
			fmt.Println("Replication lag:")
			for follower, lag := range report.ReplicationLag {
				fmt.Printf("  %-16s %d\n", follower, lag)
			}
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().String("metrics-addr", "127.0.0.1:9090", "Address of the node's metrics/health listener")
}
