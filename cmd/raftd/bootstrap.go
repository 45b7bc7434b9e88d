package main

import (
	"fmt"

	"github.com/cuemby/raftkv/pkg/raft"
	"github.com/cuemby/raftkv/pkg/raftconfig"
	"github.com/spf13/cobra"
)

var bootstrapCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "Start a brand-new single-node cluster from a config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		fmt.Printf("Bootstrapping cluster on node %s (%s)\n", cfg.NodeID, cfg.ServerAddress)
		return startServer(cfg, func(s *raft.Server) {
			s.Bootstrap()
		})
	},
}

func init() {
	addConfigFlag(bootstrapCmd)
}

func loadConfig(cmd *cobra.Command) (raftconfig.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		return raftconfig.Config{}, fmt.Errorf("raftd: --config is required")
	}
	return raftconfig.Load(path)
}

func addConfigFlag(cmd *cobra.Command) {
	cmd.Flags().String("config", "", "Path to a raftd.yaml config file")
}
