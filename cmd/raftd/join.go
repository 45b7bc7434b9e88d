package main

import (
	"fmt"

	"github.com/cuemby/raftkv/pkg/raft"
	"github.com/spf13/cobra"
)

var joinCmd = &cobra.Command{
	Use:   "join",
	Short: "Join this node to an existing cluster through a seed address",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		seed, _ := cmd.Flags().GetString("seed")
		if seed == "" {
			return fmt.Errorf("raftd: --seed is required")
		}

		fmt.Printf("Joining cluster via seed %s as node %s (%s)\n", seed, cfg.NodeID, cfg.ServerAddress)
		return startServer(cfg, func(s *raft.Server) {
			s.Join(seed)
		})
	},
}

func init() {
	addConfigFlag(joinCmd)
	joinCmd.Flags().String("seed", "", "Address of an existing cluster member to join through")
}
