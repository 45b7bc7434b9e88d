package main

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/raftkv/pkg/transport"
	"github.com/cuemby/raftkv/pkg/types"
	"github.com/spf13/cobra"
)

var memberCmd = &cobra.Command{
	Use:   "member",
	Short: "Manage cluster membership",
}

var memberListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the current cluster members",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		client := transport.NewGRPCClient(5 * time.Second)
		defer client.Close()

		resp, err := client.Connect(context.Background(), addr, transport.ConnectRequest{})
		if err != nil {
			return fmt.Errorf("raftd: connect to %s: %w", addr, err)
		}

		fmt.Printf("Leader: %s\n", resp.Leader)
		fmt.Println("Members:")
		for _, m := range resp.Members {
			fmt.Printf("  %-16s %-8s %-10s server=%s client=%s\n", m.ID, m.Type, m.Status, m.ServerAddress, m.ClientAddress)
		}
		return nil
	},
}

var memberAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a member to the cluster configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		id, _ := cmd.Flags().GetString("id")
		serverAddr, _ := cmd.Flags().GetString("server-addr")
		clientAddr, _ := cmd.Flags().GetString("client-addr")
		memberType, _ := cmd.Flags().GetString("type")
		if id == "" || serverAddr == "" {
			return fmt.Errorf("raftd: --id and --server-addr are required")
		}

		client := transport.NewGRPCClient(5 * time.Second)
		defer client.Close()

		members, err := currentMembers(client, addr)
		if err != nil {
			return err
		}
		members = append(members, types.Member{
			ID: id, Type: parseMemberType(memberType), ServerAddress: serverAddr, ClientAddress: clientAddr,
		})

		resp, err := client.SendConfigure(context.Background(), addr, transport.ConfigureRequest{Members: members})
		if err != nil {
			return fmt.Errorf("raftd: configure: %w", err)
		}
		fmt.Printf("Configuration updated at index %d, term %d\n", resp.Index, resp.Term)
		return nil
	},
}

var memberRemoveCmd = &cobra.Command{
	Use:   "remove",
	Short: "Remove a member from the cluster configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		id, _ := cmd.Flags().GetString("id")
		if id == "" {
			return fmt.Errorf("raftd: --id is required")
		}

		client := transport.NewGRPCClient(5 * time.Second)
		defer client.Close()

		members, err := currentMembers(client, addr)
		if err != nil {
			return err
		}
		kept := members[:0]
		for _, m := range members {
			if m.ID != id {
				kept = append(kept, m)
			}
		}

		resp, err := client.SendConfigure(context.Background(), addr, transport.ConfigureRequest{Members: kept})
		if err != nil {
			return fmt.Errorf("raftd: configure: %w", err)
		}
		fmt.Printf("Configuration updated at index %d, term %d\n", resp.Index, resp.Term)
		return nil
	},
}

func currentMembers(client *transport.GRPCClient, addr string) ([]types.Member, error) {
	resp, err := client.Connect(context.Background(), addr, transport.ConnectRequest{})
	if err != nil {
		return nil, fmt.Errorf("raftd: connect to %s: %w", addr, err)
	}
	return resp.Members, nil
}

func parseMemberType(s string) types.MemberType {
	switch s {
	case "passive":
		return types.Passive
	case "reserve":
		return types.Reserve
	default:
		return types.Active
	}
}

func init() {
	memberCmd.PersistentFlags().String("addr", "", "Address of a cluster member to contact")
	memberCmd.AddCommand(memberListCmd)
	memberCmd.AddCommand(memberAddCmd)
	memberCmd.AddCommand(memberRemoveCmd)

	memberAddCmd.Flags().String("id", "", "New member's node id")
	memberAddCmd.Flags().String("server-addr", "", "New member's peer address")
	memberAddCmd.Flags().String("client-addr", "", "New member's client address")
	memberAddCmd.Flags().String("type", "active", "New member's type: active, passive, or reserve")

	memberRemoveCmd.Flags().String("id", "", "Member node id to remove")
}
