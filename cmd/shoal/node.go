package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/shoalstore/shoal/pkg/api"
	"github.com/shoalstore/shoal/pkg/authority"
	"github.com/shoalstore/shoal/pkg/client"
	"github.com/shoalstore/shoal/pkg/mapstore"
	"github.com/shoalstore/shoal/pkg/node"
	"github.com/shoalstore/shoal/pkg/storage"
	"github.com/shoalstore/shoal/pkg/transport"
	"github.com/shoalstore/shoal/pkg/types"
)

var nodeCmd = &cobra.Command{
	Use:   "node",
	Short: "Manage the storage node daemon",
}

var nodeFormatCmd = &cobra.Command{
	Use:   "format",
	Short: "Initialize a fresh data directory",
	Long: `Format writes the initial superblock and identity markers into an
empty data directory. A directory is formatted exactly once; the node
identity recorded here is permanent.

Examples:
  # Format with a fresh cluster id (printed for reuse on other nodes)
  shoal node format --data-dir /var/lib/shoal --node-id 0

  # Format into an existing cluster
  shoal node format --data-dir /var/lib/shoal --node-id 3 \
    --cluster-id 2f6f0d8e-41a7-4cbe-9f0c-9a90cfbf63d0`,
	RunE: runNodeFormat,
}

var nodeStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the node daemon",
	Long: `Start mounts the data directory, restores resident placement
groups, and runs the boot protocol against the map authority.

This build runs the authority in-process (standalone mode): the map
history is rebuilt from the node's own stored maps at startup. A clustered
deployment replaces it with a client for the external quorum.`,
	RunE: runNodeStart,
}

var nodeStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show a running node's status",
	RunE:  runNodeStatus,
}

func init() {
	nodeCmd.AddCommand(nodeFormatCmd)
	nodeCmd.AddCommand(nodeStartCmd)
	nodeCmd.AddCommand(nodeStatusCmd)

	nodeFormatCmd.Flags().String("data-dir", "./shoal-data", "Data directory to format")
	nodeFormatCmd.Flags().Int32("node-id", -1, "Authority-assigned node id (required)")
	nodeFormatCmd.Flags().String("cluster-id", "", "Cluster UUID (generated when empty)")
	_ = nodeFormatCmd.MarkFlagRequired("node-id")

	nodeStartCmd.Flags().StringP("config", "c", "", "YAML config file")
	nodeStartCmd.Flags().String("data-dir", "", "Data directory (overrides config)")
	nodeStartCmd.Flags().String("admin-addr", "", "Admin endpoint address (overrides config)")

	nodeStatusCmd.Flags().String("admin-addr", "127.0.0.1:7830", "Admin endpoint address")
	nodeStatusCmd.Flags().Bool("pgs", false, "Also list placement groups")
}

func runNodeFormat(cmd *cobra.Command, args []string) error {
	dataDir, _ := cmd.Flags().GetString("data-dir")
	nodeID, _ := cmd.Flags().GetInt32("node-id")
	clusterFlag, _ := cmd.Flags().GetString("cluster-id")

	clusterID := uuid.New()
	if clusterFlag != "" {
		parsed, err := uuid.Parse(clusterFlag)
		if err != nil {
			return fmt.Errorf("invalid cluster id: %w", err)
		}
		clusterID = parsed
	}

	eng := storage.NewBoltEngine(dataDir)
	sb, err := node.Format(cmd.Context(), eng, node.FormatOptions{
		ClusterID: clusterID,
		NodeID:    types.NodeID(nodeID),
	})
	if err != nil {
		return err
	}

	fmt.Printf("Formatted %s\n", dataDir)
	fmt.Printf("  Cluster ID: %s\n", sb.ClusterID)
	fmt.Printf("  Node:       %s (%s)\n", sb.NodeID, sb.NodeUUID)
	return nil
}

func runNodeStart(cmd *cobra.Command, args []string) error {
	cfg := node.DefaultConfig()
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		loaded, err := node.LoadConfig(path)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if dir, _ := cmd.Flags().GetString("data-dir"); dir != "" {
		cfg.DataDir = dir
	}
	if addr, _ := cmd.Flags().GetString("admin-addr"); addr != "" {
		cfg.AdminAddr = addr
	}
	if cfg.DataDir == "" {
		return fmt.Errorf("a data directory is required (--data-dir or config file)")
	}

	ctx := cmd.Context()
	eng := storage.NewBoltEngine(cfg.DataDir)

	auth, sb, err := rebuildAuthority(ctx, eng)
	if err != nil {
		return err
	}

	fabric := transport.NewFabric()
	handle := auth.NodeClient(sb.NodeID)
	n, err := node.New(cfg, node.Deps{
		Engine:    eng,
		Authority: handle,
		Transport: fabric.Endpoint(sb.NodeID),
	})
	if err != nil {
		return err
	}
	handle.SetSink(n)

	if err := n.Start(ctx); err != nil {
		return err
	}
	fmt.Println("✓ Node started")

	collector := node.NewMetricsCollector(n)
	collector.Start()

	var admin *api.Server
	if cfg.AdminAddr != "" {
		admin = api.NewServer(n)
		if err := admin.Start(cfg.AdminAddr); err != nil {
			stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			_ = n.Stop(stopCtx)
			return fmt.Errorf("admin endpoint: %w", err)
		}
		fmt.Printf("✓ Admin endpoint on %s\n", cfg.AdminAddr)
	}

	fmt.Println("Node is running. Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		fmt.Println("\nShutting down...")
	case <-n.Done():
		if err := n.Err(); err != nil {
			fmt.Fprintf(os.Stderr, "\nNode failed: %v\n", err)
		}
	}

	collector.Stop()
	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if admin != nil {
		_ = admin.Stop(stopCtx)
	}
	if err := n.Stop(stopCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	fmt.Println("✓ Shutdown complete")
	return n.Err()
}

// rebuildAuthority reads the formatted directory's identity and stored map
// history and seeds the in-process authority with them, so a restarted
// standalone deployment resumes at its old epoch instead of forgetting the
// cluster.
func rebuildAuthority(ctx context.Context, eng storage.Engine) (*authority.Standalone, types.Superblock, error) {
	var sb types.Superblock
	if err := eng.Mount(ctx); err != nil {
		return nil, sb, err
	}
	defer func() { _ = eng.Unmount(ctx) }()

	meta := mapstore.New(eng)
	sb, err := meta.LoadSuperblock(ctx)
	if err != nil {
		return nil, sb, fmt.Errorf("data directory: %w (run 'shoal node format' first)", err)
	}

	auth := authority.NewStandalone(sb.ClusterID)
	for e := sb.OldestMap; e != types.EpochNone && e <= sb.NewestMap; e++ {
		full, err := meta.LoadMap(ctx, e)
		if err != nil {
			return nil, sb, err
		}
		if err := auth.Import(full); err != nil {
			return nil, sb, err
		}
	}
	return auth, sb, nil
}

func runNodeStatus(cmd *cobra.Command, args []string) error {
	addr, _ := cmd.Flags().GetString("admin-addr")
	showPGs, _ := cmd.Flags().GetBool("pgs")

	c := client.New(addr)
	st, err := c.Status(cmd.Context())
	if err != nil {
		return err
	}

	fmt.Printf("Node:       %s (%s)\n", st.NodeID, st.NodeUUID)
	fmt.Printf("Cluster:    %s\n", st.ClusterID)
	fmt.Printf("State:      %s\n", st.State)
	fmt.Printf("Epoch:      e%d (stored e%d..e%d, clean through e%d)\n",
		st.Epoch, st.OldestMap, st.NewestMap, st.CleanThru)
	fmt.Printf("PGs:        %d (%d primary)\n", st.PlacementGroups, st.Primaries)
	if st.Degraded {
		fmt.Println("Degraded:   cluster map is missing required features")
	}

	if showPGs {
		stats, err := c.PGs(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Println()
		for _, s := range stats {
			fmt.Printf("  %-12s pool=%-12s e%-6d role=%-2d state=%s\n",
				s.ID, s.Pool, s.Epoch, s.Role, s.Peering.State)
		}
	}
	return nil
}
