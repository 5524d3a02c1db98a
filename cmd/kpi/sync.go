// ABOUTME: CLI commands for the Charm-synced storage backend.
// ABOUTME: Supports link, unlink, status, now, repair, reset, and wipe operations.
package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/charmbracelet/charm/kv"
	"github.com/fatih/color"
	"github.com/harperreed/kpi/internal/charm"
	"github.com/harperreed/kpi/internal/storage"
	"github.com/spf13/cobra"
)

// noStorage marks commands that manage the charm database themselves.
var noStorage = map[string]string{"storage": "none"}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Sync KPI data across devices with Charm",
	Long: `Sync KPI data across devices using Charm Cloud.

Data is E2E encrypted with your SSH key before upload. Select the charm
backend with "backend": "charm" in the config file, KPI_BACKEND=charm, or
'kpi migrate --to charm --switch'.

GETTING STARTED:

  1. Link your device (creates/uses SSH key automatically):
     kpi sync link

  2. Copy existing data and make charm the default backend:
     kpi migrate --to charm --switch

  3. On other devices, link with the same Charm account:
     kpi sync link

COMMANDS:

  link        Link this device to your Charm account
  unlink      Disconnect this device from Charm
  status      Show sync status and account info
  now         Pull and push changes immediately
  repair      Repair database corruption (checkpoints WAL, removes SHM, vacuums)
  reset       Reset local data and restore from cloud (destructive)
  wipe        Delete cloud and local data (destructive)

Data syncs automatically after each write.`,
}

var syncLinkCmd = &cobra.Command{
	Use:         "link",
	Short:       "Link this device to Charm",
	Annotations: noStorage,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := runCharm("link"); err != nil {
			return fmt.Errorf("failed to link: %w\n\nMake sure 'charm' CLI is installed: go install github.com/charmbracelet/charm@latest", err)
		}
		color.Green("\n✓ Device linked to Charm")

		client, err := charm.Open(charm.DefaultDBName)
		if err != nil {
			color.Yellow("⚠ Initial sync failed: %v", err)
			return nil
		}
		defer func() { _ = client.Close() }()
		if err := client.Sync(); err != nil {
			color.Yellow("⚠ Initial sync failed: %v", err)
		} else {
			color.Green("✓ Initial sync complete")
		}
		return nil
	},
}

var syncUnlinkCmd = &cobra.Command{
	Use:         "unlink",
	Short:       "Disconnect from Charm",
	Annotations: noStorage,
	Long: `Disconnect this device from Charm.

This does not delete your local KPI data.
You can link again later with 'kpi sync link'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := runCharm("unlink"); err != nil {
			return fmt.Errorf("failed to unlink: %w", err)
		}
		color.Green("✓ Device unlinked from Charm")
		return nil
	},
}

var syncStatusCmd = &cobra.Command{
	Use:         "status",
	Short:       "Show sync status",
	Annotations: noStorage,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := charm.Open(charm.DefaultDBName)
		if err != nil {
			color.Yellow("Charm database unavailable: %v", err)
			fmt.Fprintln(cmd.OutOrStdout(), "\nRun 'kpi sync link' to connect to Charm.")
			return nil
		}
		defer func() { _ = client.Close() }()

		id, err := client.ID()
		if err != nil {
			color.Yellow("Not linked to Charm")
			fmt.Fprintln(cmd.OutOrStdout(), "\nRun 'kpi sync link' to connect to Charm.")
			return nil
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "Charm ID:", id)
		fmt.Fprintln(out, "Server:", serverHost())
		if client.IsReadOnly() {
			color.Yellow("⚠ Read-only: another kpi process holds the database lock")
		}
		fmt.Fprintln(out)

		data, err := storage.GetAllData(context.Background(), storage.NewKVStore(client))
		if err != nil {
			return err
		}
		color.Green("✓ Connected to Charm")
		fmt.Fprintf(out, "  Categories: %d\n", len(data.Categories))
		fmt.Fprintf(out, "  Metrics:    %d\n", len(data.Metrics))
		fmt.Fprintf(out, "  Values:     %d\n", len(data.Values))
		return nil
	},
}

var syncNowCmd = &cobra.Command{
	Use:         "now",
	Short:       "Sync immediately",
	Annotations: noStorage,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := charm.Open(charm.DefaultDBName)
		if err != nil {
			return err
		}
		defer func() { _ = client.Close() }()
		if client.IsReadOnly() {
			return storage.ErrReadOnly
		}
		if err := client.Sync(); err != nil {
			return fmt.Errorf("sync failed: %w", err)
		}
		color.Green("✓ Synced with %s", serverHost())
		return nil
	},
}

var syncRepairCmd = &cobra.Command{
	Use:         "repair",
	Short:       "Repair database corruption",
	Annotations: noStorage,
	Long: `Repair database corruption by checkpointing WAL, removing SHM files, checking integrity, and vacuuming.

Use this when you encounter database lock errors or corruption.
Run with --force to attempt recovery even if integrity checks fail.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")

		fmt.Println("Repairing kpi database...")
		result, err := kv.Repair(charm.DefaultDBName, force)

		if result.WalCheckpointed {
			color.Green("  ✓ WAL checkpointed")
		}
		if result.ShmRemoved {
			color.Green("  ✓ SHM file removed")
		}
		if result.IntegrityOK {
			color.Green("  ✓ Integrity check passed")
		} else {
			color.Red("  ✗ Integrity check failed")
		}
		if result.Vacuumed {
			color.Green("  ✓ Database vacuumed")
		}

		if err != nil {
			if !force {
				color.Yellow("\nRun with --force to attempt recovery.")
			}
			return fmt.Errorf("repair failed: %w", err)
		}
		color.Green("\n✓ Repair complete")
		return nil
	},
}

var syncResetCmd = &cobra.Command{
	Use:         "reset",
	Short:       "Reset local data and restore from cloud",
	Annotations: noStorage,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println("This will DELETE all local KPI data and restore from cloud.")
		fmt.Print("Continue? [y/N]: ")
		var confirm string
		_, _ = fmt.Scanln(&confirm)
		if confirm != "y" && confirm != "Y" {
			fmt.Println("Canceled.")
			return nil
		}

		if err := kv.Reset(charm.DefaultDBName); err != nil {
			return fmt.Errorf("reset failed: %w", err)
		}
		color.Green("✓ Local data reset and restored from cloud")
		return nil
	},
}

var syncWipeCmd = &cobra.Command{
	Use:         "wipe",
	Short:       "Delete all cloud and local data",
	Annotations: noStorage,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println("This will PERMANENTLY DELETE all cloud backups and local KPI data.")
		fmt.Print("Type 'wipe' to confirm: ")
		var confirm string
		_, _ = fmt.Scanln(&confirm)
		if confirm != "wipe" {
			fmt.Println("Canceled.")
			return nil
		}

		result, err := kv.Wipe(charm.DefaultDBName)
		if err != nil {
			return fmt.Errorf("wipe failed: %w", err)
		}
		color.Green("✓ Data wiped successfully")
		fmt.Printf("  Cloud backups deleted: %d\n", result.CloudBackupsDeleted)
		fmt.Printf("  Local files deleted: %d\n", result.LocalFilesDeleted)
		return nil
	},
}

func runCharm(args ...string) error {
	c := exec.Command("charm", args...)
	c.Stdin = os.Stdin
	c.Stdout = os.Stdout
	c.Stderr = os.Stderr
	return c.Run()
}

func serverHost() string {
	if host := os.Getenv("CHARM_HOST"); host != "" {
		return host
	}
	return charm.DefaultHost
}

func init() {
	syncRepairCmd.Flags().Bool("force", false, "Attempt recovery even if integrity checks fail")

	syncCmd.AddCommand(syncLinkCmd, syncUnlinkCmd, syncStatusCmd, syncNowCmd,
		syncRepairCmd, syncResetCmd, syncWipeCmd)
	rootCmd.AddCommand(syncCmd)
}
