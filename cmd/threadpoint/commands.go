package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/threadpoint/threadpoint/pkg/threadpoint"
)

var (
	threadID       string
	includeBackups bool
	olderThan      time.Duration
	maxCheckpoints int
	forceRun       bool
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List a thread's checkpoints",
	Long: `Display a thread's checkpoints newest first, optionally folding backup
copies under the checkpoint they protect.`,
	RunE: runList,
}

var showCmd = &cobra.Command{
	Use:   "show <checkpoint-id>",
	Short: "Show one checkpoint in detail",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show checkpoint statistics",
	Long: `Aggregate counts, sizes, restore activity, and type shares for one
thread or the whole store.`,
	RunE: runStats,
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Sweep expired checkpoints",
	Long: `Delete expired checkpoints under the retention policy, optionally
archiving a thread's old checkpoints first.`,
	RunE: runCleanup,
}

var optimizeCmd = &cobra.Command{
	Use:   "optimize",
	Short: "Optimize a thread's checkpoint storage",
	Long: `Archive old checkpoints, sweep expired ones, trim surplus automatic
checkpoints, and protect important ones with backups.`,
	RunE: runOptimize,
}

func init() {
	rootCmd.AddCommand(listCmd, showCmd, statsCmd, cleanupCmd, optimizeCmd)

	listCmd.Flags().StringVar(&threadID, "thread", "", "Thread whose checkpoints to list")
	listCmd.Flags().BoolVar(&includeBackups, "backups", false, "Fold backup copies under their source checkpoint")
	listCmd.MarkFlagRequired("thread")

	statsCmd.Flags().StringVar(&threadID, "thread", "", "Restrict statistics to one thread (empty = all threads)")

	cleanupCmd.Flags().StringVar(&threadID, "thread", "", "Restrict the sweep to one thread (empty = all threads)")
	cleanupCmd.Flags().DurationVar(&olderThan, "archive-older-than", 0, "Archive the thread's checkpoints older than this first (requires --thread)")
	cleanupCmd.Flags().BoolVarP(&forceRun, "force", "f", false, "Skip confirmation prompt")

	optimizeCmd.Flags().StringVar(&threadID, "thread", "", "Thread whose storage to optimize")
	optimizeCmd.Flags().IntVar(&maxCheckpoints, "max", 0, "Checkpoints to keep before trimming automatic ones (0 = default)")
	optimizeCmd.Flags().DurationVar(&olderThan, "older-than", 0, "Age beyond which checkpoints are archived (0 = default)")
	optimizeCmd.Flags().BoolVarP(&forceRun, "force", "f", false, "Skip confirmation prompt")
	optimizeCmd.MarkFlagRequired("thread")
}

func runList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	rt, err := openRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	entries, err := rt.Timeline(ctx, threadID, includeBackups)
	if err != nil {
		return fmt.Errorf("failed to list checkpoints: %w", err)
	}
	if len(entries) == 0 {
		fmt.Println("No checkpoints found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTYPE\tSTATUS\tCREATED\tRESTORES\tSIZE")
	fmt.Fprintln(w, "--\t----\t------\t-------\t--------\t----")
	total := 0
	for _, entry := range entries {
		printCheckpointRow(w, entry.Checkpoint, "")
		total++
		for _, backup := range entry.Backups {
			printCheckpointRow(w, backup, "  ")
			total++
		}
	}
	w.Flush()

	fmt.Printf("\nTotal checkpoints: %d\n", total)
	return nil
}

func runShow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	rt, err := openRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	cp, err := rt.GetCheckpoint(ctx, args[0])
	if err != nil {
		return fmt.Errorf("failed to load checkpoint: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "ID\t%s\n", cp.ID)
	fmt.Fprintf(w, "Thread\t%s\n", cp.ThreadID)
	fmt.Fprintf(w, "Type\t%s\n", cp.Type)
	fmt.Fprintf(w, "Status\t%s\n", cp.Status)
	fmt.Fprintf(w, "Created\t%s\n", cp.CreatedAt.Format(time.RFC3339))
	if cp.ExpiresAt != nil {
		fmt.Fprintf(w, "Expires\t%s\n", cp.ExpiresAt.Format(time.RFC3339))
	} else {
		fmt.Fprintf(w, "Expires\tnever\n")
	}
	fmt.Fprintf(w, "Size\t%s\n", formatBytes(cp.SizeBytes))
	fmt.Fprintf(w, "Restores\t%d\n", cp.RestoreCount)
	if cp.LastRestoredAt != nil {
		fmt.Fprintf(w, "Last restored\t%s\n", cp.LastRestoredAt.Format(time.RFC3339))
	}
	w.Flush()

	if len(cp.Metadata) > 0 {
		keys := make([]string, 0, len(cp.Metadata))
		for key := range cp.Metadata {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		fmt.Println("\nMetadata:")
		w = tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		for _, key := range keys {
			fmt.Fprintf(w, "  %s\t%v\n", key, cp.Metadata[key])
		}
		w.Flush()
	}
	return nil
}

func runStats(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	rt, err := openRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	stats, err := rt.ComprehensiveStatistics(ctx, threadID)
	if err != nil {
		return fmt.Errorf("failed to compute statistics: %w", err)
	}

	scope := "all threads"
	if threadID != "" {
		scope = "thread " + threadID
	}
	fmt.Printf("Checkpoint statistics (%s)\n\n", scope)

	base := stats.Statistics
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Total\t%d\n", base.Total)
	fmt.Fprintf(w, "Backup copies\t%d\n", stats.BackupCount)
	fmt.Fprintf(w, "Total size\t%s\n", formatBytes(base.Size.TotalBytes))
	fmt.Fprintf(w, "Total restores\t%d\n", base.Restores.TotalRestores)
	fmt.Fprintf(w, "Never restored\t%d\n", base.Restores.NeverRestored)
	w.Flush()

	if len(stats.TypeShare) > 0 {
		fmt.Println("\nBy type:")
		w = tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		for _, typ := range []threadpoint.Type{
			threadpoint.TypeManual, threadpoint.TypeAuto,
			threadpoint.TypeError, threadpoint.TypeMilestone,
		} {
			share, ok := stats.TypeShare[typ]
			if !ok {
				continue
			}
			fmt.Fprintf(w, "  %s\t%d\t%.0f%%\n", typ, base.ByType[typ], share*100)
		}
		w.Flush()
	}

	if len(stats.TopRestored) > 0 {
		fmt.Println("\nMost restored:")
		w = tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		for _, entry := range stats.TopRestored {
			fmt.Fprintf(w, "  %s\t%s\t%d\n", displayID(entry.CheckpointID), entry.ThreadID, entry.Restores)
		}
		w.Flush()
	}
	return nil
}

func runCleanup(cmd *cobra.Command, args []string) error {
	if olderThan > 0 && threadID == "" {
		return fmt.Errorf("--archive-older-than requires --thread")
	}

	ctx := cmd.Context()
	rt, err := openRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	scope := "all threads"
	if threadID != "" {
		scope = "thread " + threadID
	}
	if !forceRun && !confirm(fmt.Sprintf("Sweep expired checkpoints for %s?", scope)) {
		fmt.Println("Aborted.")
		return nil
	}

	if olderThan > 0 {
		archived, err := rt.ArchiveOldCheckpoints(ctx, threadID, olderThan)
		if err != nil {
			return fmt.Errorf("failed to archive old checkpoints: %w", err)
		}
		fmt.Printf("Archived %d checkpoint(s).\n", archived)
	}

	removed, err := rt.CleanupExpiredCheckpoints(ctx, threadID)
	if err != nil {
		return fmt.Errorf("failed to sweep expired checkpoints: %w", err)
	}
	fmt.Printf("Removed %d expired checkpoint(s).\n", removed)
	return nil
}

func runOptimize(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	rt, err := openRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	if !forceRun && !confirm(fmt.Sprintf("Optimize storage for thread %s?", threadID)) {
		fmt.Println("Aborted.")
		return nil
	}

	report, err := rt.OptimizeStorage(ctx, threadID, maxCheckpoints, olderThan)
	if err != nil {
		return fmt.Errorf("failed to optimize storage: %w", err)
	}
	fmt.Printf("Archived %d, removed %d, backed up %d checkpoint(s).\n",
		report.Archived, report.Deleted, report.BackedUp)
	return nil
}

func printCheckpointRow(w io.Writer, cp *threadpoint.Checkpoint, prefix string) {
	fmt.Fprintf(w, "%s%s\t%s\t%s\t%s\t%d\t%s\n",
		prefix,
		displayID(cp.ID),
		cp.Type,
		cp.Status,
		cp.CreatedAt.Format("2006-01-02 15:04:05"),
		cp.RestoreCount,
		formatBytes(cp.SizeBytes),
	)
}

func confirm(prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)
	var response string
	fmt.Scanln(&response)
	return response == "y" || response == "Y"
}

// displayID truncates long checkpoint ids for table display.
func displayID(id string) string {
	if len(id) > 15 {
		return id[:15] + "..."
	}
	return id
}

// formatBytes formats bytes as human-readable string
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
