package cli

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/vietddude/ethmirror/internal/control"
)

var rollbackCmd = &cobra.Command{
	Use:   "rollback <height>",
	Short: "Remove every block above height and move the checkpoint there",
	Long: `Removes every stored block above height, with all of its index entries,
and moves the checkpoint to height in one atomic write. Clears the last halt
record. A height below the first stored block empties the mirror.

Run it with the mirror stopped, typically after a halt on a reorg deeper than
sync.max_reorg_depth.`,
	Args: cobra.ExactArgs(1),
	RunE: runRollback,
}

func init() {
	rootCmd.AddCommand(rollbackCmd)
}

func runRollback(cmd *cobra.Command, args []string) error {
	height, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid height %q: %w", args[0], err)
	}

	cfg, err := setup()
	if err != nil {
		return err
	}
	ctx := context.Background()

	store, _, err := control.OpenStore(ctx, cfg.Storage, false, slog.Default())
	if err != nil {
		slog.Error("Failed to open store", "error", err)
		return err
	}
	defer func() {
		_ = store.Close()
	}()

	res, err := control.Rollback(ctx, store, height, slog.Default())
	if err != nil {
		slog.Error("Rollback failed", "error", err)
		return err
	}

	if res.Cleared {
		fmt.Printf("Removed %d blocks up to %d; the mirror is empty.\n", res.Removed, res.From)
		return nil
	}
	fmt.Printf("Removed %d blocks; checkpoint now at %d (%s).\n",
		res.Removed, res.Checkpoint.LastSyncedHeight, res.Checkpoint.LastSyncedHash.Hex())
	return nil
}
