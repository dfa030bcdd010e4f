package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/ethmirror/internal/control"
	"github.com/vietddude/ethmirror/internal/infra/chain"
	"github.com/vietddude/ethmirror/internal/infra/chain/evm"
	"github.com/vietddude/ethmirror/internal/infra/rpc"
)

var noNode bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the checkpoint, last halt and lag behind the node",
	Long: `Reads the checkpoint straight from the store. With the pebble driver the
store cannot be opened while a mirror is running; use /health/detailed then.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&noNode, "offline", false, "do not contact the node")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := setup()
	if err != nil {
		return err
	}
	ctx := context.Background()

	store, _, err := control.OpenStore(ctx, cfg.Storage, true, slog.Default())
	if err != nil {
		slog.Error("Failed to open store", "error", err)
		return err
	}
	defer func() {
		_ = store.Close()
	}()

	var node chain.NodeClient
	if !noNode {
		p, err := rpc.Dial(ctx, cfg.Node)
		if err != nil {
			slog.Warn("Failed to connect to node", "error", err)
		} else {
			defer func() {
				_ = p.Close()
			}()
			node = evm.NewEVMAdapter(p, slog.Default())
		}
	}

	st, err := control.Inspect(ctx, store, node, cfg.Sync.Confirmations, cfg.Sync.StartHeight)
	if err != nil {
		slog.Error("Failed to read status", "error", err)
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	row := func(k string, v any) { _, _ = fmt.Fprintf(w, "%s\t%v\n", k, v) }

	row("STORE", cfg.Storage.Location())
	switch {
	case !st.Initialized:
		row("CHECKPOINT", "none (never synced)")
	case !st.State.HasBlocks:
		row("CHECKPOINT", fmt.Sprintf("empty, next height %d", st.State.NextHeight(cfg.Sync.StartHeight)))
	default:
		row("LAST SYNCED", st.State.LastSyncedHeight)
		row("LAST HASH", st.State.LastSyncedHash.Hex())
		row("UPDATED", st.State.UpdatedAt.Format(time.RFC3339))
	}
	if st.FirstBlock != nil {
		row("FIRST BLOCK", *st.FirstBlock)
	}
	if st.Initialized {
		row("INDEXES", fmt.Sprintf("internal=%v tokens=%v", st.State.InternalTransactions, st.State.Tokens))
	}
	switch {
	case st.ChainTip != nil:
		row("CHAIN TIP", *st.ChainTip)
		row("TARGET", st.Target)
		row("LAG", st.Lag)
	case st.NodeError != nil:
		row("CHAIN TIP", "unavailable: "+st.NodeError.Error())
	}
	if h := st.LastHalt; h != nil {
		row("LAST HALT", fmt.Sprintf("%s at %d (%s): %s", h.Reason, h.Height, h.CreatedAt.Format(time.RFC3339), h.Error))
	}
	return w.Flush()
}
