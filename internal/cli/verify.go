package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vietddude/ethmirror/internal/control"
	"github.com/vietddude/ethmirror/internal/indexing/audit"
	"github.com/vietddude/ethmirror/internal/infra/chain"
	"github.com/vietddude/ethmirror/internal/infra/chain/evm"
	"github.com/vietddude/ethmirror/internal/infra/rpc"
	"github.com/vietddude/ethmirror/internal/infra/storage"
)

var (
	verifySample  uint64
	verifyOffline bool
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check the stored chain for gaps, broken links and stale indexes",
	Long: `Walks every block between the first stored height and the checkpoint and
reports missing heights, blocks whose parent hash does not match the block
below, and hash index entries that do not point back at their block.

Unless --offline is set, every --sample-th height and the checkpoint are also
compared with the node. Exits non-zero when anything is wrong.`,
	RunE: runVerify,
}

func init() {
	verifyCmd.Flags().Uint64Var(&verifySample, "sample", 10000, "compare every n-th height with the node")
	verifyCmd.Flags().BoolVar(&verifyOffline, "offline", false, "do not contact the node")
	rootCmd.AddCommand(verifyCmd)
}

func runVerify(cmd *cobra.Command, args []string) error {
	cfg, err := setup()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	store, _, err := control.OpenStore(ctx, cfg.Storage, true, slog.Default())
	if err != nil {
		slog.Error("Failed to open store", "error", err)
		return err
	}
	defer func() {
		_ = store.Close()
	}()

	var node chain.NodeClient
	if !verifyOffline {
		p, err := rpc.Dial(ctx, cfg.Node)
		if err != nil {
			return fmt.Errorf("failed to connect to node (use --offline to skip): %w", err)
		}
		defer func() {
			_ = p.Close()
		}()
		node = evm.NewEVMAdapter(p, slog.Default())
	}

	a := audit.New(audit.Config{Sample: verifySample}, storage.NewRepository(store), node, slog.Default())
	report, err := a.Verify(ctx)
	if errors.Is(err, audit.ErrEmpty) {
		fmt.Println("Nothing to verify: the store holds no blocks.")
		return nil
	}
	if err != nil {
		slog.Error("Verify failed", "error", err)
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	row := func(k string, v any) { _, _ = fmt.Fprintf(w, "%s\t%v\n", k, v) }
	row("RANGE", fmt.Sprintf("%d-%d", report.From, report.To))
	row("BLOCKS", report.Blocks)
	if node != nil {
		row("COMPARED", report.Sampled)
	}
	for _, g := range report.Gaps {
		row("GAP", fmt.Sprintf("%d-%d", g.FromBlock, g.ToBlock))
	}
	for _, b := range report.Breaks {
		row("BROKEN LINK", fmt.Sprintf("%d parent %s, block below is %s", b.Height, b.ParentHash.Hex(), b.Previous.Hex()))
	}
	for _, m := range report.BadIndex {
		row("BAD INDEX", fmt.Sprintf("%d %s", m.Height, m.Stored.Hex()))
	}
	for _, m := range report.NodeDiffs {
		row("NODE DIFFERS", fmt.Sprintf("%d stored %s, node %s", m.Height, m.Stored.Hex(), m.Other.Hex()))
	}
	if c := report.Checkpoint; c != nil {
		row("CHECKPOINT", fmt.Sprintf("block %d is %s, checkpoint says %s", c.Height, c.Stored.Hex(), c.Other.Hex()))
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if !report.OK() {
		return errors.New("store failed verification")
	}
	fmt.Println("OK")
	return nil
}
