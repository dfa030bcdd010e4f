package indexer

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/vietddude/ethmirror/internal/core/domain"
	"github.com/vietddude/ethmirror/internal/infra/storage"
)

// entry is one key/value derived from a block. raw values are stored as is,
// records go through the codec.
type entry struct {
	key    []byte
	raw    []byte
	record any
}

// walk visits every entry of d in a fixed order. opts selects the optional
// indexes.
func walk(d *BlockData, opts Options, visit func(entry) error) error {
	blk := d.Block
	height := storage.EncodeHeight(blk.Height)

	fixed := []entry{
		{key: storage.BlockKey(blk.Height), record: blk},
		{key: storage.BlockHashKey(blk.Hash), raw: height},
		{key: storage.TimestampKey(blk.Timestamp, blk.Height), raw: height},
	}
	for _, e := range fixed {
		if err := visit(e); err != nil {
			return err
		}
	}

	if err := visitRef(visit, &domain.AddressRef{
		Address:     blk.Miner,
		Kind:        domain.RefMined,
		BlockHeight: blk.Height,
	}); err != nil {
		return err
	}

	for i := range d.Txs {
		tx := &d.Txs[i]
		if err := visit(entry{key: storage.TxKey(tx.Hash), record: tx}); err != nil {
			return err
		}
		for _, ref := range txRefs(tx) {
			if err := visitRef(visit, &ref); err != nil {
				return err
			}
		}
		if tx.To == nil && tx.ContractAddress != nil {
			if err := visit(entry{key: storage.ContractKey(*tx.ContractAddress), raw: tx.Hash.Bytes()}); err != nil {
				return err
			}
		}
	}

	if opts.InternalTransactions {
		for i := range d.Internal {
			itx := &d.Internal[i]
			if err := visit(entry{key: storage.InternalKey(itx.TxHash, itx.Seq), record: itx}); err != nil {
				return err
			}
			for _, ref := range internalRefs(itx) {
				if err := visitRef(visit, &ref); err != nil {
					return err
				}
			}
		}
	}

	if opts.Tokens {
		for i := range d.NewTokens {
			tok := &d.NewTokens[i]
			if err := visit(entry{key: storage.TokenKey(tok.Address), record: tok}); err != nil {
				return err
			}
		}
		for i := range d.Transfers {
			tr := &d.Transfers[i]
			if err := visit(entry{key: storage.TransferKey(tr.BlockHeight, tr.TxIndex, tr.LogIndex), record: tr}); err != nil {
				return err
			}
			// The per-token index only points back at the by-height record.
			if err := visit(entry{key: storage.TokenTransferKey(tr), raw: tr.TxHash.Bytes()}); err != nil {
				return err
			}
			for _, ref := range transferRefs(tr) {
				if err := visitRef(visit, &ref); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func visitRef(visit func(entry) error, ref *domain.AddressRef) error {
	return visit(entry{key: storage.AddressRefKey(ref), record: ref})
}

// txRefs lists the address refs of a top-level transaction. A transaction
// sent to its own sender gets a single self ref; a deployment is indexed
// under the created contract.
func txRefs(tx *domain.Transaction) []domain.AddressRef {
	base := domain.AddressRef{
		Kind:        domain.RefTransaction,
		BlockHeight: tx.BlockHeight,
		TxIndex:     tx.Index,
		TxHash:      tx.Hash,
	}
	receiver, ok := tx.Receiver()
	if ok && receiver == tx.From {
		ref := base
		ref.Address, ref.Direction = tx.From, domain.DirectionSelf
		return []domain.AddressRef{ref}
	}

	out := base
	out.Address, out.Direction = tx.From, domain.DirectionOut
	refs := []domain.AddressRef{out}
	if ok {
		in := base
		in.Address, in.Direction = receiver, domain.DirectionIn
		if tx.To == nil {
			in.Direction = domain.DirectionCreate
		}
		refs = append(refs, in)
	}
	return refs
}

func internalRefs(itx *domain.InternalTransaction) []domain.AddressRef {
	base := domain.AddressRef{
		Kind:        domain.RefInternal,
		BlockHeight: itx.BlockHeight,
		TxIndex:     itx.TxIndex,
		Sub:         itx.Seq,
		TxHash:      itx.TxHash,
	}
	from := base
	from.Address, from.Direction = itx.From, domain.DirectionOut
	refs := []domain.AddressRef{from}
	if itx.To != nil && *itx.To != itx.From {
		to := base
		to.Address, to.Direction = *itx.To, domain.DirectionIn
		refs = append(refs, to)
	} else if itx.To != nil {
		refs[0].Direction = domain.DirectionSelf
	}
	return refs
}

// transferRefs skips the zero address so mints and burns do not pile up
// under it.
func transferRefs(tr *domain.TokenTransfer) []domain.AddressRef {
	base := domain.AddressRef{
		Kind:        domain.RefTokenTransfer,
		BlockHeight: tr.BlockHeight,
		TxIndex:     tr.TxIndex,
		Sub:         tr.LogIndex,
		TxHash:      tr.TxHash,
	}
	var refs []domain.AddressRef
	if tr.From == tr.To && tr.From != (common.Address{}) {
		ref := base
		ref.Address, ref.Direction = tr.From, domain.DirectionSelf
		return append(refs, ref)
	}
	if tr.From != (common.Address{}) {
		ref := base
		ref.Address, ref.Direction = tr.From, domain.DirectionOut
		refs = append(refs, ref)
	}
	if tr.To != (common.Address{}) {
		ref := base
		ref.Address, ref.Direction = tr.To, domain.DirectionIn
		refs = append(refs, ref)
	}
	return refs
}
