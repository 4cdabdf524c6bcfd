package explorer

import (
	"context"

	"github.com/brojonat/walletcore/service/transaction"
)

// DefaultMaxPages bounds Paginate when the caller passes no limit.
const DefaultMaxPages = 20

// Paginate walks history pages sequentially, starting at q, until a page
// comes back short or maxPages pages were read. Offset and PageNum advance by
// page; Cursor is set to the last txid of the previous page for cursor-based
// sources. Providers that cannot paginate get exactly one call. Pages read
// before a failure are returned alongside the error.
func Paginate(ctx context.Context, p Provider, q TransactionsQuery, maxPages int) ([]*transaction.Transaction, error) {
	if !p.CanPaginate() {
		return p.GetTransactions(ctx, q)
	}
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}
	if q.Limit <= 0 {
		q.Limit = p.TxLimit()
	}

	var all []*transaction.Transaction
	startOffset, startPage := q.Offset, q.PageNum
	for page := 0; page < maxPages; page++ {
		q.Offset = startOffset + page*q.Limit
		q.PageNum = startPage + page

		txs, err := p.GetTransactions(ctx, q)
		if err != nil {
			return all, err
		}
		all = append(all, txs...)
		if len(txs) < q.Limit {
			break
		}
		q.Cursor = txs[len(txs)-1].TxID()
	}
	if all == nil {
		all = []*transaction.Transaction{}
	}
	return all, nil
}
