package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/brojonat/walletcore/service/coin"
	"github.com/brojonat/walletcore/service/explorer"
	"github.com/brojonat/walletcore/service/transaction"
	"github.com/brojonat/walletcore/service/units"
	"github.com/itchyny/gojq"
	"github.com/urfave/cli/v2"
)

func providersCommand() *cli.Command {
	return &cli.Command{
		Name:  "providers",
		Usage: "List the loaded explorers and the usages they serve",
		Action: withRuntime(setupOptions{}, func(c *cli.Context, rt *runtime) error {
			usages := make(map[string][]string)
			for _, u := range rt.registry.Usages() {
				for _, p := range rt.registry.Providers(u) {
					usages[p.ID()] = append(usages[p.ID()], string(u))
				}
			}

			type row struct {
				ID       string   `json:"id"`
				Class    string   `json:"className"`
				BaseURL  string   `json:"baseUrl"`
				Paginate bool     `json:"canPaginate"`
				Usages   []string `json:"usages"`
			}
			var rows []row
			for _, p := range rt.registry.Explorers() {
				cfg := p.Config()
				rows = append(rows, row{ID: p.ID(), Class: p.Name(), BaseURL: cfg.BaseURL, Paginate: p.CanPaginate(), Usages: usages[p.ID()]})
			}

			if c.Bool("json") {
				return outputJSON(c.App.Writer, rows)
			}
			w := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tCLASS\tBASE URL\tPAGINATE\tUSAGES")
			for _, r := range rows {
				fmt.Fprintf(w, "%s\t%s\t%s\t%v\t%s\n", r.ID, r.Class, r.BaseURL, r.Paginate, strings.Join(r.Usages, ","))
			}
			return w.Flush()
		}),
	}
}

func balanceCommand() *cli.Command {
	return &cli.Command{
		Name:      "balance",
		Usage:     "Show the balance of an address",
		ArgsUsage: "<address>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "token", Aliases: []string{"t"}, Usage: "Configured token ticker"},
		},
		Action: withRuntime(setupOptions{}, func(c *cli.Context, rt *runtime) error {
			if err := requireArgs(c, "address"); err != nil {
				return err
			}
			address := c.Args().First()

			var (
				info     *explorer.Info
				ticker   = rt.coinCfg.Ticker
				decimals = rt.coinCfg.Decimals
				err      error
			)
			if token := c.String("token"); token != "" {
				asset, ok := rt.coin.Token(token)
				if !ok {
					return fmt.Errorf("unknown token %q", token)
				}
				ticker, decimals = asset.Ticker, asset.Decimals
				info, err = rt.coin.TokenBalance(c.Context, address, token)
			} else {
				info, err = rt.coin.Balance(c.Context, address)
			}
			if err != nil {
				return err
			}

			minimal, err := units.ParseMinimal(info.Balance)
			if err != nil {
				return fmt.Errorf("failed to parse balance %q: %w", info.Balance, err)
			}
			amount := units.ToCurrency(minimal, decimals)

			if c.Bool("json") {
				return outputJSON(c.App.Writer, map[string]string{
					"address": address,
					"ticker":  ticker,
					"balance": amount,
					"minimal": info.Balance,
				})
			}
			fmt.Fprintf(c.App.Writer, "%s %s\n", amount, ticker)
			return nil
		}),
	}
}

func historyCommand() *cli.Command {
	return &cli.Command{
		Name:      "history",
		Usage:     "List transactions of an address",
		ArgsUsage: "<address>",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Usage: "Page size (0 uses the explorer's default)"},
			&cli.IntFlag{Name: "offset", Usage: "Offset of the first transaction"},
			&cli.IntFlag{Name: "pages", Usage: "Walk this many pages (paginating explorers only)", Value: 1},
			&cli.StringFlag{Name: "token", Aliases: []string{"t"}, Usage: "Configured token ticker"},
			&cli.BoolFlag{Name: "cached", Usage: "Read from the history store instead of the explorers"},
			&cli.StringFlag{Name: "jq", Usage: "jq filter applied to the JSON transaction list"},
		},
		Action: withRuntime(setupOptions{}, func(c *cli.Context, rt *runtime) error {
			if err := requireArgs(c, "address"); err != nil {
				return err
			}
			address := c.Args().First()

			var filter *gojq.Code
			if src := c.String("jq"); src != "" {
				query, err := gojq.Parse(src)
				if err != nil {
					return fmt.Errorf("failed to parse jq filter %q: %w", src, err)
				}
				filter, err = gojq.Compile(query)
				if err != nil {
					return fmt.Errorf("failed to compile jq filter %q: %w", src, err)
				}
			}

			q := explorer.TransactionsQuery{
				Address: address,
				Limit:   c.Int("limit"),
				Offset:  c.Int("offset"),
			}

			var (
				txs []*transaction.Transaction
				err error
			)
			switch {
			case c.Bool("cached"):
				if rt.store == nil {
					return errNoStore
				}
				txs, err = rt.coin.CachedHistory(c.Context, address, c.Int("limit"))
			case c.String("token") != "":
				txs, err = rt.coin.TokenHistory(c.Context, q, c.String("token"))
			case c.Int("pages") > 1:
				txs, err = rt.coin.HistoryPages(c.Context, q, c.Int("pages"))
			default:
				txs, err = rt.coin.History(c.Context, q)
			}
			if err != nil {
				return err
			}

			if filter != nil {
				return runFilter(c.App.Writer, filter, txs)
			}
			if c.Bool("json") {
				return outputJSON(c.App.Writer, txs)
			}
			return printTransactions(c.App.Writer, txs)
		}),
	}
}

// runFilter prints every output of filter applied to the JSON form of v.
func runFilter(w io.Writer, filter *gojq.Code, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var input any
	if err := json.Unmarshal(raw, &input); err != nil {
		return err
	}

	iter := filter.Run(input)
	for {
		out, ok := iter.Next()
		if !ok {
			return nil
		}
		if err, isErr := out.(error); isErr {
			return fmt.Errorf("jq filter failed: %w", err)
		}
		line, err := gojq.Marshal(out)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, string(line))
	}
}

func printTransactions(out io.Writer, txs []*transaction.Transaction) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TXID\tDIR\tAMOUNT\tFEE\tCONFS\tSTATUS\tDATETIME\tOTHER SIDE")
	for _, tx := range txs {
		dir := "out"
		if tx.Incoming() {
			dir = "in"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			tx.TxID(),
			dir,
			tx.Amount(),
			tx.Fee(),
			tx.Confirmations(),
			tx.Status().Text,
			tx.DateTime().Format(time.RFC3339),
			tx.OtherSideAddress(),
		)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(out, "\nTotal: %d transactions\n", len(txs))
	return nil
}

func txCommand() *cli.Command {
	return &cli.Command{
		Name:      "tx",
		Usage:     "Show one transaction as seen from an address",
		ArgsUsage: "<address> <txid>",
		Action: withRuntime(setupOptions{}, func(c *cli.Context, rt *runtime) error {
			if err := requireArgs(c, "address", "txid"); err != nil {
				return err
			}
			tx, err := rt.coin.Transaction(c.Context, c.Args().Get(0), c.Args().Get(1))
			if err != nil {
				return err
			}

			if c.Bool("json") {
				return outputJSON(c.App.Writer, tx)
			}
			if err := printTransactions(c.App.Writer, []*transaction.Transaction{tx}); err != nil {
				return err
			}
			if link := rt.coin.TxWebURL(tx.TxID()); link != "" {
				fmt.Fprintf(c.App.Writer, "Link: %s\n", link)
			}
			return nil
		}),
	}
}

func utxoCommand() *cli.Command {
	return &cli.Command{
		Name:      "utxo",
		Usage:     "List unspent outputs of an address",
		ArgsUsage: "<address>",
		Action: withRuntime(setupOptions{}, func(c *cli.Context, rt *runtime) error {
			if err := requireArgs(c, "address"); err != nil {
				return err
			}
			utxos, err := rt.coin.UnspentOutputs(c.Context, c.Args().First())
			if err != nil {
				return err
			}

			if c.Bool("json") {
				return outputJSON(c.App.Writer, utxos)
			}
			w := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TXID\tVOUT\tVALUE\tCONFS")
			for _, u := range utxos {
				fmt.Fprintf(w, "%s\t%d\t%s\t%d\n", u.TxID, u.Vout, u.Value, u.Confirmations)
			}
			return w.Flush()
		}),
	}
}

func blockCommand() *cli.Command {
	return &cli.Command{
		Name:      "block",
		Usage:     "Show the latest block, or one block by hash or height",
		ArgsUsage: "[hash|height]",
		Action: withRuntime(setupOptions{}, func(c *cli.Context, rt *runtime) error {
			var (
				block *explorer.Block
				err   error
			)
			switch arg := c.Args().First(); {
			case arg == "":
				block, err = rt.coin.LatestBlock(c.Context)
			default:
				q := explorer.BlockQuery{Hash: arg}
				if height, perr := strconv.ParseUint(arg, 10, 64); perr == nil {
					q = explorer.BlockQuery{Height: &height}
				}
				block, err = rt.coin.Block(c.Context, q)
			}
			if err != nil {
				return err
			}
			if block == nil {
				return fmt.Errorf("the node explorer does not expose blocks")
			}

			if c.Bool("json") {
				return outputJSON(c.App.Writer, block)
			}
			fmt.Fprintf(c.App.Writer, "Height: %d\n", block.Height)
			fmt.Fprintf(c.App.Writer, "Hash:   %s\n", block.Hash)
			if !block.Time.IsZero() {
				fmt.Fprintf(c.App.Writer, "Time:   %s\n", block.Time.Format(time.RFC3339))
			}
			return nil
		}),
	}
}

func sendCommand() *cli.Command {
	return &cli.Command{
		Name:      "send",
		Usage:     "Broadcast a signed raw transaction",
		ArgsUsage: "<raw-tx>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "to", Usage: "Recipient, recorded on the provisional transaction"},
			&cli.StringFlag{Name: "amount", Usage: "Amount sent, recorded on the provisional transaction"},
			&cli.StringFlag{Name: "fee", Usage: "Fee paid, recorded on the provisional transaction"},
		},
		Action: withRuntime(setupOptions{}, func(c *cli.Context, rt *runtime) error {
			if err := requireArgs(c, "raw-tx"); err != nil {
				return err
			}
			res, err := rt.coin.Send(c.Context, c.Args().First())
			if err != nil {
				return err
			}

			tx, err := rt.coin.ProvisionalTransaction(res, coin.Outgoing{
				To:     c.String("to"),
				Amount: c.String("amount"),
				Fee:    c.String("fee"),
			})
			if err != nil {
				return err
			}

			if c.Bool("json") {
				return outputJSON(c.App.Writer, map[string]any{
					"txid":        res.TxID,
					"link":        rt.coin.TxWebURL(res.TxID),
					"provisional": tx,
				})
			}
			fmt.Fprintf(c.App.Writer, "Broadcast %s\n", res.TxID)
			if link := rt.coin.TxWebURL(res.TxID); link != "" {
				fmt.Fprintf(c.App.Writer, "Link: %s\n", link)
			}
			return nil
		}),
	}
}

func snapshotCommand() *cli.Command {
	return &cli.Command{
		Name:      "snapshot",
		Usage:     "Fetch balance and history of an address and its tokens concurrently",
		ArgsUsage: "<address>",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{Name: "token", Aliases: []string{"t"}, Usage: "Configured token ticker (repeatable)"},
		},
		Action: withRuntime(setupOptions{}, func(c *cli.Context, rt *runtime) error {
			if err := requireArgs(c, "address"); err != nil {
				return err
			}
			snap, err := rt.coin.Snapshot(c.Context, c.Args().First(), c.StringSlice("token")...)
			if err != nil {
				rt.logger.Warn("snapshot incomplete", "error", err)
			}
			if encErr := outputJSON(c.App.Writer, snap); encErr != nil {
				return encErr
			}
			return err
		}),
	}
}

func feesCommand() *cli.Command {
	return &cli.Command{
		Name:  "fees",
		Usage: "Show the fee settings of the coin config",
		Action: withRuntime(setupOptions{}, func(c *cli.Context, rt *runtime) error {
			fees := rt.coin.FeeData()
			if fees == nil {
				fees = map[string]any{}
			}
			return outputJSON(c.App.Writer, fees)
		}),
	}
}

func pruneCommand() *cli.Command {
	return &cli.Command{
		Name:  "prune",
		Usage: "Delete stored transactions older than a cutoff",
		Flags: []cli.Flag{
			&cli.DurationFlag{Name: "older-than", Usage: "Age cutoff", Value: 30 * 24 * time.Hour},
		},
		Action: withRuntime(setupOptions{}, func(c *cli.Context, rt *runtime) error {
			if rt.store == nil {
				return errNoStore
			}
			deleted, err := rt.store.DeleteTransactionsOlderThan(c.Context, time.Now().Add(-c.Duration("older-than")))
			if err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "Deleted %d transactions\n", deleted)
			return nil
		}),
	}
}
