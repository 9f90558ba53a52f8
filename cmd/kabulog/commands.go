package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/google/subcommands"

	"kabulog/pkg/analytics"
	"kabulog/pkg/client"
	"kabulog/pkg/kabulog"
)

// stocksCmd lists registered stocks with their scores.
type stocksCmd struct {
	sort    string
	order   string
	wait    bool
	json    bool
	timeout time.Duration
}

func (*stocksCmd) Name() string     { return "stocks" }
func (*stocksCmd) Synopsis() string { return "list registered stocks with metrics and scores" }
func (*stocksCmd) Usage() string {
	return `kabulog stocks [-sort <key>] [-order asc|desc] [-wait] [-json]

  Lists every registered asset. Sort keys: score, code, per, pbr, roe,
  yield, change_percent, market_value. Within the cooldown window the
  last fetched list is shown instead of calling the server.
`
}

func (c *stocksCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.sort, "sort", kabulog.SortByScore, "Sort key")
	f.StringVar(&c.order, "order", "desc", "Sort order: asc or desc")
	f.BoolVar(&c.wait, "wait", false, "Wait for the cooldown instead of failing")
	f.BoolVar(&c.json, "json", false, "Print JSON")
	f.DurationVar(&c.timeout, "timeout", 15*time.Minute, "Give up waiting after this long")
}

func (c *stocksCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	cl, err := newClient()
	if err != nil {
		return failure("loading config", err)
	}
	defer cl.Close()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	res, err := cl.Stocks(ctx, c.sort, kabulog.ParseSortDirection(c.order), c.wait)
	if err != nil {
		return failure("fetching stocks", err)
	}
	if c.json {
		err = writeJSON(os.Stdout, res.Value)
	} else {
		err = writeStocks(os.Stdout, res.Value, res.Stale)
	}
	if err != nil {
		return failure("printing stocks", err)
	}
	return subcommands.ExitSuccess
}

// analysisCmd prints the portfolio analysis.
type analysisCmd struct {
	wait     bool
	json     bool
	holdings bool
	timeout  time.Duration
}

func (*analysisCmd) Name() string     { return "analysis" }
func (*analysisCmd) Synopsis() string { return "show portfolio totals, breakdowns and concentration" }
func (*analysisCmd) Usage() string {
	return `kabulog analysis [-wait] [-json] [-holdings]

  Shows the portfolio aggregate: totals, profit and loss, dividends,
  concentration (HHI) and breakdowns by account, industry and asset class.
`
}

func (c *analysisCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.wait, "wait", false, "Wait for the cooldown instead of failing")
	f.BoolVar(&c.json, "json", false, "Print JSON")
	f.BoolVar(&c.holdings, "holdings", false, "Also list every valued holding")
	f.DurationVar(&c.timeout, "timeout", 15*time.Minute, "Give up waiting after this long")
}

func (c *analysisCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	cl, err := newClient()
	if err != nil {
		return failure("loading config", err)
	}
	defer cl.Close()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	res, err := cl.Analysis(ctx, c.wait)
	if err != nil {
		return failure("fetching analysis", err)
	}
	if c.json {
		err = writeJSON(os.Stdout, res.Value)
	} else {
		err = writeAnalysis(os.Stdout, res.Value, res.Stale)
		if err == nil && c.holdings {
			fmt.Println()
			err = writeHoldings(os.Stdout, res.Value.Holdings)
		}
	}
	if err != nil {
		return failure("printing analysis", err)
	}
	return subcommands.ExitSuccess
}

// historyCmd prints the monthly snapshot totals.
type historyCmd struct {
	json bool
}

func (*historyCmd) Name() string     { return "history" }
func (*historyCmd) Synopsis() string { return "show monthly snapshot totals" }
func (*historyCmd) Usage() string {
	return `kabulog history [-json]

  Lists the recorded monthly snapshots, oldest first.
`
}

func (c *historyCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.json, "json", false, "Print JSON")
}

func (c *historyCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	cl, err := newClient()
	if err != nil {
		return failure("loading config", err)
	}
	defer cl.Close()

	rows, err := cl.History(ctx)
	if err != nil {
		return failure("fetching history", err)
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Month < rows[j].Month })
	if c.json {
		err = writeJSON(os.Stdout, rows)
	} else {
		err = writeHistory(os.Stdout, rows)
	}
	if err != nil {
		return failure("printing history", err)
	}
	return subcommands.ExitSuccess
}

// snapshotCmd records this month's snapshot.
type snapshotCmd struct{}

func (*snapshotCmd) Name() string     { return "snapshot" }
func (*snapshotCmd) Synopsis() string { return "record the current month's portfolio snapshot" }
func (*snapshotCmd) Usage() string {
	return `kabulog snapshot

  Saves every valued holding under the current Tokyo month, replacing an
  earlier snapshot of the same month.
`
}

func (*snapshotCmd) SetFlags(*flag.FlagSet) {}

func (*snapshotCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	cl, err := newClient()
	if err != nil {
		return failure("loading config", err)
	}
	defer cl.Close()

	month, count, err := cl.Snapshot(ctx)
	if err != nil {
		return failure("saving snapshot", err)
	}
	fmt.Printf("Saved %d holdings for %s\n", count, month)
	return subcommands.ExitSuccess
}

// addCmd registers an asset.
type addCmd struct {
	assetType string
}

func (*addCmd) Name() string     { return "add" }
func (*addCmd) Synopsis() string { return "register a stock, fund or US stock by code" }
func (*addCmd) Usage() string {
	return `kabulog add [-type jp_stock|investment_trust|us_stock] <code>

  Registers an asset. Without -type the type is detected from the code.
`
}

func (c *addCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.assetType, "type", "", "Asset type (detected when empty)")
}

func (c *addCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Error: add takes exactly one code")
		return subcommands.ExitUsageError
	}
	cl, err := newClient()
	if err != nil {
		return failure("loading config", err)
	}
	defer cl.Close()

	asset, err := cl.AddStock(ctx, f.Arg(0), c.assetType)
	if err != nil {
		return failure("adding "+f.Arg(0), err)
	}
	fmt.Printf("Added %s %s (%s)\n", asset.Code, asset.Name, asset.AssetType)
	return subcommands.ExitSuccess
}

// holdCmd adds a holding lot to a registered asset.
type holdCmd struct {
	account  string
	broker   string
	quantity string
	price    string
	memo     string
}

func (*holdCmd) Name() string     { return "hold" }
func (*holdCmd) Synopsis() string { return "add a holding to a registered asset" }
func (*holdCmd) Usage() string {
	return `kabulog hold -account <type> -qty <quantity> -price <purchase price> [-broker <name>] [-memo <text>] <code>

  Adds one lot. Fund quantities keep six decimals; stock quantities must
  be whole shares.
`
}

func (c *holdCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.account, "account", "", "Account type, e.g. 特定 or NISA")
	f.StringVar(&c.broker, "broker", "", "Broker name")
	f.StringVar(&c.quantity, "qty", "", "Quantity")
	f.StringVar(&c.price, "price", "", "Purchase price per unit")
	f.StringVar(&c.memo, "memo", "", "Free text memo")
}

func (c *holdCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Error: hold takes exactly one code")
		return subcommands.ExitUsageError
	}
	in, err := c.input()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitUsageError
	}
	cl, err := newClient()
	if err != nil {
		return failure("loading config", err)
	}
	defer cl.Close()

	h, err := cl.AddHolding(ctx, f.Arg(0), in)
	if err != nil {
		return failure("adding holding", err)
	}
	fmt.Printf("Added holding %s: %s x %s (%s)\n", h.ID, h.Quantity.String(), formatMoney(h.PurchasePrice.InexactFloat64(), currencyFor(h.AssetType)), h.AccountType)
	return subcommands.ExitSuccess
}

func (c *holdCmd) input() (kabulog.HoldingInput, error) {
	qty, err := analytics.ParseAmount(c.quantity)
	if err != nil {
		return kabulog.HoldingInput{}, fmt.Errorf("invalid -qty %q", c.quantity)
	}
	price, err := analytics.ParseAmount(c.price)
	if err != nil {
		return kabulog.HoldingInput{}, fmt.Errorf("invalid -price %q", c.price)
	}
	return kabulog.HoldingInput{
		AccountType:   c.account,
		Broker:        c.broker,
		Quantity:      qty,
		PurchasePrice: price,
		Memo:          c.memo,
	}, nil
}

// rulesCmd prints the highlight rules.
type rulesCmd struct {
	json bool
}

func (*rulesCmd) Name() string     { return "rules" }
func (*rulesCmd) Synopsis() string { return "show the highlight rule thresholds" }
func (*rulesCmd) Usage() string {
	return `kabulog rules [-json]

  Prints the thresholds used to score and highlight stocks.
`
}

func (c *rulesCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.json, "json", false, "Print JSON")
}

func (c *rulesCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	cl, err := newClient()
	if err != nil {
		return failure("loading config", err)
	}
	defer cl.Close()

	rules, err := cl.Rules(ctx)
	if err != nil {
		return failure("fetching rules", err)
	}
	if c.json {
		err = writeJSON(os.Stdout, rules)
	} else {
		err = writeRules(os.Stdout, rules)
	}
	if err != nil {
		return failure("printing rules", err)
	}
	return subcommands.ExitSuccess
}

// cooldownCmd shows the local and server refresh gates.
type cooldownCmd struct{}

func (*cooldownCmd) Name() string     { return "cooldown" }
func (*cooldownCmd) Synopsis() string { return "show when data can next be refreshed" }
func (*cooldownCmd) Usage() string {
	return `kabulog cooldown

  Shows the remaining wait of this client's gates and of the server's
  bulk refresh.
`
}

func (*cooldownCmd) SetFlags(*flag.FlagSet) {}

func (*cooldownCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	cl, err := newClient()
	if err != nil {
		return failure("loading config", err)
	}
	defer cl.Close()

	local := cl.LocalCooldown()
	for _, key := range []string{client.KeyStocks, client.KeyAnalysis} {
		fmt.Printf("%-16s %s\n", key, remainingText(local[key]))
	}
	status, err := cl.ServerCooldown(ctx)
	if err != nil {
		return failure("fetching server cooldown", err)
	}
	fmt.Printf("%-16s %s (%s)\n", "server.bulk", remainingText(time.Duration(status.RemainingSeconds)*time.Second), status.State)
	return subcommands.ExitSuccess
}
