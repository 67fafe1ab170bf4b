package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/subcommands"

	"stockdesk/internal/dispatch"
	"stockdesk/internal/gateway"
	"stockdesk/internal/registry"
	"stockdesk/internal/store/sqlite"
)

const oneShotTimeout = 60 * time.Second

// ---- login ----

type loginCmd struct{}

func (*loginCmd) Name() string     { return "login" }
func (*loginCmd) Synopsis() string { return "checks the configured credentials against the API" }
func (*loginCmd) Usage() string {
	return `stockdesk login

Issues a token with APP_KEY / SECRET_KEY (or app_key / secret_key from the
config file), prints the session status and revokes the token again.
`
}
func (*loginCmd) SetFlags(*flag.FlagSet) {}

func (*loginCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	cfg, err := loadConfig(true)
	if err != nil {
		fail(err)
		return subcommands.ExitFailure
	}
	a, err := newApp(cfg, false)
	if err != nil {
		fail(err)
		return subcommands.ExitFailure
	}
	defer a.close()

	ctx, cancel := context.WithTimeout(ctx, oneShotTimeout)
	defer cancel()

	if err := a.login(ctx); err != nil {
		fail(err)
		return subcommands.ExitFailure
	}
	printJSON(a.sessions.Session().Info())
	if _, err := a.sessions.Revoke(ctx, a.sessions.Session()); err != nil {
		fail(err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

// ---- refresh ----

type refreshCmd struct {
	market string
}

func (*refreshCmd) Name() string     { return "refresh" }
func (*refreshCmd) Synopsis() string { return "reloads the local instrument table from the API" }
func (*refreshCmd) Usage() string {
	return `stockdesk refresh [-market 0]

Logs in, fetches the instrument list and replaces the local table with it.
`
}

func (c *refreshCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.market, "market", "0", "market type (mrkt_tp) to list")
}

func (c *refreshCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	cfg, err := loadConfig(true)
	if err != nil {
		fail(err)
		return subcommands.ExitFailure
	}
	a, err := newApp(cfg, false)
	if err != nil {
		fail(err)
		return subcommands.ExitFailure
	}
	defer a.close()

	ctx, cancel := context.WithTimeout(ctx, oneShotTimeout)
	defer cancel()

	if err := a.login(ctx); err != nil {
		fail(err)
		return subcommands.ExitFailure
	}
	defer a.sessions.Revoke(context.WithoutCancel(ctx), a.sessions.Session())

	res, err := a.svc.Dispatcher().Dispatch(ctx, registry.InstrumentListID, map[string]any{"mrkt_tp": c.market}, a.sessions.Session())
	if err != nil {
		fail(err)
		return subcommands.ExitFailure
	}
	n, err := a.store.Count(ctx)
	if err != nil {
		fail(err)
		return subcommands.ExitFailure
	}
	fmt.Printf("stored %d instruments (cont-yn=%q)\n", n, res.ContYN)
	return subcommands.ExitSuccess
}

// ---- search ----

type searchCmd struct {
	limit int
}

func (*searchCmd) Name() string { return "search" }
func (*searchCmd) Synopsis() string {
	return "searches the local instrument table by code or name prefix"
}
func (*searchCmd) Usage() string {
	return `stockdesk search [-limit n] <prefix>

Prints instruments whose code or name starts with prefix. No network access.
`
}

func (c *searchCmd) SetFlags(f *flag.FlagSet) {
	f.IntVar(&c.limit, "limit", sqlite.DefaultSearchLimit, "maximum number of rows")
}

func (c *searchCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "Error: a search prefix is required.")
		return subcommands.ExitUsageError
	}
	cfg, err := loadConfig(false)
	if err != nil {
		fail(err)
		return subcommands.ExitFailure
	}
	a, err := newApp(cfg, false)
	if err != nil {
		fail(err)
		return subcommands.ExitFailure
	}
	defer a.close()

	rows, err := a.store.Search(ctx, strings.Join(f.Args(), " "), c.limit)
	if err != nil {
		fail(err)
		return subcommands.ExitFailure
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	for _, r := range rows {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.Code, r.Name, r.MarketName, r.LastPrice)
	}
	w.Flush()
	return subcommands.ExitSuccess
}

// ---- query ----

type queryCmd struct {
	contYN  string
	nextKey string
}

func (*queryCmd) Name() string     { return "query" }
func (*queryCmd) Synopsis() string { return "logs in and runs one query" }
func (*queryCmd) Usage() string {
	return `stockdesk query [-cont-yn Y -next-key K] <queryId|alias> [field=value ...]

Runs one registered query and prints its result as JSON, e.g.
  stockdesk query stockInfo stk_cd=005930
`
}

func (c *queryCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.contYN, "cont-yn", "", "continuation flag from a previous page")
	f.StringVar(&c.nextKey, "next-key", "", "continuation key from a previous page")
}

func (c *queryCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "Error: a query id or alias is required.")
		return subcommands.ExitUsageError
	}
	args, err := parseFields(f.Args()[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitUsageError
	}
	if c.contYN != "" {
		args[dispatch.KeyContYN] = c.contYN
	}
	if c.nextKey != "" {
		args[dispatch.KeyNextKey] = c.nextKey
	}

	cfg, err := loadConfig(true)
	if err != nil {
		fail(err)
		return subcommands.ExitFailure
	}
	a, err := newApp(cfg, false)
	if err != nil {
		fail(err)
		return subcommands.ExitFailure
	}
	defer a.close()

	ctx, cancel := context.WithTimeout(ctx, oneShotTimeout)
	defer cancel()

	if err := a.login(ctx); err != nil {
		fail(err)
		return subcommands.ExitFailure
	}
	defer a.sessions.Revoke(context.WithoutCancel(ctx), a.sessions.Session())

	if err := a.invoke(ctx, f.Arg(0), args); err != nil {
		fail(err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

// parseFields turns field=value arguments into a payload.
func parseFields(in []string) (map[string]any, error) {
	out := make(map[string]any, len(in))
	for _, kv := range in {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("expected field=value, got %q", kv)
		}
		out[k] = v
	}
	return out, nil
}

// ---- endpoints ----

type endpointsCmd struct {
	asJSON bool
}

func (*endpointsCmd) Name() string     { return "endpoints" }
func (*endpointsCmd) Synopsis() string { return "lists the registered queries" }
func (*endpointsCmd) Usage() string {
	return `stockdesk endpoints [-json]
`
}

func (c *endpointsCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.asJSON, "json", false, "print as JSON")
}

func (c *endpointsCmd) Execute(context.Context, *flag.FlagSet, ...interface{}) subcommands.ExitStatus {
	list := gateway.Endpoints(registry.Default())
	if c.asJSON {
		printJSON(list)
		return subcommands.ExitSuccess
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tALIAS\tPATH\tREQUIRED\tTITLE")
	for _, ep := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", ep.QueryID, ep.Alias, ep.Path, strings.Join(ep.RequiredFields, ","), ep.Title)
	}
	w.Flush()
	return subcommands.ExitSuccess
}
