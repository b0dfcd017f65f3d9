package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
	temporalclient "go.temporal.io/sdk/client"

	"github.com/edvin/sslshop/internal/config"
	"github.com/edvin/sslshop/internal/core"
	"github.com/edvin/sslshop/internal/gogetssl"
	"github.com/edvin/sslshop/internal/logging"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fatalf("failed to load config: %v", err)
	}
	if err := cfg.Validate("certctl"); err != nil {
		fatalf("invalid config: %v", err)
	}
	logger := logging.NewLogger(cfg, "certctl").Level(zerolog.WarnLevel)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	switch os.Args[1] {
	case "auth":
		if len(os.Args) < 3 || os.Args[2] != "clear" {
			fatalf("Usage: certctl auth clear")
		}
		cmdAuthClear(ctx, cfg, logger)
	case "orders":
		if len(os.Args) < 3 || os.Args[2] != "list" {
			fatalf("Usage: certctl orders list [-status s] [-include-san-only] [-json]")
		}
		cmdOrdersList(ctx, cfg, logger, os.Args[3:])
	case "trigger":
		if len(os.Args) < 3 {
			fatalf("Usage: certctl trigger <reconcile|expire|warn|renew>")
		}
		cmdTrigger(ctx, cfg, os.Args[2])
	case "reconcile":
		if len(os.Args) < 3 {
			fatalf("Usage: certctl reconcile <order-id>")
		}
		cmdReconcile(ctx, cfg, os.Args[2])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `Usage: certctl <command> [options]

Commands:
  auth clear                drop the cached certificate authority credential
  orders list               list certificate authority orders
      -status s             only orders in this authority status
      -include-san-only     include SAN add-on orders
      -json                 print JSON instead of a table
  trigger <name>            run a schedule now (reconcile, expire, warn, renew)
  reconcile <order-id>      reconcile one order against the authority`)
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func authorityClient(cfg *config.Config, logger zerolog.Logger) (*gogetssl.Client, func() error) {
	cache, closeCache, err := core.NewCredentialCache(cfg)
	if err != nil {
		fatalf("Error: %v", err)
	}
	return core.NewAuthorityClient(cfg, cache, logger), closeCache
}

func temporalClient(cfg *config.Config) temporalclient.Client {
	opts, err := cfg.TemporalClientOptions()
	if err != nil {
		fatalf("Error: configure temporal TLS: %v", err)
	}
	tc, err := temporalclient.Dial(opts)
	if err != nil {
		fatalf("Error: connect to temporal: %v", err)
	}
	return tc
}

func cmdAuthClear(ctx context.Context, cfg *config.Config, logger zerolog.Logger) {
	client, closeCache := authorityClient(cfg, logger)
	defer closeCache()

	if err := client.ClearCredential(ctx); err != nil {
		fatalf("Error: %v", err)
	}
	fmt.Println("Cached credential cleared.")
}

func cmdOrdersList(ctx context.Context, cfg *config.Config, logger zerolog.Logger, args []string) {
	fs := flag.NewFlagSet("orders list", flag.ExitOnError)
	status := fs.String("status", "", "Only orders in this authority status")
	includeSANOnly := fs.Bool("include-san-only", false, "Include SAN add-on orders")
	asJSON := fs.Bool("json", false, "Print JSON")
	fs.Parse(args)

	client, closeCache := authorityClient(cfg, logger)
	defer closeCache()

	orders, err := client.ListAllOrders(ctx, *status, 100)
	if err != nil {
		fatalf("Error: %v", err)
	}
	if !*includeSANOnly {
		orders = gogetssl.ExcludeSANOnly(orders)
	}
	if err := printOrders(os.Stdout, orders, *asJSON); err != nil {
		fatalf("Error: %v", err)
	}
}

func printOrders(w io.Writer, orders []gogetssl.OrderDetails, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(orders)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ORDER\tSTATUS\tDOMAIN\tVALID TILL\tBASE\tSAN\tWILDCARD SAN")
	for _, o := range orders {
		validTill := "-"
		if t := o.ValidTill.Ptr(); t != nil {
			validTill = t.Format("2006-01-02")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%d\n",
			o.OrderID, o.Status, o.Domain, validTill, o.BaseDomainCount, o.SingleSANCount, o.WildcardSANCount)
	}
	return tw.Flush()
}

func cmdTrigger(ctx context.Context, cfg *config.Config, name string) {
	tc := temporalClient(cfg)
	defer tc.Close()

	if err := core.NewScheduleService(tc, cfg.TemporalTaskQueue).Trigger(ctx, core.Schedules(cfg), name); err != nil {
		fatalf("Error: %v", err)
	}
	fmt.Printf("Triggered %s.\n", name)
}

func cmdReconcile(ctx context.Context, cfg *config.Config, orderID string) {
	tc := temporalClient(cfg)
	defer tc.Close()

	if err := core.NewWorkflowStarter(tc, cfg.TemporalTaskQueue).StartReconcile(ctx, orderID); err != nil {
		fatalf("Error: %v", err)
	}
	fmt.Printf("Reconcile started for order %s.\n", orderID)
}
