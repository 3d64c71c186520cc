package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"

	"oidcprovider/internal/app"
	"oidcprovider/internal/config"
	"oidcprovider/internal/lib/logger"
	"oidcprovider/internal/services/keys"
)

const usage = `usage: keyctl [-config path] [-timeout d] <command>

commands:
  rotate   generate a new signing key; running providers pick it up
  list     print stored key ids, newest first
  purge    delete every stored key; the next signing request generates one
`

func main() {
	var timeout time.Duration

	_ = godotenv.Load()

	flag.DurationVar(&timeout, "timeout", 30*time.Second, "overall command deadline")
	flag.Usage = func() { fmt.Fprint(flag.CommandLine.Output(), usage) }

	cfg := config.MustLoad()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	log := logger.Setup(cfg.Env)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := run(ctx, log, cfg, flag.Arg(0)); err != nil {
		log.Error("keyctl failed", slog.String("command", flag.Arg(0)), slog.String("error", err.Error()))
		cancel()
		os.Exit(1)
	}
}

func run(ctx context.Context, log *slog.Logger, cfg *config.Config, command string) error {
	stores, err := app.OpenStores(ctx, log, cfg)
	if err != nil {
		return err
	}
	defer stores.Close()

	provider := keys.New(log, stores.Keys, stores.Publisher).WithRetention(cfg.OAuth.AccessTokenTTL)

	switch command {
	case "rotate":
		key, err := provider.Rotate(ctx)
		if err != nil {
			return err
		}
		fmt.Println(key.KeyID)
	case "list":
		stored, err := stores.Keys.SigningKeys(ctx)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "KID\tCREATED\tCURRENT")
		for i, k := range stored {
			fmt.Fprintf(w, "%s\t%s\t%t\n", k.KeyID, k.CreatedAt.Format(time.RFC3339), i == 0)
		}
		return w.Flush()
	case "purge":
		n, err := provider.Purge(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("purged %d keys\n", n)
	default:
		return fmt.Errorf("unknown command %q", command)
	}
	return nil
}
