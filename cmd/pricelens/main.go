// Command pricelens runs one price hunt from the terminal.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pricelens/backend/config"
	"github.com/pricelens/backend/internal/app"
	"github.com/pricelens/backend/internal/domain"
	"github.com/pricelens/backend/internal/logging"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type hunter interface {
	Run(ctx context.Context, req domain.HuntRequest) (*domain.HuntResult, error)
}

var (
	loadConfig = config.Load
	newHunter  = func(ctx context.Context, cfg *config.Config, logger *zap.Logger) (hunter, func() error, error) {
		a, err := app.New(ctx, cfg, logger)
		if err != nil {
			return nil, nil, err
		}
		return a.Loop, a.Close, nil
	}
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "pricelens",
		Short: "Find the cheapest in-stock listing of a product and add it to the cart",
		Long: `pricelens searches the configured marketplaces, opens the listings on an
attached phone (or emulated Chrome), reads prices from the screen and carts the
cheapest in-stock offer.`,
		SilenceUsage: true,
	}
	root.AddCommand(newHuntCmd())
	return root
}

type huntOptions struct {
	variants string
	noCart   bool
	timeout  time.Duration
	verbose  bool
}

func newHuntCmd() *cobra.Command {
	var opts huntOptions

	cmd := &cobra.Command{
		Use:   "hunt <product query>",
		Short: "Run one hunt session",
		Example: `  pricelens hunt "Samsung Galaxy M34 5G" --variants "6GB 128GB Midnight Blue"
  pricelens hunt iphone 15 --no-cart`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHunt(cmd, strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().StringVar(&opts.variants, "variants", "", "variant text appended to the query (RAM, storage, colour)")
	cmd.Flags().BoolVar(&opts.noCart, "no-cart", false, "report the cheapest offer without adding it to the cart")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 0, "overall session limit (default from config)")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")
	return cmd
}

func runHunt(cmd *cobra.Command, query string, opts huntOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if opts.timeout > 0 {
		cfg.Exploration.MaxDuration = opts.timeout
	}

	level := cfg.Log.Level
	if opts.verbose {
		level = "debug"
	}
	logger, err := logging.New(cfg.Server.Environment, level)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx := cmd.Context()
	h, closeFn, err := newHunter(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeFn()

	req := domain.HuntRequest{Query: query, Variants: opts.variants}
	if opts.noCart {
		addToCart := false
		req.AddToCart = &addToCart
	}

	result, err := h.Run(ctx, req)
	printResult(cmd.OutOrStdout(), result, err)
	return err
}

func printResult(w io.Writer, result *domain.HuntResult, err error) {
	if result == nil {
		fmt.Fprintf(w, "hunt failed: %v\n", err)
		return
	}

	fmt.Fprintf(w, "query:    %s\n", result.Query)
	fmt.Fprintf(w, "state:    %s (%d steps, %d failures, %s)\n",
		result.State, result.Steps, result.Failures, result.Elapsed.Round(time.Second))

	if best := result.Best; best != nil {
		fmt.Fprintf(w, "best:     %s on %s\n", best.Price, best.Source.Marketplace)
		fmt.Fprintf(w, "title:    %s\n", best.Title)
		fmt.Fprintf(w, "url:      %s\n", best.Source.URL)
	}

	switch {
	case err != nil:
		var huntErr *domain.HuntError
		if errors.As(err, &huntErr) {
			fmt.Fprintf(w, "failed:   %v\n", huntErr.Kind)
		} else {
			fmt.Fprintf(w, "failed:   %v\n", err)
		}
	case result.Carted:
		fmt.Fprintf(w, "cart:     added at %s\n", result.CartedPrice)
	default:
		fmt.Fprintln(w, "cart:     no cart needed")
	}
}
