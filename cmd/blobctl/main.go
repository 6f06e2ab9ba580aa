// Package main is blobctl, a command line client that works on the
// configured blob stores directly.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/bleepstore/s3blob/internal/blobpath"
	"github.com/bleepstore/s3blob/internal/blobstore"
	"github.com/bleepstore/s3blob/internal/config"
	"github.com/bleepstore/s3blob/internal/logging"
	"github.com/bleepstore/s3blob/internal/storage"
)

type globalFlags struct {
	configPath string
	logLevel   string
}

func main() {
	// Optionally load credentials such as AWS_ACCESS_KEY_ID from a .env file.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd(os.Stdout).ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	g := &globalFlags{}
	rootCmd := &cobra.Command{
		Use:          "blobctl",
		Short:        "Work with blobs in the configured stores",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logging.Setup(g.logLevel, "text", os.Stderr)
		},
	}
	rootCmd.SetOut(out)
	rootCmd.PersistentFlags().StringVarP(&g.configPath, "config", "c", "config.yaml", "path to configuration file")
	rootCmd.PersistentFlags().StringVar(&g.logLevel, "log-level", "warn", "log level: debug, info, warn, error")

	rootCmd.AddCommand(cmdStores(g))
	rootCmd.AddCommand(cmdList(g))
	rootCmd.AddCommand(cmdStat(g))
	rootCmd.AddCommand(cmdCat(g))
	rootCmd.AddCommand(cmdPut(g))
	rootCmd.AddCommand(cmdCopy(g, false))
	rootCmd.AddCommand(cmdCopy(g, true))
	rootCmd.AddCommand(cmdRemove(g))
	rootCmd.AddCommand(cmdAbortStale(g))
	rootCmd.AddCommand(cmdCheck(g))
	return rootCmd
}

// ref is a "store:path" argument.
type ref struct {
	store string
	path  blobpath.Path
}

func (r ref) String() string { return r.store + ":" + r.path.String() }

func parseRef(s string) (ref, error) {
	name, raw, ok := strings.Cut(s, ":")
	if !ok || name == "" {
		return ref{}, fmt.Errorf("invalid blob reference %q: expected store:path", s)
	}
	p, err := blobpath.Parse(raw)
	if err != nil {
		return ref{}, err
	}
	return ref{store: name, path: p}, nil
}

func parseBlobRef(s string) (ref, error) {
	r, err := parseRef(s)
	if err != nil {
		return ref{}, err
	}
	if r.path.IsRoot() {
		return ref{}, fmt.Errorf("invalid blob reference %q: a blob path is required", s)
	}
	return r, nil
}

// openStores loads the configuration and opens only the named stores, so
// that unrelated remote stores are not contacted.
func openStores(ctx context.Context, g *globalFlags, names ...string) (*storage.Registry, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, err
	}
	if len(names) > 0 {
		var selected []config.StoreConfig
		for _, name := range names {
			sc, ok := cfg.Store(name)
			if !ok {
				return nil, fmt.Errorf("unknown store %q", name)
			}
			if !containsStore(selected, name) {
				selected = append(selected, sc)
			}
		}
		cfg.Stores = selected
	}
	return storage.Open(ctx, cfg, slog.Default())
}

func containsStore(stores []config.StoreConfig, name string) bool {
	for _, sc := range stores {
		if sc.Name == name {
			return true
		}
	}
	return false
}

func openBackend(ctx context.Context, g *globalFlags, r ref) (blobstore.Backend, error) {
	stores, err := openStores(ctx, g, r.store)
	if err != nil {
		return nil, err
	}
	b, _ := stores.Get(r.store)
	return b, nil
}

// openS3Store opens a store that must be of kind s3.
func openS3Store(ctx context.Context, g *globalFlags, name string) (*blobstore.Store, error) {
	b, err := openBackend(ctx, g, ref{store: name})
	if err != nil {
		return nil, err
	}
	st, ok := b.(*blobstore.Store)
	if !ok {
		return nil, fmt.Errorf("store %q is not an s3 store", name)
	}
	return st, nil
}
