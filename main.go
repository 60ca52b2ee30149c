package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"

	"booknest/config"
	"booknest/library"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type app struct {
	configPath string
	cfg        config.FileConfig
	logger     *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:          "booknest",
		Short:        "Library catalog and circulation desk",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(a.configPath)
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.logger = config.InitLogger(cfg.LogLevel, cfg.LogFormat)
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runShell(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "path to config file (default booknest.yaml)")

	root.AddCommand(
		&cobra.Command{
			Use:   "shell",
			Short: "Start the interactive circulation desk",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return a.runShell(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout())
			},
		},
		&cobra.Command{
			Use:   "dispatch [action-json]",
			Short: "Apply one {\"type\",\"payload\"} action; reads stdin when no argument is given",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.runDispatch(cmd.Context(), args, cmd.InOrStdin(), cmd.OutOrStdout())
			},
		},
		&cobra.Command{
			Use:   "state",
			Short: "Print every persisted circulation record",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return a.runState(cmd.Context(), cmd.OutOrStdout())
			},
		},
		a.newCatalogCmd(),
	)
	return root
}

func (a *app) newCatalogCmd() *cobra.Command {
	var q library.BookQuery
	var status string
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "List or search the books table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			q.Status = library.Status(status)
			mgr, err := a.openManager()
			if err != nil {
				return err
			}
			defer mgr.Close()

			books, err := mgr.SearchBooks(cmd.Context(), q)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-5s %-30s %-25s %-12s %-10s\n", "ID", "Title", "Author", "Category", "Status")
			for _, b := range books {
				fmt.Fprintln(out, library.PrettyBook(b))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&q.Text, "query", "q", "", "title or author substring")
	cmd.Flags().StringVar(&q.Category, "category", "", "exact category (All for any)")
	cmd.Flags().StringVar(&status, "status", "", "Available, Reserved or Borrowed")
	return cmd
}

// openManager wires the configured record store and notifier into a LibraryManager.
func (a *app) openManager() (*library.LibraryManager, error) {
	cfg := a.cfg
	opts := []library.ManagerOption{
		library.WithLogger(a.logger),
		library.WithSyncOptions(library.WithRetry(library.WithMaxAttempts(cfg.PersistRetries))),
	}

	switch cfg.Store {
	case config.StoreRedis:
		store, err := library.NewRedisRecordStore(library.RedisStoreConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			Prefix:   cfg.RedisKeyPrefix,
		})
		if err != nil {
			return nil, err
		}
		opts = append(opts, library.WithRecordStore(store))
	case config.StoreMemory:
		opts = append(opts, library.WithRecordStore(library.NewMemoryRecordStore()))
	}

	if cfg.Notifier == config.NotifierRedis {
		n, err := library.NewRedisNotifier(library.RedisNotifierConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			Stream:   cfg.NotifyStream,
		})
		if err != nil {
			return nil, err
		}
		opts = append(opts, library.WithNotifier(n))
	}

	mgr, err := library.NewLibraryManager(cfg.DBPath, opts...)
	if err != nil {
		return nil, fmt.Errorf("open library: %w", err)
	}
	return mgr, nil
}

func (a *app) runDispatch(ctx context.Context, args []string, in io.Reader, out io.Writer) error {
	var data []byte
	if len(args) == 1 {
		data = []byte(args[0])
	} else {
		var err error
		if data, err = io.ReadAll(in); err != nil {
			return fmt.Errorf("read action: %w", err)
		}
	}

	mgr, err := a.openManager()
	if err != nil {
		return err
	}
	defer mgr.Close()

	if err := mgr.LoadCatalog(ctx); err != nil {
		return err
	}
	res, err := mgr.DispatchJSON(ctx, data)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s: %s (version %d)\n", orUnknown(res.Action), res.Outcome, res.State.Version)
	if res.Err != nil {
		fmt.Fprintf(out, "reason: %v\n", res.Err)
	}
	return nil
}

func (a *app) runState(ctx context.Context, out io.Writer) error {
	mgr, err := a.openManager()
	if err != nil {
		return err
	}
	defer mgr.Close()
	return printRecords(ctx, mgr, out)
}

func printRecords(ctx context.Context, mgr *library.LibraryManager, out io.Writer) error {
	records, err := mgr.Records(ctx)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(out, "No persisted state.")
		return nil
	}
	keys := make([]string, 0, len(records))
	for k := range records {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(out, "%s: %s\n", k, strings.TrimSpace(string(records[k])))
	}
	return nil
}

func orUnknown(action string) string {
	if action == "" {
		return "(unknown action)"
	}
	return action
}
