package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/tidwall/pretty"

	"github.com/kjk/invoicing/backup"
	"github.com/kjk/invoicing/httpapi"
	"github.com/kjk/invoicing/invoice"
	"github.com/kjk/invoicing/journal"
	"github.com/kjk/invoicing/snapshot"
	"github.com/kjk/invoicing/store"
)

func newRootCmd() *cobra.Command {
	opts := &appOptions{}
	rootCmd := &cobra.Command{
		Use:   "invoicedb",
		Short: "Manage invoices stored in a flat file",
		Long: `invoicedb keeps invoices in a text file, one JSON record per line.

Commands:
  serve     HTTP API for invoices
  list, get, add, update, delete
  export, restore   compressed snapshots
  backup    snapshots in S3-compatible storage
  journal   show recorded changes`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path of config file (default ~/.invoicing/config.toml)")
	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(
		serveCmd(opts),
		listCmd(opts),
		getCmd(opts),
		addCmd(opts),
		updateCmd(opts),
		deleteCmd(opts),
		exportCmd(opts),
		restoreCmd(opts),
		backupCmd(opts),
		journalCmd(),
	)
	return rootCmd
}

// withApp opens the app for the duration of fn
func withApp(opts *appOptions, withJournal bool, fn func(a *app) error) error {
	o := *opts
	o.withJournal = withJournal
	a, err := openApp(&o)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid id '%s'", s)
	}
	return id, nil
}

func printJSON(w io.Writer, v any) error {
	d, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = w.Write(pretty.Pretty(d))
	return err
}

// readInvoice reads invoice from a JSON file, "-" means stdin
func readInvoice(cmd *cobra.Command, path string) (*invoice.Invoice, error) {
	var d []byte
	var err error
	if path == "-" {
		d, err = io.ReadAll(cmd.InOrStdin())
	} else {
		d, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, err
	}
	var inv invoice.Invoice
	if err = json.Unmarshal(d, &inv); err != nil {
		return nil, fmt.Errorf("invalid invoice in '%s': %w", path, err)
	}
	if err = inv.Validate(); err != nil {
		return nil, fmt.Errorf("invalid invoice in '%s': %w", path, err)
	}
	return &inv, nil
}

func serveCmd(opts *appOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(opts, true, func(a *app) error {
				if addr == "" {
					addr = a.cfg.HTTP.Addr
				}
				if addr == "" {
					return errors.New("http address is not set, use --addr or http.addr in config")
				}
				ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
				defer stop()
				return httpapi.New(a.store).ListenAndServe(ctx, addr)
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "address to listen on, e.g. :8080")
	return cmd
}

func listCmd(opts *appOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Show all invoices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(opts, false, func(a *app) error {
				invoices, err := a.store.GetAll()
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), invoices)
			})
		},
	}
}

func getCmd(opts *appOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show invoice",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withApp(opts, false, func(a *app) error {
				inv, ok, err := a.store.GetByID(id)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("invoice %d: %w", id, store.ErrNotFound)
				}
				return printJSON(cmd.OutOrStdout(), inv)
			})
		},
	}
}

func addCmd(opts *appOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "add <invoice.json>",
		Short: "Add invoice from JSON file, - for stdin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			inv, err := readInvoice(cmd, args[0])
			if err != nil {
				return err
			}
			return withApp(opts, true, func(a *app) error {
				id, err := a.store.Save(inv)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d\n", id)
				return nil
			})
		},
	}
}

func updateCmd(opts *appOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "update <id> <invoice.json>",
		Short: "Replace invoice with JSON file, - for stdin",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			inv, err := readInvoice(cmd, args[1])
			if err != nil {
				return err
			}
			return withApp(opts, true, func(a *app) error {
				return a.store.Update(id, inv)
			})
		},
	}
}

func deleteCmd(opts *appOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete invoice",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withApp(opts, true, func(a *app) error {
				return a.store.Delete(id)
			})
		},
	}
}

func exportCmd(opts *appOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "export <path>",
		Short: "Write snapshot of all invoices, compressed if path ends with .zst, .br or .gz",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, false, func(a *app) error {
				n, err := snapshot.Export(a.store, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "exported %d invoices to '%s'\n", n, args[0])
				return nil
			})
		},
	}
}

func restoreCmd(opts *appOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "restore <path>",
		Short: "Replace all invoices with invoices from a snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, true, func(a *app) error {
				n, err := snapshot.Restore(a.store, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "restored %d invoices from '%s'\n", n, args[0])
				return nil
			})
		},
	}
}

func newBackupClient(cmd *cobra.Command, a *app) (*backup.Client, error) {
	c := &a.cfg.Backup
	if !c.Enabled() {
		return nil, errors.New("backup is not configured, see [backup] in config")
	}
	return backup.New(cmd.Context(), &backup.Config{
		Access:   c.Access,
		Secret:   c.Secret,
		Bucket:   c.Bucket,
		Endpoint: c.Endpoint,
		Region:   c.Region,
		Prefix:   c.Prefix,
		Secure:   c.Secure,
	})
}

func backupCmd(opts *appOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Upload snapshot of all invoices to S3-compatible storage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(opts, false, func(a *app) error {
				c, err := newBackupClient(cmd, a)
				if err != nil {
					return err
				}
				remotePath, err := backup.Backup(cmd.Context(), c, a.store)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\n", remotePath)
				return nil
			})
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Show uploaded snapshots",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(opts, false, func(a *app) error {
				c, err := newBackupClient(cmd, a)
				if err != nil {
					return err
				}
				paths, err := c.List(cmd.Context())
				if err != nil {
					return err
				}
				for _, p := range paths {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\n", p)
				}
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "restore [remote-path]",
		Short: "Replace all invoices with an uploaded snapshot, the latest by default",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			remotePath := ""
			if len(args) > 0 {
				remotePath = args[0]
			}
			return withApp(opts, true, func(a *app) error {
				c, err := newBackupClient(cmd, a)
				if err != nil {
					return err
				}
				n, err := backup.Restore(cmd.Context(), c, a.store, remotePath)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "restored %d invoices\n", n)
				return nil
			})
		},
	})
	return cmd
}

func journalCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "journal <file>",
		Short: "Show changes recorded in a journal file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := journal.ReadFile(args[0])
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			for _, e := range entries {
				fmt.Fprintf(w, "%s %s\n%s", e.Timestamp.Format(time.RFC3339), e.Op, e.Data)
				if n := len(e.Data); n > 0 && e.Data[n-1] != '\n' {
					fmt.Fprintln(w)
				}
			}
			return nil
		},
	}
}
