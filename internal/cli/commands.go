package cli

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/passionistravel/travelstore/internal/backup"
	"github.com/passionistravel/travelstore/internal/schema"
)

// NewInitCommand creates the init command.
func NewInitCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create or upgrade the database and seed default settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context(), opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer s.Close()

			fmt.Fprintf(cmd.OutOrStdout(), "state: %s\nmode: %s\n", s.state, s.repo.Mode())
			return nil
		},
	}
}

// NewListCommand creates the list command.
func NewListCommand(opts *RootOptions) *cobra.Command {
	var where string

	cmd := &cobra.Command{
		Use:   "list <collection>",
		Short: "Print every record of a collection",
		Example: `  travelctl list tours
  travelctl list expenses --where type=accommodation`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context(), opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer s.Close()

			var recs []schema.Record
			if where != "" {
				field, value, _ := strings.Cut(where, "=")
				recs, err = s.repo.FindBy(cmd.Context(), args[0], field, value)
			} else {
				recs, err = s.repo.GetAll(cmd.Context(), args[0])
			}
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), recs)
		},
	}

	cmd.Flags().StringVar(&where, "where", "", "filter on a secondary index, as field=value")
	cmd.PreRunE = func(cmd *cobra.Command, args []string) error {
		if f, _, ok := strings.Cut(where, "="); where != "" && (!ok || f == "") {
			return fmt.Errorf("invalid --where %q: want field=value", where)
		}
		return nil
	}
	return cmd
}

// NewGetCommand creates the get command.
func NewGetCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <collection> <id>",
		Short: "Print one record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context(), opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer s.Close()

			rec, err := s.repo.GetByID(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			if rec == nil {
				return fmt.Errorf("%s/%s not found", args[0], args[1])
			}
			return writeJSON(cmd.OutOrStdout(), rec)
		},
	}
}

// NewPutCommand creates the put command.
func NewPutCommand(opts *RootOptions) *cobra.Command {
	var newID bool

	cmd := &cobra.Command{
		Use:   "put <collection> [json]",
		Short: "Insert or replace a record",
		Long: `Insert or replace a record given as a JSON object, either as the second
argument or on stdin. With --new-id the record gets a fresh UUID and is
inserted; otherwise it must carry its own id and replaces any record with
the same id.`,
		Example: `  travelctl put tours '{"id":"t1","tourName":"Cappadocia","totalPrice":5000,"currency":"TRY"}'
  echo '{"name":"Goreme Balloons"}' | travelctl put providers --new-id`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var data []byte
			if len(args) == 2 {
				data = []byte(args[1])
			} else {
				var err error
				if data, err = io.ReadAll(cmd.InOrStdin()); err != nil {
					return fmt.Errorf("read record: %w", err)
				}
			}
			rec, err := schema.DecodeRecord(data)
			if err != nil {
				return fmt.Errorf("invalid record JSON: %w", err)
			}

			s, err := openSession(cmd.Context(), opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer s.Close()

			key := ""
			if newID {
				rec["id"] = uuid.NewString()
				key, err = s.repo.Add(cmd.Context(), args[0], rec)
			} else {
				err = s.repo.Update(cmd.Context(), args[0], rec)
				key, _ = rec.Key("id")
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), key)
			return nil
		},
	}

	cmd.Flags().BoolVar(&newID, "new-id", false, "assign a new UUID and insert")
	return cmd
}

// NewDeleteCommand creates the delete command.
func NewDeleteCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <collection> <id>",
		Short: "Delete one record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context(), opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer s.Close()
			return s.repo.Delete(cmd.Context(), args[0], args[1])
		},
	}
}

// NewClearCommand creates the clear command.
func NewClearCommand(opts *RootOptions) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "clear <collection>",
		Short: "Delete every record of a collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to clear %s without --yes", args[0])
			}
			s, err := openSession(cmd.Context(), opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer s.Close()
			return s.repo.Clear(cmd.Context(), args[0])
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the deletion")
	return cmd
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(opts *RootOptions) *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "sync [collection]",
		Short: "Refresh the mirror from the database",
		Long: `Refresh the JSON mirror from the database, for one collection or all of
them. With --watch the sync repeats every sync.interval until interrupted.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context(), opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer s.Close()

			if len(args) == 1 {
				return s.repo.Sync(cmd.Context(), args[0])
			}
			if !watch {
				return s.repo.SyncAll(cmd.Context())
			}

			interval := s.cfg.Sync.Interval
			if interval == 0 {
				interval = time.Minute
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if err := s.repo.RunPeriodicSync(ctx, interval); err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&watch, "watch", false, "keep syncing every sync.interval")
	return cmd
}

// NewSettingsCommand creates the settings command.
func NewSettingsCommand(opts *RootOptions) *cobra.Command {
	var set string

	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Print or update the application settings",
		Example: `  travelctl settings
  travelctl settings --set '{"preferences":{"defaultCurrency":"EUR"}}'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context(), opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer s.Close()

			if set != "" {
				patch, err := schema.DecodeRecord([]byte(set))
				if err != nil {
					return fmt.Errorf("invalid --set JSON: %w", err)
				}
				settings := s.repo.GetSettings(cmd.Context())
				for k, v := range patch {
					settings[k] = v
				}
				if err := s.repo.SaveSettings(cmd.Context(), settings); err != nil {
					return err
				}
			}
			return writeJSON(cmd.OutOrStdout(), s.repo.GetSettings(cmd.Context()))
		},
	}

	cmd.Flags().StringVar(&set, "set", "", "JSON object merged into the settings")
	return cmd
}

// NewExportCommand creates the export command.
func NewExportCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "export [file]",
		Short: "Write a backup of tours, financials and settings",
		Long: `Write a JSON backup of tours, financial entries, company info and
preferences. The file defaults to passionistour_backup_<date>.json in the
current directory; "-" writes to stdout.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context(), opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer s.Close()

			doc, err := backup.Export(cmd.Context(), s.repo)
			if err != nil {
				return err
			}

			path := backup.FileName(time.Now())
			if len(args) == 1 {
				path = args[0]
			}
			if path == "-" {
				return backup.Encode(cmd.OutOrStdout(), doc)
			}

			f, err := os.Create(path)
			if err != nil {
				return err
			}
			if err := backup.Encode(f, doc); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
}

// NewImportCommand creates the import command.
func NewImportCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Restore tours, financials and settings from a backup",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			doc, err := backup.Parse(data)
			if err != nil {
				return err
			}

			s, err := openSession(cmd.Context(), opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer s.Close()

			if err := backup.Import(cmd.Context(), s.repo, doc); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d tours, %d financial entries\n",
				len(doc.ToursData), len(doc.FinancialData))
			return nil
		},
	}
}
