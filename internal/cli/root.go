// Package cli implements the travelctl command tree.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/passionistravel/travelstore/internal/cache"
	"github.com/passionistravel/travelstore/internal/config"
	"github.com/passionistravel/travelstore/internal/logger"
	"github.com/passionistravel/travelstore/internal/mirror"
	"github.com/passionistravel/travelstore/internal/repo"
	"github.com/passionistravel/travelstore/internal/store"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Verbose    bool
}

// NewRootCommand creates the root command for travelctl.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "travelctl",
		Short: "Inspect and maintain a travelstore database",
		Long: `travelctl opens the travel-agency store (SQLite database plus JSON mirror)
described by a YAML config file and runs maintenance operations on it.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "travelstore.yaml", "path to the YAML config file")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging")

	cmd.AddCommand(NewInitCommand(opts))
	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewGetCommand(opts))
	cmd.AddCommand(NewPutCommand(opts))
	cmd.AddCommand(NewDeleteCommand(opts))
	cmd.AddCommand(NewClearCommand(opts))
	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewSettingsCommand(opts))
	cmd.AddCommand(NewExportCommand(opts))
	cmd.AddCommand(NewImportCommand(opts))

	return cmd
}

// session is an initialized store plus everything that must be released
// with it.
type session struct {
	cfg   config.Config
	repo  *repo.Repository
	state repo.State
	log   *logger.Logger
}

func (s *session) Close() error {
	err := s.repo.Close()
	if cerr := s.log.Close(); err == nil {
		err = cerr
	}
	return err
}

// openSession loads the config and bootstraps the repository it describes.
func openSession(ctx context.Context, opts *RootOptions, stderr io.Writer) (*session, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}

	level := cfg.Log.Level
	if opts.Verbose {
		level = "debug"
	}
	b := logger.New().FromWriter(stderr).WithLevel(level)
	if cfg.Log.Path != "" {
		b = b.FromPath(cfg.Log.Path)
	}
	log, err := b.Make()
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}

	m, err := mirror.OpenDir(cfg.Mirror.Dir, mirror.WithPrefix(cfg.Mirror.Prefix))
	if err != nil {
		log.Close()
		return nil, fmt.Errorf("open mirror: %w", err)
	}

	open := func(ctx context.Context) (store.Storer, error) {
		s, err := store.Open(ctx, store.Options{
			DSN:         cfg.Database.DSN,
			DriftPolicy: cfg.Schema.DriftPolicy,
			Logger:      &log.Logger,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	}

	in := repo.NewInitializer(open, m, cache.New(), repo.InitOptions{
		RestoreFromMirror: cfg.Bootstrap.RestoreFromMirror,
		Logger:            &log.Logger,
	})
	r, err := in.Run(ctx)
	if err != nil {
		log.Close()
		return nil, err
	}
	return &session{cfg: cfg, repo: r, state: in.State(), log: log}, nil
}

// writeJSON prints v as indented JSON.
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
