package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/mmdatafocus/wms_backend/config"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Format string // "json" | "text"
	Actor  string

	openDB func() (*gorm.DB, error)
}

var ValidFormats = []string{"text", "json"}

// NewRootCommand builds the CLI. A nil openDB connects through config.
func NewRootCommand(openDB func() (*gorm.DB, error)) *cobra.Command {
	opts := &RootOptions{openDB: openDB}
	if opts.openDB == nil {
		opts.openDB = connectDB
	}

	cmd := &cobra.Command{
		Use:           "wmsctl",
		Short:         "Warehouse operations CLI",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			for _, f := range ValidFormats {
				if f == opts.Format {
					return nil
				}
			}
			return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
		},
	}
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.Actor, "actor", "wmsctl", "username recorded in audit history")

	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewSeedCommand(opts))
	cmd.AddCommand(NewRulesCommand(opts))
	cmd.AddCommand(NewAssignCommand(opts))
	cmd.AddCommand(NewTokenCommand(opts))
	cmd.AddCommand(NewOutboxCommand(opts))
	return cmd
}

func connectDB() (*gorm.DB, error) {
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		return nil, errors.New("database not initialized; set DB_* env vars")
	}
	return db, nil
}

// emit writes v as indented JSON, or calls text for the text format.
func (o *RootOptions) emit(w io.Writer, v any, text func(io.Writer)) error {
	if o.Format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(w)
	return nil
}
