package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/mmdatafocus/wms_backend/models"
	"github.com/spf13/cobra"
)

func NewOutboxCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "outbox",
		Short: "Inspect and recover the receipt event outbox",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Count outbox rows by status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := opts.openDB()
			if err != nil {
				return err
			}
			counts, err := models.CountOutboxByStatus(db.WithContext(cmd.Context()))
			if err != nil {
				return err
			}
			return opts.emit(cmd.OutOrStdout(), counts, func(w io.Writer) {
				for _, c := range counts {
					fmt.Fprintf(w, "%-10s %d\n", c.Status, c.Count)
				}
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "requeue [outbox-id...]",
		Short: "Move DEAD events back to PENDING (all of them when no id is given)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]int, 0, len(args))
			for _, a := range args {
				id, err := strconv.Atoi(a)
				if err != nil || id <= 0 {
					return fmt.Errorf("invalid outbox id %q", a)
				}
				ids = append(ids, id)
			}
			db, err := opts.openDB()
			if err != nil {
				return err
			}
			n, err := models.RequeueDeadOutbox(db.WithContext(cmd.Context()), ids)
			if err != nil {
				return err
			}
			return opts.emit(cmd.OutOrStdout(), map[string]int64{"requeued": n}, func(w io.Writer) {
				fmt.Fprintf(w, "requeued %d events\n", n)
			})
		},
	})
	return cmd
}
