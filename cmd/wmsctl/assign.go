package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/mmdatafocus/wms_backend/config"
	"github.com/mmdatafocus/wms_backend/utils"
	"github.com/mmdatafocus/wms_backend/workflow"
	"github.com/spf13/cobra"
)

func NewAssignCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "assign",
		Short: "Distribute tasks over active operators",
	}
	cmd.AddCommand(newAssignRunCommand(opts, "plan", "Preview the distribution without writing", false))
	cmd.AddCommand(newAssignRunCommand(opts, "apply", "Assign the tasks", true))
	return cmd
}

func newAssignRunCommand(opts *RootOptions, use, short string, apply bool) *cobra.Command {
	var reassign bool
	cmd := &cobra.Command{
		Use:   use + " <task-id>...",
		Short: short,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]int, 0, len(args))
			for _, a := range args {
				id, err := strconv.Atoi(a)
				if err != nil || id <= 0 {
					return fmt.Errorf("invalid task id %q", a)
				}
				ids = append(ids, id)
			}
			db, err := opts.openDB()
			if err != nil {
				return err
			}
			engine := workflow.NewEngine(db, config.LoadSettings(), workflow.WithLogger(config.GetLogger()))
			ctx := utils.SetUsernameInContext(cmd.Context(), opts.Actor)

			var preview *workflow.AssignmentPreview
			if apply {
				preview, err = engine.ApplyAutoAssignment(ctx, ids, reassign)
			} else {
				preview, err = engine.PlanAutoAssignment(ctx, ids, reassign)
			}
			if err != nil {
				return err
			}
			return opts.emit(cmd.OutOrStdout(), preview, func(w io.Writer) {
				for _, item := range preview.Items {
					line := fmt.Sprintf("task %-6d %-22s %s", item.TaskId, item.Outcome, item.Assignee)
					if item.PreviousAssignee != "" {
						line += " (was " + item.PreviousAssignee + ")"
					}
					fmt.Fprintln(w, line)
				}
				fmt.Fprintf(w, "%d to assign\n", preview.Count(workflow.AssignmentAssign))
			})
		},
	}
	cmd.Flags().BoolVar(&reassign, "reassign", false, "also move tasks that are already assigned")
	return cmd
}
