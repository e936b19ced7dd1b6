package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var includeEmitted bool

var projectionCmd = &cobra.Command{
	Use:   "projection",
	Short: "Inspect or signal a projection's lifecycle",
}

var projectionStatusCmd = &cobra.Command{
	Use:   "status [name]",
	Short: "Print the persisted status of one projection, or every projection",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, manager, cleanup, err := openStore()
		if err != nil {
			return err
		}
		defer cleanup()

		records, err := manager.Status(cmd.Context())
		if err != nil {
			return fmt.Errorf("projection status: %w", err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tSTATUS\tPOSITIONS")
		for _, rec := range records {
			if len(args) == 1 && rec.Name != args[0] {
				continue
			}
			fmt.Fprintf(w, "%s\t%s\t%v\n", rec.Name, rec.Status, rec.Positions)
		}
		return w.Flush()
	},
}

var projectionIdleCmd = &cobra.Command{
	Use:   "idle <name>",
	Short: "Set a projection's status to IDLE",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, manager, cleanup, err := openStore()
		if err != nil {
			return err
		}
		defer cleanup()
		return manager.IdleProjection(cmd.Context(), args[0])
	},
}

var projectionStopCmd = &cobra.Command{
	Use:   "stop <name>",
	Short: "Request a running projection to stop",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, manager, cleanup, err := openStore()
		if err != nil {
			return err
		}
		defer cleanup()
		return manager.StopProjection(cmd.Context(), args[0])
	},
}

var projectionResetCmd = &cobra.Command{
	Use:   "reset <name>",
	Short: "Reset a projection's state and positions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, manager, cleanup, err := openStore()
		if err != nil {
			return err
		}
		defer cleanup()
		return manager.ResetProjection(cmd.Context(), args[0])
	},
}

var projectionDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a projection's persisted record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, manager, cleanup, err := openStore()
		if err != nil {
			return err
		}
		defer cleanup()
		return manager.DeleteProjection(cmd.Context(), args[0], includeEmitted)
	},
}

func init() {
	projectionDeleteCmd.Flags().BoolVar(&includeEmitted, "include-emitted", false, "also drop the projection's own emitted stream")

	projectionCmd.AddCommand(projectionStatusCmd)
	projectionCmd.AddCommand(projectionIdleCmd)
	projectionCmd.AddCommand(projectionStopCmd)
	projectionCmd.AddCommand(projectionResetCmd)
	projectionCmd.AddCommand(projectionDeleteCmd)
}
