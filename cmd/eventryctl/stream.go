package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var createStreamCmd = &cobra.Command{
	Use:   "create-stream <name>",
	Short: "Register a stream and provision its physical storage",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, _, cleanup, err := openStore()
		if err != nil {
			return err
		}
		defer cleanup()

		if err := store.CreateStream(cmd.Context(), args[0]); err != nil {
			return fmt.Errorf("create-stream: %w", err)
		}
		fmt.Printf("created stream %q\n", args[0])
		return nil
	},
}
