package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Create the event_streams and projections bootstrap tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, _, cleanup, err := openStore()
		if err != nil {
			return err
		}
		defer cleanup()

		if err := store.Install(cmd.Context()); err != nil {
			return fmt.Errorf("install: %w", err)
		}
		fmt.Println("installed")
		return nil
	},
}
