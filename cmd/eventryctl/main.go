// Command eventryctl is a small operational CLI over a Postgres-backed
// engine: install the bootstrap tables, register streams, and inspect or
// signal projection lifecycle.
package main

import (
	"database/sql"
	"fmt"
	"os"

	_ "github.com/lib/pq"
	"github.com/spf13/cobra"

	"github.com/go-eventry/eventry/eventstore"
	"github.com/go-eventry/eventry/eventstore/postgres"
	logrusext "github.com/go-eventry/eventry/extension/logrus"
	"github.com/go-eventry/eventry/projection"
	"github.com/sirupsen/logrus"
)

var dsn string

var rootCmd = &cobra.Command{
	Use:   "eventryctl",
	Short: "Operate an eventry event store and its projections",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dsn, "dsn", os.Getenv("EVENTRY_DSN"), "Postgres connection string (or set EVENTRY_DSN)")

	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(createStreamCmd)
	rootCmd.AddCommand(projectionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// openStore connects to dsn and returns an EventStore over the Postgres
// backend plus the projection.Manager layered on top of it.
func openStore() (*eventstore.EventStore, *projection.Manager, func(), error) {
	if dsn == "" {
		return nil, nil, nil, fmt.Errorf("eventryctl: --dsn or EVENTRY_DSN must be set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("eventryctl: open db: %w", err)
	}

	log := logrusext.Wrap(logrus.StandardLogger())

	strategy, err := postgres.New(db, postgres.NewJSONPayloadConverter(), log)
	if err != nil {
		db.Close()
		return nil, nil, nil, fmt.Errorf("eventryctl: build strategy: %w", err)
	}

	store, err := eventstore.New(strategy, log)
	if err != nil {
		db.Close()
		return nil, nil, nil, fmt.Errorf("eventryctl: build event store: %w", err)
	}

	manager := projection.NewManager(store, strategy, log)

	cleanup := func() { db.Close() }
	return store, manager, cleanup, nil
}
