// Command spreadwatch-migrate provisions the optional audit database's
// schema, mirroring the teacher's cmd/sqlite_create_tables one-shot tool.
package main

import (
	"context"
	"flag"
	"os"

	"github.com/kestrelfin/spreadwatch/internal/logging"
	"github.com/kestrelfin/spreadwatch/internal/storage/sqlite"
)

func main() {
	drop := flag.Bool("drop", false, "drop the closed_opportunities and ticks tables before creating them")
	flag.Parse()

	path := os.Getenv("SQLITE_PATH")
	store, err := sqlite.Open(path)
	if err != nil {
		logging.Fatalf("[spreadwatch-migrate] open sqlite: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	if *drop {
		if err := store.DropTables(ctx); err != nil {
			logging.Fatalf("[spreadwatch-migrate] drop tables: %v", err)
		}
		logging.Infof("[spreadwatch-migrate] dropped closed_opportunities at %s", store.Path())
	}

	if err := store.CreateTables(ctx); err != nil {
		logging.Fatalf("[spreadwatch-migrate] create tables: %v", err)
	}
	logging.Infof("[spreadwatch-migrate] closed_opportunities ready at %s", store.Path())
}
