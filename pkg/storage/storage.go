package storage

import (
	"fmt"

	"github.com/levenlabs/go-lflag"
)

// Configured sets up the storage backend based on flags. dirty may be nil
// when no uploader is running.
func Configured(dirty *PartitionSet) Database {
	provider := lflag.String("storage-provider", "sqlite", "Storage backend to use (available: sqlite)")
	path := lflag.String("storage-path", "data/scrapers.db", "Path to the sqlite database file")

	var p struct{ Database }

	lflag.Do(func() {
		switch *provider {
		case "sqlite":
			db, err := NewSQLite(*path, dirty)
			if err != nil {
				panic(fmt.Sprintf("sqlite init failed: %v", err))
			}
			p.Database = db
		default:
			panic(fmt.Sprintf("unknown storage provider: %s", *provider))
		}
	})

	return &p
}
