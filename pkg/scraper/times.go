package scraper

import (
	"fmt"
	"time"
)

var (
	// APG publishes Vienna-local timestamps
	viennaLocation = func() *time.Location {
		loc, err := time.LoadLocation("Europe/Vienna")
		if err != nil {
			panic(fmt.Errorf("failed to load vienna time location: %w", err))
		}
		return loc
	}()
)
