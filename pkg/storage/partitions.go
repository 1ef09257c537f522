package storage

import (
	"fmt"
	"sync"
	"time"
)

// PartitionKind says which table a partition belongs to.
type PartitionKind string

const (
	PartitionValues PartitionKind = "values"
	PartitionBids   PartitionKind = "bids"
)

// Partition identifies one scraper-day of data. Days follow Vienna local
// time so partitions line up with the market's delivery days.
type Partition struct {
	Scraper string
	Kind    PartitionKind
	Year    int
	Month   int
	Day     int
}

// Key renders the object-store path for the partition.
func (p Partition) Key() string {
	return fmt.Sprintf("%s/year=%d/month=%02d/day=%02d/%s.csv", p.Scraper, p.Year, p.Month, p.Day, p.Kind)
}

// DayRange returns the UTC instants bounding the partition's Vienna-local
// day.
func (p Partition) DayRange() (time.Time, time.Time) {
	start := time.Date(p.Year, time.Month(p.Month), p.Day, 0, 0, 0, 0, viennaLocation)
	return start.UTC(), start.AddDate(0, 0, 1).UTC()
}

// partitionFor maps a delivery start to its scraper-day partition.
func partitionFor(scraper string, kind PartitionKind, deliveryFrom time.Time) Partition {
	local := deliveryFrom.In(viennaLocation)
	return Partition{
		Scraper: scraper,
		Kind:    kind,
		Year:    local.Year(),
		Month:   int(local.Month()),
		Day:     local.Day(),
	}
}

// PartitionSet is a concurrency-safe set of partitions with pending changes.
// The storage layer marks partitions dirty as it writes; the uploader drains
// the set and re-queues what it failed to upload.
type PartitionSet struct {
	mu  sync.Mutex
	set map[Partition]struct{}
}

// NewPartitionSet returns an empty set.
func NewPartitionSet() *PartitionSet {
	return &PartitionSet{set: make(map[Partition]struct{})}
}

// Add marks a partition dirty.
func (s *PartitionSet) Add(p Partition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.set[p] = struct{}{}
}

// Drain removes and returns all pending partitions.
func (s *PartitionSet) Drain() []Partition {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Partition, 0, len(s.set))
	for p := range s.set {
		out = append(out, p)
	}
	s.set = make(map[Partition]struct{})
	return out
}

// Requeue puts failed partitions back for the next cycle.
func (s *PartitionSet) Requeue(parts []Partition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range parts {
		s.set[p] = struct{}{}
	}
}

// Len returns the number of pending partitions.
func (s *PartitionSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.set)
}
