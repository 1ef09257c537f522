package types

import (
	"fmt"
	"time"
)

// BidType represents the balancing product a bid was submitted for.
type BidType string

const (
	// BidTypeSecondary is secondary regulation energy (aFRR).
	BidTypeSecondary BidType = "secondary-regulation-energy"
	// BidTypeTertiary is tertiary regulation energy (mFRR).
	BidTypeTertiary BidType = "tertiary-regulation-energy"
)

// Direction represents the direction of a balancing bid.
type Direction string

const (
	DirectionPositive Direction = "positive"
	DirectionNegative Direction = "negative"
)

// Bid is a single balancing-energy offer within a delivery interval.
// Price and Volume are nil when the upstream reports no value for them.
type Bid struct {
	Price     *float64  `json:"price,omitempty"`
	Volume    *float64  `json:"volume,omitempty"`
	Type      BidType   `json:"type"`
	Direction Direction `json:"direction"`
	// Rank is the merit-order priority within the bid's direction/type
	// group. Ties keep upstream order.
	Rank int `json:"rank"`
}

// Payload holds the normalized data for one delivery interval. Exactly one of
// Values or Bids is set.
type Payload struct {
	// Values maps a column/series name to its measurement.
	Values map[string]float64 `json:"values,omitempty"`
	// Bids is the upstream merit order, in upstream rank order.
	Bids []Bid `json:"bids,omitempty"`
}

// ValuesPayload returns a Payload carrying scalar series values.
func ValuesPayload(values map[string]float64) Payload {
	return Payload{Values: values}
}

// BidsPayload returns a Payload carrying balancing bids.
func BidsPayload(bids []Bid) Payload {
	return Payload{Bids: bids}
}

// ScraperData is one normalized observation or bid-set for a delivery
// interval. Both timestamps are UTC and DeliveryFrom < DeliveryTo.
type ScraperData struct {
	DeliveryFrom time.Time `json:"deliveryFrom"`
	DeliveryTo   time.Time `json:"deliveryTo"`
	Payload      Payload   `json:"payload"`
}

// Validate checks the interval invariant.
func (d ScraperData) Validate() error {
	if !d.DeliveryFrom.Before(d.DeliveryTo) {
		return fmt.Errorf("delivery interval start (%s) must be before end (%s)",
			d.DeliveryFrom.Format(time.RFC3339), d.DeliveryTo.Format(time.RFC3339))
	}
	return nil
}

// Overlaps reports whether the delivery interval overlaps the half-open
// window [start, end). Intervals are reported verbatim, never truncated, so
// this is the only window policy providers apply.
func (d ScraperData) Overlaps(start, end time.Time) bool {
	return d.DeliveryFrom.Before(end) && d.DeliveryTo.After(start)
}
