package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
}

// ParseTimestamp accepts RFC 3339 and zone-less ISO local times; the latter
// are read as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

// TicketOffer is a priced flight option returned by search. It has no
// persistent identity before booking; FlightID only points back at the
// dataset row when the backend knows it.
type TicketOffer struct {
	FlightID            int64      `json:"flightId,omitempty"`
	FlightNumber        string     `json:"flightNumber,omitempty"`
	Airline             string     `json:"airline"`
	Price               float64    `json:"price"`
	Currency            string     `json:"currency,omitempty"`
	Origin              string     `json:"origin"`
	Destination         string     `json:"destination"`
	DepartureTime       time.Time  `json:"departureTime"`
	ArrivalTime         time.Time  `json:"arrivalTime"`
	ReturnDepartureTime *time.Time `json:"returnDepartureTime,omitempty"`
	ReturnArrivalTime   *time.Time `json:"returnArrivalTime,omitempty"`
	Duration            string     `json:"duration,omitempty"`
	Stops               int        `json:"stops"`
	RoundTrip           bool       `json:"roundTrip"`
	Baggage             string     `json:"baggage,omitempty"`
	TravelClass         string     `json:"travelClass,omitempty"`
	Aircraft            string     `json:"aircraft,omitempty"`
	SeatsLeft           int        `json:"availableSeats,omitempty"`
}

func (o TicketOffer) AmountCents() int64 {
	return AmountToCents(o.Price)
}

func (o TicketOffer) Validate() error {
	switch {
	case o.Origin == "" || o.Destination == "":
		return NewValidationError("offer", "offer route is incomplete")
	case o.Airline == "":
		return NewValidationError("airline", "airline is required")
	case o.Price <= 0:
		return NewValidationError("cost", "cost must be positive")
	case o.DepartureTime.IsZero():
		return NewValidationError("departureTime", "departure time is required")
	}
	return nil
}

// Description is the line item text sent to the payment provider.
func (o TicketOffer) Description() string {
	return o.Airline + " " + o.Origin + " → " + o.Destination + " " + o.DepartureTime.UTC().Format(DateLayout)
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
