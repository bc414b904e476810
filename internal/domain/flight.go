package domain

import "time"

type Flight struct {
	ID             int64
	FlightNumber   string
	Airline        string
	FromAirport    string
	ToAirport      string
	DepartureTime  time.Time
	ArrivalTime    time.Time
	TotalSeats     int
	AvailableSeats int
	PriceCents     int64
	Aircraft       string
	Stops          int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Duration formats the block time the way the booking pages show it, e.g. "3h 30m".
func (f Flight) Duration() string {
	d := f.ArrivalTime.Sub(f.DepartureTime).Round(time.Minute)
	if d <= 0 {
		return ""
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	return formatDuration(h, m)
}

// Offer turns a dataset row into the canonical offer shape.
func (f Flight) Offer(roundTrip bool) TicketOffer {
	return TicketOffer{
		FlightID:      f.ID,
		FlightNumber:  f.FlightNumber,
		Airline:       f.Airline,
		Price:         CentsToAmount(f.PriceCents),
		Currency:      DefaultCurrency,
		Origin:        f.FromAirport,
		Destination:   f.ToAirport,
		DepartureTime: f.DepartureTime,
		ArrivalTime:   f.ArrivalTime,
		Duration:      f.Duration(),
		Stops:         f.Stops,
		RoundTrip:     roundTrip,
		Aircraft:      f.Aircraft,
		SeatsLeft:     f.AvailableSeats,
	}
}
