package booking

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Domenick1991/aimtravel/internal/domain"
)

// rawOffer is a ticket as the backends send it. Field names and value
// shapes vary between endpoints, so nothing is decoded until NormalizeOffer.
type rawOffer map[string]json.RawMessage

// Alternative keys, most specific first.
var (
	priceKeys       = []string{"price", "cost", "totalCost"}
	airlineKeys     = []string{"airline", "airlineName"}
	originKeys      = []string{"origin", "departureAirport", "from"}
	destinationKeys = []string{"destination", "arrivalAirport", "to"}
	departureKeys   = []string{"departureTime", "departure"}
	arrivalKeys     = []string{"arrivalTime", "arrival"}
	flightIDKeys    = []string{"flightId", "id"}
	seatsKeys       = []string{"availableSeats", "seatsLeft"}
)

// NormalizeOffer turns one loosely-typed ticket object into a TicketOffer.
func NormalizeOffer(raw map[string]json.RawMessage) (domain.TicketOffer, error) {
	r := rawOffer(raw)
	var (
		offer domain.TicketOffer
		err   error
	)

	offer.Airline = r.str(airlineKeys...)
	offer.FlightNumber = r.str("flightNumber")
	offer.Origin = strings.ToUpper(r.str(originKeys...))
	offer.Destination = strings.ToUpper(r.str(destinationKeys...))
	offer.Currency = r.str("currency")
	offer.Duration = r.str("duration")
	offer.Baggage = r.str("baggage")
	offer.TravelClass = r.str("travelClass")
	offer.Aircraft = r.str("aircraft")
	offer.RoundTrip = r.boolean("roundTrip")

	if offer.FlightID, err = r.integer(flightIDKeys...); err != nil {
		return offer, err
	}
	stops, err := r.integer("stops")
	if err != nil {
		return offer, err
	}
	offer.Stops = int(stops)
	seats, err := r.integer(seatsKeys...)
	if err != nil {
		return offer, err
	}
	offer.SeatsLeft = int(seats)

	if offer.Price, err = r.number(priceKeys...); err != nil {
		return offer, err
	}

	if offer.DepartureTime, err = r.timestamp(departureKeys...); err != nil {
		return offer, err
	}
	if offer.ArrivalTime, err = r.timestamp(arrivalKeys...); err != nil {
		return offer, err
	}
	if t, err := r.timestamp("returnDepartureTime"); err != nil {
		return offer, err
	} else if !t.IsZero() {
		offer.ReturnDepartureTime = &t
	}
	if t, err := r.timestamp("returnArrivalTime"); err != nil {
		return offer, err
	} else if !t.IsZero() {
		offer.ReturnArrivalTime = &t
	}
	return offer, nil
}

func (r rawOffer) first(keys ...string) (string, json.RawMessage) {
	for _, k := range keys {
		if v, ok := r[k]; ok && string(v) != "null" {
			return k, v
		}
	}
	return "", nil
}

func (r rawOffer) str(keys ...string) string {
	_, v := r.first(keys...)
	if v == nil {
		return ""
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return strings.Trim(string(v), `"`)
	}
	return strings.TrimSpace(s)
}

func (r rawOffer) boolean(keys ...string) bool {
	_, v := r.first(keys...)
	var b bool
	_ = json.Unmarshal(v, &b)
	return b
}

// number accepts 299.99 as well as "299.99".
func (r rawOffer) number(keys ...string) (float64, error) {
	k, v := r.first(keys...)
	if v == nil {
		return 0, nil
	}
	var f float64
	if err := json.Unmarshal(v, &f); err == nil {
		return f, nil
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return 0, fmt.Errorf("field %s: not a number: %s", k, v)
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("field %s: %w", k, err)
	}
	return f, nil
}

func (r rawOffer) integer(keys ...string) (int64, error) {
	f, err := r.number(keys...)
	return int64(f), err
}

// timestamp accepts ISO strings and [year, month, day, hour, minute(, second)] arrays.
func (r rawOffer) timestamp(keys ...string) (time.Time, error) {
	k, v := r.first(keys...)
	if v == nil {
		return time.Time{}, nil
	}

	var parts []int
	if err := json.Unmarshal(v, &parts); err == nil {
		return timeFromParts(k, parts)
	}

	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return time.Time{}, fmt.Errorf("field %s: unsupported time value %s", k, v)
	}
	if s == "" {
		return time.Time{}, nil
	}
	t, err := domain.ParseTimestamp(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("field %s: %w", k, err)
	}
	return t, nil
}

func timeFromParts(key string, p []int) (time.Time, error) {
	if len(p) < 3 {
		return time.Time{}, fmt.Errorf("field %s: time array needs at least year, month and day", key)
	}
	for len(p) < 6 {
		p = append(p, 0)
	}
	return time.Date(p[0], time.Month(p[1]), p[2], p[3], p[4], p[5], 0, time.UTC), nil
}
