package domain

import (
	"strings"
	"time"
)

const DateLayout = "2006-01-02"

// SearchCriteria is what the search form submits.
type SearchCriteria struct {
	Origin        string     `json:"origin"`
	Destination   string     `json:"destination"`
	DepartureDate time.Time  `json:"departureDate"`
	ReturnDate    *time.Time `json:"returnDate,omitempty"`
	Passengers    int        `json:"passengers"`
	RoundTrip     bool       `json:"roundTrip"`
}

// Normalize trims and upper-cases airport codes and truncates dates to UTC days.
func (c SearchCriteria) Normalize() SearchCriteria {
	c.Origin = strings.ToUpper(strings.TrimSpace(c.Origin))
	c.Destination = strings.ToUpper(strings.TrimSpace(c.Destination))
	c.DepartureDate = truncateDay(c.DepartureDate)
	if c.ReturnDate != nil {
		rd := truncateDay(*c.ReturnDate)
		c.ReturnDate = &rd
	}
	return c
}

func (c SearchCriteria) Validate() error {
	c = c.Normalize()
	switch {
	case c.Origin == "":
		return NewValidationError("origin", "origin is required")
	case c.Destination == "":
		return NewValidationError("destination", "destination is required")
	case c.Origin == c.Destination:
		return NewValidationError("destination", "destination must differ from origin")
	case c.DepartureDate.IsZero():
		return NewValidationError("departureDate", "departure date is required")
	case c.Passengers < 1:
		return NewValidationError("passengers", "at least one passenger is required")
	}
	if c.RoundTrip && c.ReturnDate == nil {
		return NewValidationError("returnDate", "return date is required for a round trip")
	}
	if c.ReturnDate != nil && c.ReturnDate.Before(c.DepartureDate) {
		return NewValidationError("returnDate", "return date must not be before departure date")
	}
	return nil
}

// Key identifies the criteria for caching.
func (c SearchCriteria) Key() string {
	c = c.Normalize()
	ret := "-"
	if c.ReturnDate != nil {
		ret = c.ReturnDate.Format(DateLayout)
	}
	rt := "ow"
	if c.RoundTrip {
		rt = "rt"
	}
	return strings.Join([]string{c.Origin, c.Destination, c.DepartureDate.Format(DateLayout), ret, itoa(c.Passengers), rt}, ":")
}

// ParseDate parses a YYYY-MM-DD calendar date in UTC.
func ParseDate(s string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, strings.TrimSpace(s), time.UTC)
}

func truncateDay(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// SameDay reports whether t falls on the UTC calendar day of day.
func SameDay(t, day time.Time) bool {
	return truncateDay(t).Equal(truncateDay(day))
}

type Pagination struct {
	Page          int  `json:"page"`
	Size          int  `json:"size"`
	TotalElements int  `json:"totalElements"`
	TotalPages    int  `json:"totalPages"`
	HasNext       bool `json:"hasNext"`
	HasPrevious   bool `json:"hasPrevious"`
}

// NewPagination computes page metadata for total elements; page is 1-based.
func NewPagination(page, size, total int) Pagination {
	if size <= 0 {
		size = total
	}
	if page < 1 {
		page = 1
	}
	pages := 1
	if size > 0 && total > 0 {
		pages = (total + size - 1) / size
	}
	return Pagination{
		Page:          page,
		Size:          size,
		TotalElements: total,
		TotalPages:    pages,
		HasNext:       page < pages,
		HasPrevious:   page > 1,
	}
}

// SearchResult is one page of offers.
type SearchResult struct {
	Outbound   []TicketOffer `json:"outboundFlights"`
	Return     []TicketOffer `json:"returnFlights"`
	Pagination Pagination    `json:"pagination"`
}

// Offers returns outbound offers followed by return offers.
func (r *SearchResult) Offers() []TicketOffer {
	out := make([]TicketOffer, 0, len(r.Outbound)+len(r.Return))
	out = append(out, r.Outbound...)
	return append(out, r.Return...)
}

func (r *SearchResult) Total() int {
	return len(r.Outbound) + len(r.Return)
}
