// Package booking is the front end's client for the booking backend. Every
// failure leaves this package as one of the domain error kinds.
package booking

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Domenick1991/aimtravel/internal/domain"
	"github.com/Domenick1991/aimtravel/internal/logger"
	"github.com/rs/zerolog"
)

const defaultTimeout = 10 * time.Second

type Client struct {
	baseURL string
	http    *http.Client
	log     zerolog.Logger
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// New returns a client for the backend at baseURL, e.g. "http://localhost:8080".
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/") + "/api/v1",
		http:    &http.Client{Timeout: defaultTimeout},
		log:     logger.WithComponent("booking-client"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type searchBody struct {
	Origin        string `json:"origin"`
	Destination   string `json:"destination"`
	DepartureDate string `json:"departureDate"`
	ReturnDate    string `json:"returnDate,omitempty"`
	Passengers    int    `json:"passengers"`
	RoundTrip     bool   `json:"roundTrip"`
	Page          int    `json:"page,omitempty"`
	Size          int    `json:"size,omitempty"`
}

type searchPayload struct {
	Data            []rawOffer        `json:"data"`
	OutboundFlights []rawOffer        `json:"outboundFlights"`
	ReturnFlights   []rawOffer        `json:"returnFlights"`
	Tickets         []rawOffer        `json:"tickets"`
	Pagination      domain.Pagination `json:"pagination"`
}

// Search runs a flight search. Offers come back normalized; page and size
// of zero leave paging to the backend.
func (c *Client) Search(ctx context.Context, criteria domain.SearchCriteria, page, size int) (*domain.SearchResult, error) {
	criteria = criteria.Normalize()
	body := searchBody{
		Origin:        criteria.Origin,
		Destination:   criteria.Destination,
		DepartureDate: criteria.DepartureDate.Format(domain.DateLayout),
		Passengers:    criteria.Passengers,
		RoundTrip:     criteria.RoundTrip,
		Page:          page,
		Size:          size,
	}
	if criteria.ReturnDate != nil {
		body.ReturnDate = criteria.ReturnDate.Format(domain.DateLayout)
	}

	var payload searchPayload
	if err := c.do(ctx, "search", http.MethodPost, "/tickets/search", body, &payload); err != nil {
		return nil, err
	}

	outbound := payload.OutboundFlights
	if outbound == nil {
		outbound = payload.Data
	}
	if outbound == nil {
		outbound = payload.Tickets
	}

	result := &domain.SearchResult{Pagination: payload.Pagination}
	var err error
	if result.Outbound, err = normalizeAll(outbound); err != nil {
		return nil, &domain.NetworkError{Op: "search", Err: err}
	}
	if result.Return, err = normalizeAll(payload.ReturnFlights); err != nil {
		return nil, &domain.NetworkError{Op: "search", Err: err}
	}
	return result, nil
}

func normalizeAll(raws []rawOffer) ([]domain.TicketOffer, error) {
	out := make([]domain.TicketOffer, 0, len(raws))
	for i, raw := range raws {
		offer, err := NormalizeOffer(raw)
		if err != nil {
			return nil, fmt.Errorf("offer %d: %w", i, err)
		}
		out = append(out, offer)
	}
	return out, nil
}

// ticketBody is the flat ticket form the backend accepts.
type ticketBody struct {
	Passenger           string  `json:"passenger"`
	DOB                 string  `json:"dob"`
	Email               string  `json:"email,omitempty"`
	Phone               string  `json:"phone,omitempty"`
	PassportNumber      string  `json:"passportNumber,omitempty"`
	FlightID            int64   `json:"flightId,omitempty"`
	FlightNumber        string  `json:"flightNumber,omitempty"`
	Origin              string  `json:"origin"`
	Destination         string  `json:"destination"`
	RoundTrip           bool    `json:"roundTrip"`
	DepartureTime       string  `json:"departureTime"`
	ArrivalTime         string  `json:"arrivalTime"`
	ReturnDepartureTime *string `json:"returnDepartureTime,omitempty"`
	ReturnArrivalTime   *string `json:"returnArrivalTime,omitempty"`
	Airline             string  `json:"airline"`
	Cost                float64 `json:"cost"`
	Currency            string  `json:"currency,omitempty"`
	Stops               int     `json:"stops"`
	Baggage             string  `json:"baggage,omitempty"`
	TravelClass         string  `json:"travelClass,omitempty"`
}

// CreateTicket books offer for passenger; the backend opens the payment
// session in the same call.
func (c *Client) CreateTicket(ctx context.Context, offer domain.TicketOffer, passenger domain.PassengerDetails) (*domain.TicketCheckout, error) {
	body := ticketBody{
		Passenger:      passenger.FullName,
		DOB:            passenger.DateOfBirth.Format(domain.DateLayout),
		Email:          passenger.Email,
		Phone:          passenger.Phone,
		PassportNumber: passenger.Passport,
		FlightID:       offer.FlightID,
		FlightNumber:   offer.FlightNumber,
		Origin:         offer.Origin,
		Destination:    offer.Destination,
		RoundTrip:      offer.RoundTrip,
		DepartureTime:  offer.DepartureTime.UTC().Format(time.RFC3339),
		ArrivalTime:    offer.ArrivalTime.UTC().Format(time.RFC3339),
		Airline:        offer.Airline,
		Cost:           offer.Price,
		Currency:       offer.Currency,
		Stops:          offer.Stops,
		Baggage:        offer.Baggage,
		TravelClass:    offer.TravelClass,
	}
	body.ReturnDepartureTime = formatOptional(offer.ReturnDepartureTime)
	body.ReturnArrivalTime = formatOptional(offer.ReturnArrivalTime)

	var out domain.TicketCheckout
	if err := c.do(ctx, "create ticket", http.MethodPost, "/tickets/create", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func formatOptional(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}

type orderPayload struct {
	OrderID         int64              `json:"orderId"`
	OrderNumber     string             `json:"orderNumber"`
	UserEmail       string             `json:"userEmail"`
	ItineraryNumber string             `json:"itineraryNumber"`
	TicketIDs       []int64            `json:"flightTicketIds"`
	TotalCost       float64            `json:"totalCost"`
	CreatedAt       string             `json:"createdAt"`
	Status          domain.OrderStatus `json:"status"`
}

func (p orderPayload) record() *domain.OrderRecord {
	o := &domain.OrderRecord{
		ID:              p.OrderID,
		OrderNumber:     p.OrderNumber,
		ItineraryNumber: p.ItineraryNumber,
		UserEmail:       p.UserEmail,
		TicketIDs:       p.TicketIDs,
		TotalCents:      domain.AmountToCents(p.TotalCost),
		Status:          p.Status,
	}
	if t, err := domain.ParseTimestamp(p.CreatedAt); err == nil {
		o.CreatedAt = t
	}
	return o
}

func (c *Client) CreateOrder(ctx context.Context, req domain.OrderRequest) (*domain.OrderRecord, error) {
	var out orderPayload
	if err := c.do(ctx, "create order", http.MethodPost, "/orders", req, &out); err != nil {
		return nil, err
	}
	return out.record(), nil
}

func (c *Client) GetOrder(ctx context.Context, id int64) (*domain.OrderRecord, error) {
	var out orderPayload
	if err := c.do(ctx, "get order", http.MethodGet, "/orders/"+strconv.FormatInt(id, 10), nil, &out); err != nil {
		return nil, err
	}
	return out.record(), nil
}

func (c *Client) CancelOrder(ctx context.Context, id int64) (*domain.OrderRecord, error) {
	var out orderPayload
	if err := c.do(ctx, "cancel order", http.MethodPut, "/orders/"+strconv.FormatInt(id, 10)+"/cancel", nil, &out); err != nil {
		return nil, err
	}
	return out.record(), nil
}

func (c *Client) OrderBySession(ctx context.Context, sessionID string) (*domain.OrderDetails, error) {
	var out domain.OrderDetails
	if err := c.do(ctx, "order by session", http.MethodGet, "/orders/session/"+url.PathEscape(sessionID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdatePaymentStatus reports a payment outcome. For "paid" the backend
// books the order; repeating the call returns the same order.
func (c *Client) UpdatePaymentStatus(ctx context.Context, sessionID string, status domain.PaymentStatus) (*domain.OrderDetails, error) {
	path := "/orders/payment/" + url.PathEscape(sessionID) + "/" + url.PathEscape(string(status))
	var out domain.OrderDetails
	if err := c.do(ctx, "update payment status", http.MethodPut, path, nil, &out); err != nil {
		var finalization *domain.FinalizationError
		if errors.As(err, &finalization) {
			finalization.SessionID = sessionID
		}
		return nil, err
	}
	return &out, nil
}

type errorPayload struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Field   string `json:"field"`
}

func (c *Client) do(ctx context.Context, op, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return &domain.NetworkError{Op: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &domain.NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return &domain.NetworkError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
		}
		return nil
	}

	return c.translate(op, resp)
}

// translate maps a failed response onto the domain error kinds.
func (c *Client) translate(op string, resp *http.Response) error {
	var payload errorPayload
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(data, &payload); err != nil || payload.Message == "" {
		payload.Message = strings.TrimSpace(string(data))
		if payload.Message == "" {
			payload.Message = http.StatusText(resp.StatusCode)
		}
	}
	c.log.Debug().Str("op", op).Int("status", resp.StatusCode).Str("code", payload.Error).Msg(payload.Message)

	switch {
	case resp.StatusCode == http.StatusBadRequest && payload.Field != "":
		return domain.NewValidationError(payload.Field, payload.Message)
	case resp.StatusCode == http.StatusUnprocessableEntity:
		return &domain.FinalizationError{Err: errors.New(payload.Message)}
	case resp.StatusCode == http.StatusNotFound:
		return &domain.NetworkError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("%w: %s", domain.ErrNotFound, payload.Message)}
	}
	return &domain.NetworkError{Op: op, StatusCode: resp.StatusCode, Err: errors.New(payload.Message)}
}
