package domain

import "time"

type OrderStatus string

const (
	OrderStatusConfirmed OrderStatus = "CONFIRMED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

// OrderRecord is created once payment is confirmed and is read-only afterwards.
type OrderRecord struct {
	ID               int64       `json:"orderId"`
	OrderNumber      string      `json:"orderNumber"`
	ItineraryNumber  string      `json:"itineraryNumber"`
	UserEmail        string      `json:"userEmail"`
	TicketIDs        []int64     `json:"flightTicketIds"`
	TotalCents       int64       `json:"-"`
	PaymentSessionID string      `json:"paymentSessionId,omitempty"`
	Status           OrderStatus `json:"status"`
	CreatedAt        time.Time   `json:"createdAt"`
}

func (o OrderRecord) TotalCost() float64 {
	return CentsToAmount(o.TotalCents)
}

// OrderRequest asks the backend to turn paid tickets into an order.
type OrderRequest struct {
	UserEmail        string  `json:"userEmail"`
	TicketIDs        []int64 `json:"flightTicketIds"`
	ItineraryNumber  string  `json:"itineraryNumber"`
	PaymentSessionID string  `json:"paymentSessionId,omitempty"`
}

// OrderDetails is the confirmation view of an order looked up by payment session.
type OrderDetails struct {
	OrderID         int64  `json:"orderId,omitempty"`
	OrderNumber     string `json:"orderNumber"`
	ItineraryNumber string `json:"itineraryNumber"`
	PassengerName   string `json:"passengerName"`
	Origin          string `json:"origin"`
	Destination     string `json:"destination"`
	Airline         string `json:"airline"`
	Cost            string `json:"cost"`
	Success         bool   `json:"success"`
	Message         string `json:"message,omitempty"`
}
