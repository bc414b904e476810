package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/Domenick1991/aimtravel/internal/domain"
	"github.com/Domenick1991/aimtravel/internal/service/booking"
	"github.com/gin-gonic/gin"
)

type BookingHandler struct {
	service booking.BookingUseCase
}

// createTicketRequest is the flat ticket form posted by the booking pages.
type createTicketRequest struct {
	Passenger           string  `json:"passenger"`
	DOB                 string  `json:"dob"`
	Email               string  `json:"email"`
	Phone               string  `json:"phone"`
	PassportNumber      string  `json:"passportNumber"`
	FlightID            int64   `json:"flightId"`
	FlightNumber        string  `json:"flightNumber"`
	Origin              string  `json:"origin"`
	Destination         string  `json:"destination"`
	RoundTrip           bool    `json:"roundTrip"`
	DepartureTime       string  `json:"departureTime"`
	ArrivalTime         string  `json:"arrivalTime"`
	ReturnDepartureTime *string `json:"returnDepartureTime"`
	ReturnArrivalTime   *string `json:"returnArrivalTime"`
	Airline             string  `json:"airline"`
	Cost                float64 `json:"cost"`
	Currency            string  `json:"currency"`
	Stops               int     `json:"stops"`
	Baggage             string  `json:"baggage"`
	TravelClass         string  `json:"travelClass"`
}

type ticketResponse struct {
	ID                int64               `json:"id"`
	OrderNumber       string              `json:"orderNumber"`
	Status            domain.TicketStatus `json:"status"`
	Passenger         string              `json:"passenger"`
	Email             string              `json:"email,omitempty"`
	PaymentSessionID  string              `json:"paymentSessionId,omitempty"`
	PaymentSessionURL string              `json:"paymentSessionUrl,omitempty"`
	Offer             domain.TicketOffer  `json:"ticket"`
	CreatedAt         string              `json:"createdAt"`
}

type orderResponse struct {
	OrderID         int64              `json:"orderId"`
	OrderNumber     string             `json:"orderNumber"`
	UserEmail       string             `json:"userEmail"`
	ItineraryNumber string             `json:"itineraryNumber"`
	TicketIDs       []int64            `json:"flightTicketIds"`
	TotalCost       float64            `json:"totalCost"`
	CreatedAt       string             `json:"createdAt"`
	Status          domain.OrderStatus `json:"status"`
}

func NewBookingHandler(service booking.BookingUseCase) *BookingHandler {
	return &BookingHandler{service: service}
}

func (h *BookingHandler) Register(router *gin.RouterGroup) {
	router.POST("/tickets", h.createTicket)
	router.POST("/tickets/create", h.createTicketWithPayment)

	router.POST("/orders", h.createOrder)
	router.GET("/orders/:id", h.getOrder)
	router.PUT("/orders/:id/cancel", h.cancelOrder)
	router.GET("/orders/session/:sessionId", h.getOrderBySession)
	router.PUT("/orders/payment/:sessionId/:status", h.updatePaymentStatus)
}

func (h *BookingHandler) createTicket(c *gin.Context) {
	var req createTicketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "", err.Error())
		return
	}
	ticketReq, err := req.toDomain()
	if err != nil {
		respondError(c, err)
		return
	}

	ticket, err := h.service.CreateTicket(c.Request.Context(), c.Query("userEmail"), ticketReq)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newTicketResponse(ticket))
}

func (h *BookingHandler) createTicketWithPayment(c *gin.Context) {
	var req createTicketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "", err.Error())
		return
	}
	ticketReq, err := req.toDomain()
	if err != nil {
		respondError(c, err)
		return
	}

	checkout, err := h.service.CreateTicketWithPayment(c.Request.Context(), ticketReq)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, checkout)
}

func (h *BookingHandler) createOrder(c *gin.Context) {
	var req domain.OrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "", err.Error())
		return
	}

	order, err := h.service.CreateOrder(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newOrderResponse(order))
}

func (h *BookingHandler) getOrder(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}
	order, err := h.service.GetOrder(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newOrderResponse(order))
}

func (h *BookingHandler) cancelOrder(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}
	order, err := h.service.CancelOrder(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newOrderResponse(order))
}

func (h *BookingHandler) getOrderBySession(c *gin.Context) {
	details, err := h.service.GetOrderBySession(c.Request.Context(), c.Param("sessionId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, details)
}

func (h *BookingHandler) updatePaymentStatus(c *gin.Context) {
	status := domain.PaymentStatus(c.Param("status"))
	if status != domain.PaymentStatusPaid && status != domain.PaymentStatusFailed {
		badRequest(c, "status", "status must be paid or failed")
		return
	}

	details, err := h.service.UpdatePaymentStatus(c.Request.Context(), c.Param("sessionId"), status)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, details)
}

func orderID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		badRequest(c, "id", "invalid order id")
		return 0, false
	}
	return id, true
}

func (r createTicketRequest) toDomain() (domain.TicketRequest, error) {
	out := domain.TicketRequest{
		Passenger: domain.PassengerDetails{
			FullName: r.Passenger,
			Email:    r.Email,
			Phone:    r.Phone,
			Passport: r.PassportNumber,
		},
		Offer: domain.TicketOffer{
			FlightID:     r.FlightID,
			FlightNumber: r.FlightNumber,
			Airline:      r.Airline,
			Price:        r.Cost,
			Currency:     r.Currency,
			Origin:       r.Origin,
			Destination:  r.Destination,
			Stops:        r.Stops,
			RoundTrip:    r.RoundTrip,
			Baggage:      r.Baggage,
			TravelClass:  r.TravelClass,
		},
	}

	if r.DOB != "" {
		dob, err := domain.ParseDate(r.DOB)
		if err != nil {
			return out, domain.NewValidationError("dob", "Date of birth must be YYYY-MM-DD")
		}
		out.Passenger.DateOfBirth = dob
	}

	var err error
	if out.Offer.DepartureTime, err = optionalTime("departureTime", r.DepartureTime); err != nil {
		return out, err
	}
	if out.Offer.ArrivalTime, err = optionalTime("arrivalTime", r.ArrivalTime); err != nil {
		return out, err
	}
	if out.Offer.ReturnDepartureTime, err = optionalTimePtr("returnDepartureTime", r.ReturnDepartureTime); err != nil {
		return out, err
	}
	if out.Offer.ReturnArrivalTime, err = optionalTimePtr("returnArrivalTime", r.ReturnArrivalTime); err != nil {
		return out, err
	}
	return out, nil
}

func optionalTime(field, s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := domain.ParseTimestamp(s)
	if err != nil {
		return time.Time{}, domain.NewValidationError(field, err.Error())
	}
	return t, nil
}

func optionalTimePtr(field string, s *string) (*time.Time, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	t, err := optionalTime(field, *s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func newTicketResponse(t *domain.Ticket) ticketResponse {
	return ticketResponse{
		ID:                t.ID,
		OrderNumber:       t.OrderNumber,
		Status:            t.Status,
		Passenger:         t.Passenger.FullName,
		Email:             t.Passenger.Email,
		PaymentSessionID:  t.PaymentSessionID,
		PaymentSessionURL: t.PaymentSessionURL,
		Offer:             t.Offer,
		CreatedAt:         t.CreatedAt.Format(time.RFC3339),
	}
}

func newOrderResponse(o *domain.OrderRecord) orderResponse {
	return orderResponse{
		OrderID:         o.ID,
		OrderNumber:     o.OrderNumber,
		UserEmail:       o.UserEmail,
		ItineraryNumber: o.ItineraryNumber,
		TicketIDs:       o.TicketIDs,
		TotalCost:       o.TotalCost(),
		CreatedAt:       o.CreatedAt.Format(time.RFC3339),
		Status:          o.Status,
	}
}
