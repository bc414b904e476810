package api

import (
	"net/http"
	"strconv"

	"github.com/Domenick1991/aimtravel/internal/domain"
	"github.com/Domenick1991/aimtravel/internal/service/flights"
	"github.com/gin-gonic/gin"
)

type FlightHandler struct {
	service flights.FlightUseCase
}

type searchRequest struct {
	Origin        string `json:"origin"`
	Destination   string `json:"destination"`
	DepartureDate string `json:"departureDate"`
	ReturnDate    string `json:"returnDate"`
	Passengers    int    `json:"passengers"`
	RoundTrip     bool   `json:"roundTrip"`
	Page          int    `json:"page"`
	Size          int    `json:"size"`
}

type searchResponse struct {
	Data            []domain.TicketOffer `json:"data"`
	OutboundFlights []domain.TicketOffer `json:"outboundFlights"`
	ReturnFlights   []domain.TicketOffer `json:"returnFlights"`
	TotalResults    int                  `json:"totalResults"`
	Pagination      domain.Pagination    `json:"pagination"`
}

func NewFlightHandler(service flights.FlightUseCase) *FlightHandler {
	return &FlightHandler{service: service}
}

func (h *FlightHandler) Register(router *gin.RouterGroup) {
	router.GET("/flights", h.list)
	router.GET("/flights/:id", h.get)
	router.POST("/tickets/search", h.search)
}

func (h *FlightHandler) list(c *gin.Context) {
	flights, err := h.service.List(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, flights)
}

func (h *FlightHandler) get(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		badRequest(c, "id", "invalid id")
		return
	}
	flight, err := h.service.GetByID(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, flight)
}

func (h *FlightHandler) search(c *gin.Context) {
	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "", err.Error())
		return
	}

	criteria, err := req.criteria()
	if err != nil {
		respondError(c, err)
		return
	}

	page, size := req.Page, req.Size
	if v, err := strconv.Atoi(c.Query("page")); err == nil {
		page = v
	}
	if v, err := strconv.Atoi(c.Query("size")); err == nil {
		size = v
	}

	result, err := h.service.Search(c.Request.Context(), criteria, page, size)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, searchResponse{
		Data:            result.Offers(),
		OutboundFlights: result.Outbound,
		ReturnFlights:   result.Return,
		TotalResults:    result.Total(),
		Pagination:      result.Pagination,
	})
}

func (r searchRequest) criteria() (domain.SearchCriteria, error) {
	c := domain.SearchCriteria{
		Origin:      r.Origin,
		Destination: r.Destination,
		Passengers:  r.Passengers,
		RoundTrip:   r.RoundTrip,
	}
	if r.DepartureDate != "" {
		d, err := domain.ParseDate(r.DepartureDate)
		if err != nil {
			return c, domain.NewValidationError("departureDate", "departure date must be YYYY-MM-DD")
		}
		c.DepartureDate = d
	}
	if r.ReturnDate != "" {
		d, err := domain.ParseDate(r.ReturnDate)
		if err != nil {
			return c, domain.NewValidationError("returnDate", "return date must be YYYY-MM-DD")
		}
		c.ReturnDate = &d
	}
	return c, nil
}
