package api

import (
	"bytes"
	"context"
	"html/template"
	"net/http"
	"strings"

	"github.com/Domenick1991/aimtravel/internal/domain"
	"github.com/Domenick1991/aimtravel/internal/logger"
	"github.com/Domenick1991/aimtravel/internal/payment"
	"github.com/Domenick1991/aimtravel/internal/service/booking"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// PaymentGateway is the provider side of the mock checkout.
type PaymentGateway interface {
	Get(id string) (*payment.Session, error)
	Complete(ctx context.Context, id string, paid bool) (*payment.Session, bool, error)
}

type PaymentHandler struct {
	gateway PaymentGateway
	booking booking.BookingUseCase
	log     zerolog.Logger
}

type mockOutcomeRequest struct {
	SessionID string `json:"sessionId"`
	OrderID   string `json:"orderId"`
}

// webhookEvent mirrors the subset of a hosted-checkout webhook we act on.
type webhookEvent struct {
	Type string `json:"type"`
	Data struct {
		Object struct {
			ID            string            `json:"id"`
			PaymentStatus string            `json:"payment_status"`
			AmountTotal   int64             `json:"amount_total"`
			Metadata      map[string]string `json:"metadata"`
		} `json:"object"`
	} `json:"data"`
}

const (
	webhookSessionCompleted = "checkout.session.completed"
	webhookSessionExpired   = "checkout.session.expired"
	webhookPaymentFailed    = "payment_intent.payment_failed"
)

func NewPaymentHandler(gateway PaymentGateway, bookingSvc booking.BookingUseCase) *PaymentHandler {
	return &PaymentHandler{gateway: gateway, booking: bookingSvc, log: logger.WithComponent("payments-api")}
}

func (h *PaymentHandler) Register(api *gin.RouterGroup, root gin.IRoutes) {
	api.POST("/stripe/create-checkout-session", h.createSession)
	api.GET("/stripe/verify-payment/:sessionId", h.verify)
	api.POST("/stripe/webhook", h.webhook)
	api.POST("/stripe/mock-payment-success", h.mockOutcome(true))
	api.POST("/stripe/mock-payment-failed", h.mockOutcome(false))

	root.GET("/checkout/:sessionId", h.hostedPage)
	root.POST("/checkout/:sessionId/pay", h.hostedComplete(true))
	root.POST("/checkout/:sessionId/fail", h.hostedComplete(false))
}

func (h *PaymentHandler) createSession(c *gin.Context) {
	var req booking.PaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "", err.Error())
		return
	}

	session, err := h.booking.StartPayment(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

func (h *PaymentHandler) verify(c *gin.Context) {
	session, err := h.gateway.Get(c.Param("sessionId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, payment.EventFor(session))
}

func (h *PaymentHandler) webhook(c *gin.Context) {
	var event webhookEvent
	if err := c.ShouldBindJSON(&event); err != nil {
		badRequest(c, "", err.Error())
		return
	}
	id := event.Data.Object.ID
	if id == "" {
		badRequest(c, "data.object.id", "session id is required")
		return
	}

	var paid bool
	switch event.Type {
	case webhookSessionCompleted:
		paid = true
	case webhookSessionExpired, webhookPaymentFailed:
		paid = false
	default:
		c.JSON(http.StatusOK, gin.H{"received": true, "ignored": event.Type})
		return
	}

	ctx := c.Request.Context()
	session, _, err := h.gateway.Complete(ctx, id, paid)
	if err != nil {
		respondError(c, err)
		return
	}

	// The provider confirmed the outcome, so the order is settled here too;
	// the checkout client's own finalization then finds it.
	status := domain.PaymentStatusFailed
	if session.Status == domain.PaymentStatusPaid {
		status = domain.PaymentStatusPaid
	}
	if _, err := h.booking.UpdatePaymentStatus(ctx, id, status); err != nil {
		h.log.Warn().Err(err).Str("session", id).Str("status", string(status)).Msg("webhook settlement failed")
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}

func (h *PaymentHandler) mockOutcome(paid bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req mockOutcomeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "", err.Error())
			return
		}
		if req.SessionID == "" {
			badRequest(c, "sessionId", "sessionId is required")
			return
		}

		session, changed, err := h.gateway.Complete(c.Request.Context(), req.SessionID, paid)
		if err != nil {
			respondError(c, err)
			return
		}

		message := "Payment failure event emitted"
		if paid {
			message = "Payment success event emitted"
		}
		if !changed {
			message = "Payment already settled"
		}
		c.JSON(http.StatusOK, gin.H{"message": message, "event": payment.EventFor(session)})
	}
}

var hostedPageTemplate = template.Must(template.New("checkout").Parse(`<!DOCTYPE html>
<html>
<head><title>Checkout {{.ID}}</title></head>
<body>
<h1>Mock checkout</h1>
<p>{{.Description}}</p>
<p>Amount: {{.Amount}} {{.Currency}}</p>
<p>Status: {{.Status}}</p>
{{if .Open}}
<form method="post" action="/checkout/{{.ID}}/pay"><button type="submit">Pay</button></form>
<form method="post" action="/checkout/{{.ID}}/fail"><button type="submit">Cancel payment</button></form>
{{end}}
</body>
</html>`))

func (h *PaymentHandler) hostedPage(c *gin.Context) {
	session, err := h.gateway.Get(c.Param("sessionId"))
	if err != nil {
		respondError(c, err)
		return
	}

	var buf bytes.Buffer
	err = hostedPageTemplate.Execute(&buf, map[string]any{
		"ID":          session.ID,
		"Description": session.Description,
		"Amount":      domain.FormatCents(session.AmountCents),
		"Currency":    strings.ToUpper(session.Currency),
		"Status":      session.Status,
		"Open":        session.Status == domain.PaymentStatusUnpaid,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", buf.Bytes())
}

// hostedComplete settles the session and sends the payer back to the shop.
// JSON clients get the return URL in the body instead of a redirect.
func (h *PaymentHandler) hostedComplete(paid bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		session, _, err := h.gateway.Complete(c.Request.Context(), c.Param("sessionId"), paid)
		if err != nil {
			respondError(c, err)
			return
		}

		returnURL := session.ReturnURL()
		if strings.Contains(c.GetHeader("Accept"), "application/json") || returnURL == "" {
			c.JSON(http.StatusOK, gin.H{"status": session.Status, "returnUrl": returnURL})
			return
		}
		c.Redirect(http.StatusSeeOther, returnURL)
	}
}
