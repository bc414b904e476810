package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Domenick1991/aimtravel/docs"
	"github.com/Domenick1991/aimtravel/internal/logger"
	"github.com/Domenick1991/aimtravel/internal/metrics"
	"github.com/Domenick1991/aimtravel/internal/ratelimit"
	"github.com/Domenick1991/aimtravel/internal/service/booking"
	"github.com/Domenick1991/aimtravel/internal/service/flights"
	"github.com/gin-gonic/gin"
	httpSwagger "github.com/swaggo/http-swagger"
)

// Deps are the collaborators the HTTP surface is built from.
type Deps struct {
	Flights       flights.FlightUseCase
	Booking       booking.BookingUseCase
	Payments      PaymentGateway
	Hub           Subscriber
	Limiter       *ratelimit.KeyedLimiter
	AllowedOrigin string
	Heartbeat     time.Duration
	Ready         func() bool
}

func NewRouter(d Deps) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), logger.GinMiddleware(logger.WithComponent("http")), requestMetrics(), cors(d.AllowedOrigin))

	router.GET("/healthz", func(c *gin.Context) {
		ready := d.Ready == nil || d.Ready()
		status := http.StatusOK
		if !ready {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "ready": ready, "time": time.Now().UTC().Format(time.RFC3339)})
	})
	router.GET("/metrics", gin.WrapH(metrics.Handler()))
	router.GET("/swagger/*any", swagger())

	v1 := router.Group("/api/v1")
	if d.Limiter != nil {
		v1.Use(d.Limiter.Middleware())
	}

	NewFlightHandler(d.Flights).Register(v1)
	NewBookingHandler(d.Booking).Register(v1)
	NewPaymentHandler(d.Payments, d.Booking).Register(v1, router)
	NewNotificationHandler(d.Hub, d.Heartbeat).Register(v1)

	return router
}

func swagger() gin.HandlerFunc {
	ui := httpSwagger.Handler(httpSwagger.URL("/swagger/doc.json"))
	return func(c *gin.Context) {
		switch c.Param("any") {
		case "/doc.json":
			c.Data(http.StatusOK, "application/json", docs.OpenAPI)
		case "/", "":
			c.Redirect(http.StatusMovedPermanently, "/swagger/index.html")
		default:
			ui.ServeHTTP(c.Writer, c.Request)
		}
	}
}

func requestMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := metrics.NewTimer()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		timer.ObserveDuration(metrics.RequestDuration.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())))
	}
}

// cors allows the configured front-end origin; "*" allows any.
func cors(allowed string) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && (allowed == "*" || strings.EqualFold(origin, allowed)) {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			c.Header("Vary", "Origin")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
