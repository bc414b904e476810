package checkout

import (
	"errors"
	"fmt"
	"time"

	"github.com/Domenick1991/aimtravel/internal/domain"
)

type State string

const (
	StateSearchEntry             State = "SearchEntry"
	StateSearching               State = "Searching"
	StateResultsShown            State = "ResultsShown"
	StatePassengerEntry          State = "PassengerEntry"
	StateCreatingPaymentSession  State = "CreatingPaymentSession"
	StateAwaitingExternalPayment State = "AwaitingExternalPayment"
	StateFinalizingOrder         State = "FinalizingOrder"
	StateConfirmed               State = "Confirmed"
	StatePaymentFailed           State = "PaymentFailed"
	StateOrderFinalizationError  State = "OrderFinalizationError"
)

func (s State) Valid() bool {
	switch s {
	case StateSearchEntry, StateSearching, StateResultsShown, StatePassengerEntry,
		StateCreatingPaymentSession, StateAwaitingExternalPayment, StateFinalizingOrder,
		StateConfirmed, StatePaymentFailed, StateOrderFinalizationError:
		return true
	}
	return false
}

// Terminal states end a checkout attempt.
func (s State) Terminal() bool {
	return s == StateConfirmed || s == StatePaymentFailed || s == StateOrderFinalizationError
}

// Status is the coarse lifecycle of a CheckoutSession.
type Status string

const (
	StatusCreated          Status = "Created"
	StatusAwaitingRedirect Status = "AwaitingRedirect"
	StatusConfirmed        Status = "Confirmed"
	StatusFailed           Status = "Failed"
)

func statusOf(s State) Status {
	switch s {
	case StateAwaitingExternalPayment, StateFinalizingOrder:
		return StatusAwaitingRedirect
	case StateConfirmed:
		return StatusConfirmed
	case StatePaymentFailed, StateOrderFinalizationError:
		return StatusFailed
	}
	return StatusCreated
}

// Session is the serializable state of one checkout attempt.
type Session struct {
	State             State                    `json:"state"`
	Status            Status                   `json:"status"`
	Criteria          *domain.SearchCriteria   `json:"criteria,omitempty"`
	Offer             *domain.TicketOffer      `json:"offer,omitempty"`
	Passenger         *domain.PassengerDetails `json:"passenger,omitempty"`
	TicketID          int64                    `json:"ticketId,omitempty"`
	OrderNumber       string                   `json:"orderNumber,omitempty"`
	PaymentSessionID  string                   `json:"paymentSessionId,omitempty"`
	PaymentSessionURL string                   `json:"paymentSessionUrl,omitempty"`
	Order             *domain.OrderDetails     `json:"order,omitempty"`
	Error             string                   `json:"error,omitempty"`
	UpdatedAt         time.Time                `json:"updatedAt"`
}

var (
	ErrInvalidTransition = errors.New("invalid checkout transition")
	// ErrAbandoned is returned to a step whose attempt was cancelled while
	// it waited on the network.
	ErrAbandoned      = errors.New("checkout attempt abandoned")
	ErrUnknownSession = errors.New("no checkout attempt for payment session")
)

type TransitionError struct {
	From   State
	Action string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s from %s", e.Action, e.From)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }
