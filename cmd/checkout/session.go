package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/Domenick1991/aimtravel/internal/checkout"
	"github.com/Domenick1991/aimtravel/internal/client/booking"
	"github.com/Domenick1991/aimtravel/internal/client/notify"
	"github.com/Domenick1991/aimtravel/internal/client/payment"
	"github.com/Domenick1991/aimtravel/internal/domain"
	"github.com/Domenick1991/aimtravel/internal/logger"
	"github.com/spf13/cobra"
)

// pushNotifier reports a push channel that failed to connect as an error
// next to the handle, which the machine still releases.
type pushNotifier struct {
	client *notify.Client
}

func (n pushNotifier) Subscribe(ctx context.Context, identity, correlationID string) (checkout.Subscription, error) {
	sub := n.client.Subscribe(ctx, identity, correlationID)
	return sub, sub.Err()
}

// pageRecordingClient passes the hosted page the backend opened with a
// ticket on to the payment adapter.
type pageRecordingClient struct {
	*booking.Client
	payments *payment.Adapter
}

func (c pageRecordingClient) CreateTicket(ctx context.Context, offer domain.TicketOffer, passenger domain.PassengerDetails) (*domain.TicketCheckout, error) {
	ticket, err := c.Client.CreateTicket(ctx, offer, passenger)
	if err != nil {
		return nil, err
	}
	c.payments.Remember(ticket.PaymentSessionID, ticket.PaymentSessionURL)
	return ticket, nil
}

// session is one checkout machine with the collaborators it drives.
type session struct {
	machine  *checkout.Machine
	payments *payment.Adapter
	push     *notify.Client
	store    *checkout.BoltStore

	// outcome is signalled on every terminal transition; returns carries
	// return URLs handed back by the auto-pay navigator.
	outcome chan checkout.State
	returns chan string
}

func newSession(cmd *cobra.Command) (*session, error) {
	store, err := checkout.OpenBoltStore(cfg.Checkout.SessionStore)
	if err != nil {
		return nil, err
	}
	s := &session{
		store:   store,
		outcome: make(chan checkout.State, 4),
		returns: make(chan string, 1),
	}

	var nav payment.Navigator = payment.PrintNavigator{Out: cmd.OutOrStdout()}
	autoPay, _ := cmd.Flags().GetBool("auto-pay")
	fail, _ := cmd.Flags().GetBool("fail")
	browser, _ := cmd.Flags().GetString("browser")
	switch {
	case autoPay || fail:
		nav = payment.AutoPayNavigator{
			Fail: fail,
			OnReturn: func(returnURL string) {
				select {
				case s.returns <- returnURL:
				default:
				}
			},
		}
	case browser != "":
		nav = payment.BrowserNavigator{Command: browser}
	}
	s.payments = payment.New(cfg.Checkout.BackendURL, nav, payment.WithTimeout(cfg.Checkout.Timeout()))

	log := logger.WithComponent("checkout-cli")
	s.push = notify.New(cfg.Checkout.BackendURL, notify.WithErrorHandler(func(err error) {
		log.Warn().Err(err).Msg("push channel")
	}))
	notifier := pushNotifier{client: s.push}

	verbose, _ := cmd.Flags().GetBool("verbose")
	pageSize, _ := cmd.Flags().GetInt("size")
	stderr := cmd.ErrOrStderr()
	bookings := pageRecordingClient{Client: newBookingClient(), payments: s.payments}
	s.machine = checkout.NewMachine(bookings, s.payments, notifier,
		checkout.WithStore(store),
		checkout.WithPageSize(pageSize),
		// Finalization started by a push event must survive Ctrl+C.
		checkout.WithContext(context.WithoutCancel(cmd.Context())),
		checkout.WithListener(func(from, to checkout.State) {
			if verbose {
				fmt.Fprintf(stderr, "  [%s -> %s]\n", from, to)
			}
			if to.Terminal() {
				select {
				case s.outcome <- to:
				default:
				}
			}
		}),
	)
	return s, nil
}

// Close drops a push channel left open by an unfinished attempt; the
// attempt itself stays in the store.
func (s *session) Close() error {
	s.push.Unsubscribe(s.push.Active())
	return s.store.Close()
}

// await waits for the payment outcome from a push event or the payer's
// return URL. It reports false when the configured wait passes first; the
// attempt stays saved for resume.
func (s *session) await(ctx context.Context, w io.Writer, sessionID string) (bool, error) {
	if !s.machine.State().Terminal() {
		fmt.Fprintln(w, "Waiting for the payment outcome...")
	}

	timer := time.NewTimer(time.Duration(cfg.Checkout.WaitSeconds) * time.Second)
	defer timer.Stop()
	for {
		if s.machine.State().Terminal() {
			return true, nil
		}
		select {
		case <-s.outcome:
		case returnURL := <-s.returns:
			// Failures are reflected in the machine's state.
			_, _ = s.machine.ResumeFromReturnURL(ctx, returnURL)
		case <-timer.C:
			return false, nil
		case <-ctx.Done():
			fmt.Fprintf(w, "Interrupted. The attempt is saved; finish it with:\n  checkout resume --session %s\n", sessionID)
			return false, ctx.Err()
		}
	}
}

// report prints a terminal outcome. Anything but a confirmation is
// returned as an error.
func (s *session) report(w io.Writer) error {
	snap := s.machine.Snapshot()
	switch snap.State {
	case checkout.StateConfirmed:
		order := s.machine.Order()
		fmt.Fprintln(w, "✓ Booking confirmed")
		fmt.Fprintf(w, "  Order:     %s\n", order.OrderNumber)
		if order.ItineraryNumber != "" {
			fmt.Fprintf(w, "  Itinerary: %s\n", order.ItineraryNumber)
		}
		if snap.Order != nil && snap.Order.PassengerName != "" {
			fmt.Fprintf(w, "  Passenger: %s\n", snap.Order.PassengerName)
		}
		if snap.Offer != nil {
			fmt.Fprintf(w, "  Flight:    %s %s\n", snap.Offer.FlightNumber, snap.Offer.Description())
		}
		if order.TotalCents > 0 {
			fmt.Fprintf(w, "  Total:     %s\n", domain.FormatCents(order.TotalCents))
		}
		return s.machine.Acknowledge()
	case checkout.StatePaymentFailed:
		return fmt.Errorf("payment failed: %w", s.machine.Err())
	case checkout.StateOrderFinalizationError:
		fmt.Fprintf(w, "Payment for session %s was taken but the order could not be booked.\n", snap.PaymentSessionID)
		fmt.Fprintln(w, "Do not pay again; quote the session id to support.")
		return s.machine.Err()
	}
	return fmt.Errorf("checkout ended in %s", snap.State)
}

func returnURLFor(sessionID string) string {
	return strings.ReplaceAll(cfg.Checkout.ReturnURL, "{CHECKOUT_SESSION_ID}", sessionID)
}
