package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/Domenick1991/aimtravel/internal/checkout"
	"github.com/Domenick1991/aimtravel/internal/domain"
	"github.com/spf13/cobra"
)

var bookCmd = &cobra.Command{
	Use:   "book",
	Short: "Search, book and pay for a flight",
	Long: `Book a flight end to end: search, pick an offer, enter the passenger,
pay on the hosted payment page and wait for the confirmed order.

Missing choices are prompted for. With --auto-pay (or --fail) the mock
payment page is completed without a browser.`,
	Example: `  checkout book --from JFK --to LAX --date 2024-01-15
  checkout book --from JFK --to LAX --date 2024-01-15 --offer 1 \
      --name "John Doe" --dob 1990-05-01 --email john@example.com --auto-pay`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		out := cmd.OutOrStdout()
		in := newPrompter(cmd.InOrStdin(), out)

		criteria, err := criteriaFromFlags(cmd)
		if err != nil {
			return err
		}
		s, err := newSession(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		result, err := s.machine.Search(ctx, criteria)
		if err != nil {
			return err
		}
		printOffers(out, result)
		if result.Total() == 0 {
			return nil
		}

		index, _ := cmd.Flags().GetInt("offer")
		if index == 0 {
			if index, err = in.choice("Select a flight", result.Total()); err != nil {
				return err
			}
		}
		if _, err := s.machine.SelectOffer(index - 1); err != nil {
			return err
		}

		passenger, err := passengerFromFlags(cmd, in)
		if err != nil {
			return err
		}

		for {
			if err := s.machine.SubmitPassenger(ctx, passenger); err != nil {
				if s.machine.State() != checkout.StateAwaitingExternalPayment {
					return err
				}
				fmt.Fprintf(out, "Could not open the payment page: %v\nOpen it yourself:\n  %s\n",
					err, s.payments.PageURL(s.machine.Snapshot().PaymentSessionID))
			}

			sessionID := s.machine.Snapshot().PaymentSessionID
			done, err := s.await(ctx, out, sessionID)
			if err != nil {
				return err
			}
			if !done {
				fmt.Fprintf(out, "Payment is still open. After paying, finish with:\n  checkout resume --return-url '%s'\n", returnURLFor(sessionID))
				return nil
			}
			if s.machine.State() != checkout.StatePaymentFailed || !in.interactive {
				return s.report(out)
			}

			fmt.Fprintf(out, "Payment failed: %v\n", s.machine.Err())
			if !in.confirm("Try again with a new payment session?") {
				return errors.New("payment not completed")
			}
			if err := s.machine.Retry(); err != nil {
				return err
			}
		}
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Finish a checkout after returning from the payment page",
	Long: `Restore a saved checkout attempt by its payment session and verify the
payment with the provider. Attempts that already resolved are shown as they
ended.`,
	Example: `  checkout resume --return-url 'http://localhost:5173/payment-success?session_id=cs_test_123'
  checkout resume --session cs_test_123`,
	RunE: func(cmd *cobra.Command, args []string) error {
		returnURL, _ := cmd.Flags().GetString("return-url")
		sessionID, _ := cmd.Flags().GetString("session")
		if returnURL == "" && sessionID == "" {
			return errors.New("either --return-url or --session is required")
		}

		s, err := newSession(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		if sessionID != "" {
			_, err = s.machine.Resume(cmd.Context(), sessionID)
		} else {
			_, err = s.machine.ResumeFromReturnURL(cmd.Context(), returnURL)
		}
		if errors.Is(err, checkout.ErrUnknownSession) || domain.IsValidation(err) {
			return err
		}
		return s.report(cmd.OutOrStdout())
	},
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List saved checkout attempts",
	Long: `List attempts still awaiting payment and attempts whose payment was
taken but whose order could not be booked.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := checkout.OpenBoltStore(cfg.Checkout.SessionStore)
		if err != nil {
			return err
		}
		defer store.Close()

		sessions, err := store.List()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(sessions) == 0 {
			fmt.Fprintln(out, "No saved checkout attempts.")
			return nil
		}
		fmt.Fprintf(out, "%-32s %-26s %-14s %-20s %s\n", "SESSION", "STATE", "ORDER", "UPDATED (UTC)", "ERROR")
		for _, s := range sessions {
			fmt.Fprintf(out, "%-32s %-26s %-14s %-20s %s\n",
				s.PaymentSessionID, s.State, s.OrderNumber, s.UpdatedAt.UTC().Format("2006-01-02 15:04:05"), s.Error)
		}
		return nil
	},
}

func init() {
	addCriteriaFlags(bookCmd)
	bookCmd.Flags().Int("size", 0, "Number of offers to list, 0 for the backend default")
	bookCmd.Flags().Int("offer", 0, "Offer number from the search results (prompted when 0)")
	bookCmd.Flags().String("name", "", "Passenger full name")
	bookCmd.Flags().String("dob", "", "Passenger date of birth (YYYY-MM-DD)")
	bookCmd.Flags().String("email", "", "Passenger e-mail, also used for payment notifications")
	bookCmd.Flags().String("phone", "", "Passenger phone number")
	bookCmd.Flags().String("passport", "", "Passenger passport number")
	addPaymentFlags(bookCmd)

	resumeCmd.Flags().String("return-url", "", "URL the payment page redirected to")
	resumeCmd.Flags().String("session", "", "Payment session id")
}

func addPaymentFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("auto-pay", false, "Complete the mock payment page automatically")
	cmd.Flags().Bool("fail", false, "Decline the mock payment automatically")
	cmd.Flags().String("browser", "", "Command that opens the payment page, e.g. xdg-open")
}

func passengerFromFlags(cmd *cobra.Command, in *prompter) (domain.PassengerDetails, error) {
	name, _ := cmd.Flags().GetString("name")
	dob, _ := cmd.Flags().GetString("dob")
	email, _ := cmd.Flags().GetString("email")
	phone, _ := cmd.Flags().GetString("phone")
	passport, _ := cmd.Flags().GetString("passport")

	var err error
	if name == "" {
		if name, err = in.ask("Passenger name"); err != nil {
			return domain.PassengerDetails{}, err
		}
	}
	if dob == "" {
		if dob, err = in.ask("Date of birth (YYYY-MM-DD)"); err != nil {
			return domain.PassengerDetails{}, err
		}
	}
	if email == "" && in.interactive {
		if email, err = in.ask("E-mail (optional)"); err != nil {
			return domain.PassengerDetails{}, err
		}
	}

	p := domain.PassengerDetails{FullName: name, Email: email, Phone: phone, Passport: passport}
	if dob != "" {
		d, err := domain.ParseDate(dob)
		if err != nil {
			return p, domain.NewValidationError("dob", "use YYYY-MM-DD")
		}
		p.DateOfBirth = d
	}
	return p, nil
}

// prompter reads answers line by line. It turns interactive on the first
// question asked.
type prompter struct {
	r           *bufio.Reader
	w           io.Writer
	interactive bool
}

func newPrompter(r io.Reader, w io.Writer) *prompter {
	return &prompter{r: bufio.NewReader(r), w: w}
}

func (p *prompter) ask(label string) (string, error) {
	p.interactive = true
	fmt.Fprintf(p.w, "%s: ", label)
	line, err := p.r.ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("%s: %w", strings.ToLower(label), err)
	}
	return strings.TrimSpace(line), nil
}

func (p *prompter) choice(label string, n int) (int, error) {
	for {
		answer, err := p.ask(fmt.Sprintf("%s [1-%d]", label, n))
		if err != nil {
			return 0, err
		}
		i, err := strconv.Atoi(answer)
		if err == nil && i >= 1 && i <= n {
			return i, nil
		}
		fmt.Fprintf(p.w, "Enter a number between 1 and %d.\n", n)
	}
}

func (p *prompter) confirm(label string) bool {
	answer, err := p.ask(label + " [y/N]")
	if err != nil {
		return false
	}
	answer = strings.ToLower(answer)
	return answer == "y" || answer == "yes"
}
