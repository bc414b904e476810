package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/Domenick1991/aimtravel/internal/domain"
	"github.com/spf13/cobra"
)

var orderCmd = &cobra.Command{
	Use:   "order",
	Short: "Inspect or cancel booked orders",
}

var orderGetCmd = &cobra.Command{
	Use:   "get ORDER_ID",
	Short: "Show an order",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseOrderID(args[0])
		if err != nil {
			return err
		}
		order, err := newBookingClient().GetOrder(cmd.Context(), id)
		if err != nil {
			return err
		}
		printOrder(cmd.OutOrStdout(), order)
		return nil
	},
}

var orderCancelCmd = &cobra.Command{
	Use:   "cancel ORDER_ID",
	Short: "Cancel an order",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseOrderID(args[0])
		if err != nil {
			return err
		}
		order, err := newBookingClient().CancelOrder(cmd.Context(), id)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Order %s cancelled\n", order.OrderNumber)
		printOrder(cmd.OutOrStdout(), order)
		return nil
	},
}

var orderSessionCmd = &cobra.Command{
	Use:   "session SESSION_ID",
	Short: "Show the order booked for a payment session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		details, err := newBookingClient().OrderBySession(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if !details.Success {
			fmt.Fprintf(out, "No order for session %s: %s\n", args[0], details.Message)
			return nil
		}
		fmt.Fprintf(out, "Order:     %s\n", details.OrderNumber)
		fmt.Fprintf(out, "Itinerary: %s\n", details.ItineraryNumber)
		fmt.Fprintf(out, "Passenger: %s\n", details.PassengerName)
		fmt.Fprintf(out, "Flight:    %s %s-%s\n", details.Airline, details.Origin, details.Destination)
		fmt.Fprintf(out, "Total:     %s\n", details.Cost)
		return nil
	},
}

func init() {
	orderCmd.AddCommand(orderGetCmd)
	orderCmd.AddCommand(orderCancelCmd)
	orderCmd.AddCommand(orderSessionCmd)
}

func parseOrderID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, domain.NewValidationError("orderId", "order id must be a positive number")
	}
	return id, nil
}

func printOrder(w io.Writer, o *domain.OrderRecord) {
	ids := make([]string, len(o.TicketIDs))
	for i, id := range o.TicketIDs {
		ids[i] = strconv.FormatInt(id, 10)
	}
	fmt.Fprintf(w, "Order:     %s (#%d)\n", o.OrderNumber, o.ID)
	fmt.Fprintf(w, "Status:    %s\n", o.Status)
	fmt.Fprintf(w, "Itinerary: %s\n", o.ItineraryNumber)
	fmt.Fprintf(w, "E-mail:    %s\n", o.UserEmail)
	fmt.Fprintf(w, "Tickets:   %s\n", strings.Join(ids, ", "))
	fmt.Fprintf(w, "Total:     %s\n", domain.FormatCents(o.TotalCents))
	if !o.CreatedAt.IsZero() {
		fmt.Fprintf(w, "Created:   %s\n", o.CreatedAt.UTC().Format("2006-01-02 15:04:05"))
	}
}
