package main

import (
	"fmt"
	"io"

	"github.com/Domenick1991/aimtravel/internal/domain"
	"github.com/spf13/cobra"
)

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Search available flights",
	Example: `  checkout search --from JFK --to LAX --date 2024-01-15
  checkout search --from JFK --to LAX --date 2024-01-15 --return 2024-01-20`,
	RunE: func(cmd *cobra.Command, args []string) error {
		criteria, err := criteriaFromFlags(cmd)
		if err != nil {
			return err
		}
		if err := criteria.Validate(); err != nil {
			return err
		}
		page, _ := cmd.Flags().GetInt("page")
		size, _ := cmd.Flags().GetInt("size")

		result, err := newBookingClient().Search(cmd.Context(), criteria.Normalize(), page, size)
		if err != nil {
			return err
		}
		printOffers(cmd.OutOrStdout(), result)
		return nil
	},
}

func init() {
	addCriteriaFlags(searchCmd)
	searchCmd.Flags().Int("page", 1, "Result page, starting at 1")
	searchCmd.Flags().Int("size", 0, "Page size, 0 for the backend default")
}

func addCriteriaFlags(cmd *cobra.Command) {
	cmd.Flags().String("from", "", "Origin airport code")
	cmd.Flags().String("to", "", "Destination airport code")
	cmd.Flags().String("date", "", "Departure date (YYYY-MM-DD)")
	cmd.Flags().String("return", "", "Return date for a round trip (YYYY-MM-DD)")
	cmd.Flags().Int("passengers", 1, "Number of passengers")
}

func criteriaFromFlags(cmd *cobra.Command) (domain.SearchCriteria, error) {
	from, _ := cmd.Flags().GetString("from")
	to, _ := cmd.Flags().GetString("to")
	date, _ := cmd.Flags().GetString("date")
	ret, _ := cmd.Flags().GetString("return")
	passengers, _ := cmd.Flags().GetInt("passengers")

	criteria := domain.SearchCriteria{Origin: from, Destination: to, Passengers: passengers}
	if date != "" {
		d, err := domain.ParseDate(date)
		if err != nil {
			return criteria, domain.NewValidationError("departureDate", "use YYYY-MM-DD")
		}
		criteria.DepartureDate = d
	}
	if ret != "" {
		d, err := domain.ParseDate(ret)
		if err != nil {
			return criteria, domain.NewValidationError("returnDate", "use YYYY-MM-DD")
		}
		criteria.ReturnDate = &d
		criteria.RoundTrip = true
	}
	return criteria, nil
}

// printOffers numbers offers in the order SelectOffer indexes them.
func printOffers(w io.Writer, result *domain.SearchResult) {
	if result.Total() == 0 {
		fmt.Fprintln(w, "No flights found.")
		return
	}

	n := 1
	section := func(title string, offers []domain.TicketOffer) {
		if len(offers) == 0 {
			return
		}
		fmt.Fprintf(w, "%s\n", title)
		fmt.Fprintf(w, "  %-3s %-8s %-22s %-9s %-17s %-17s %-8s %10s\n", "#", "FLIGHT", "AIRLINE", "ROUTE", "DEPARTS (UTC)", "ARRIVES (UTC)", "TIME", "PRICE")
		for _, o := range offers {
			fmt.Fprintf(w, "  %-3d %-8s %-22s %-9s %-17s %-17s %-8s %10s\n",
				n, o.FlightNumber, o.Airline, o.Origin+"-"+o.Destination,
				o.DepartureTime.UTC().Format("2006-01-02 15:04"), o.ArrivalTime.UTC().Format("2006-01-02 15:04"),
				o.Duration, domain.FormatCents(o.AmountCents()))
			n++
		}
	}
	section("Outbound", result.Outbound)
	section("Return", result.Return)

	p := result.Pagination
	if p.TotalPages > 1 {
		fmt.Fprintf(w, "Page %d of %d (%d flights)\n", p.Page, p.TotalPages, p.TotalElements)
	}
}
