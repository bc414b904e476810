package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/Domenick1991/aimtravel/config"
	"github.com/Domenick1991/aimtravel/internal/client/booking"
	"github.com/Domenick1991/aimtravel/internal/logger"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var cfg *config.Config

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "checkout",
	Short: "AIM Travel command-line checkout",
	Long: `Search flights, book a ticket and pay for it through the mock payment
provider, following the payment outcome live over the push channel.

Configuration is read from --config (or CONFIG_PATH); without a config
file the defaults talk to a backend on localhost:8080.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load()

		path, _ := cmd.Flags().GetString("config")
		loaded, err := loadConfig(path)
		if err != nil {
			return err
		}
		if backend, _ := cmd.Flags().GetString("backend"); backend != "" {
			loaded.Checkout.BackendURL = backend
		}

		level := "warn"
		if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
			level = "debug"
		}
		logger.Init(logger.Config{Level: level, JSONOutput: loaded.Log.JSON})
		cfg = loaded
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Path to config file (defaults to CONFIG_PATH or config.yaml)")
	rootCmd.PersistentFlags().String("backend", "", "Booking backend base URL, overrides checkout.backend_url")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Log state transitions and push events")

	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(bookCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(orderCmd)
}

// loadConfig falls back to defaults only when no path was asked for and
// config.yaml does not exist.
func loadConfig(path string) (*config.Config, error) {
	explicit := path != "" || os.Getenv("CONFIG_PATH") != ""
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = "config.yaml"
	}

	loaded, err := config.LoadConfig(path)
	if errors.Is(err, fs.ErrNotExist) && !explicit {
		return config.Default(), nil
	}
	return loaded, err
}

func newBookingClient() *booking.Client {
	return booking.New(cfg.Checkout.BackendURL, booking.WithTimeout(cfg.Checkout.Timeout()))
}
