package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"robotrunner/cli/api"
)

var (
	apiURL         string
	apiKey         string
	requestTimeout time.Duration
	client         *api.Client
)

var rootCmd = &cobra.Command{
	Use:   "robotctl",
	Short: "Command line client for the robot runner",
	Long: `robotctl talks to a robot runner: it runs inline suites or whole projects,
refreshes the runner's checkout of the test repository, and shows run history.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		client = api.New(apiURL, apiKey)
	},
	SilenceUsage: true,
}

func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	defaultURL := os.Getenv("RUNNER_URL")
	if defaultURL == "" {
		defaultURL = "http://localhost:3001"
	}
	rootCmd.PersistentFlags().StringVar(&apiURL, "api", defaultURL, "Runner API URL")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", os.Getenv("RUNNER_API_KEY"), "Runner API key (x-api-key)")
	rootCmd.PersistentFlags().DurationVar(&requestTimeout, "request-timeout", 10*time.Second, "Timeout for non-run requests")
}

// requestContext bounds quick API calls such as status lookups.
func requestContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), requestTimeout)
}

func requestContextFor(cmd *cobra.Command, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), d)
}
