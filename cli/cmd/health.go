package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"robotrunner/cli/style"
)

var healthCmd = &cobra.Command{
	Use:     "health",
	Short:   "Check the runner's repository, storage and run store",
	Aliases: []string{"doctor", "h"},
	RunE:    runHealth,
}

func init() {
	rootCmd.AddCommand(healthCmd)
}

func runHealth(cmd *cobra.Command, args []string) error {
	ctx, cancel := requestContext(cmd)
	defer cancel()

	h, err := client.Health(ctx)
	if err != nil {
		fmt.Println(style.ErrorBox.Render("Cannot reach runner at " + apiURL))
		return err
	}

	fmt.Println(style.Banner.Render("ROBOT RUNNER HEALTH"))

	for _, s := range h.Services {
		label := style.Warning.Render(s.Status)
		switch s.Status {
		case "up":
			label = style.Healthy.Render("up")
		case "down":
			label = style.Unhealthy.Render("down")
		}
		line := fmt.Sprintf("  %s  %-14s %s", style.ServiceDot(s.Status), style.Bold.Render(s.Name), label)
		if s.Details != "" {
			line += "  " + style.DimText.Render(s.Details)
		}
		fmt.Println(line)
	}

	if h.Status == "healthy" {
		fmt.Println(style.SuccessBox.Render("All services healthy"))
	} else {
		fmt.Println(style.ErrorBox.Render("Runner is degraded"))
	}
	return nil
}
