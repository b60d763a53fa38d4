package cmd

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"robotrunner/cli/style"
)

var Version = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print client and runner versions",
	Run: func(cmd *cobra.Command, args []string) {
		logo := lipgloss.NewStyle().
			Bold(true).
			Foreground(style.Primary).
			Render("  robotctl")

		ctx, cancel := requestContext(cmd)
		defer cancel()
		server, err := client.Version(ctx)
		if err != nil {
			server = style.DimText.Render("unreachable")
		}

		fmt.Println(logo)
		fmt.Println()
		fmt.Printf("  %s %s\n", style.Key.Render("Client"), style.Val.Render(Version))
		fmt.Printf("  %s %s\n", style.Key.Render("Runner"), style.Val.Render(server))
		fmt.Printf("  %s %s\n", style.Key.Render("API"), style.Val.Render(apiURL))
		fmt.Println()
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
