package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"robotrunner/cli/style"
)

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Re-clone the runner's test repository",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		// A refresh waits for in-flight runs to release the checkout.
		ctx, cancel := requestContextFor(cmd, 30*time.Minute)
		defer cancel()

		res, err := client.RefreshRepo(ctx)
		if err != nil {
			fmt.Println(style.ErrorBox.Render(err.Error()))
			return err
		}
		fmt.Println(style.SuccessBox.Render(res.Message))
		fmt.Printf("  %s %s\n", style.Key.Render("Path"), style.Val.Render(res.RepoPath))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(refreshCmd)
}
