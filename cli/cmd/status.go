package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"robotrunner/cli/api"
	"robotrunner/cli/style"
)

var (
	statusWatch    bool
	statusInterval time.Duration
)

var statusCmd = &cobra.Command{
	Use:     "status <requestId>",
	Short:   "Show the status of a run",
	Aliases: []string{"s"},
	Args:    cobra.ExactArgs(1),
	RunE:    runStatus,
}

func init() {
	statusCmd.Flags().BoolVarP(&statusWatch, "watch", "w", false, "Poll until the run finishes")
	statusCmd.Flags().DurationVar(&statusInterval, "interval", 2*time.Second, "Poll interval with --watch")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	id := args[0]
	last := ""
	for {
		ctx, cancel := requestContext(cmd)
		run, err := client.GetRun(ctx, id)
		cancel()
		if err != nil {
			return err
		}
		if !statusWatch || run.Done() {
			printRun(run)
			return nil
		}
		if run.Status != last {
			fmt.Printf("%s %s %s\n", style.RunDot(run.Status), style.Bold.Render(id), style.RunStatus(run.Status))
			last = run.Status
		}

		select {
		case <-cmd.Context().Done():
			return cmd.Context().Err()
		case <-time.After(statusInterval):
		}
	}
}

func printRun(run *api.Run) {
	fmt.Println(style.Banner.Render(run.RequestID))
	fmt.Printf("  %s %s\n", style.Key.Render("Project"), style.Val.Render(run.Project))
	fmt.Printf("  %s %s\n", style.Key.Render("Kind"), style.Val.Render(run.Kind))
	if run.Title != "" {
		fmt.Printf("  %s %s\n", style.Key.Render("Title"), style.Val.Render(run.Title))
	}
	fmt.Printf("  %s %s\n", style.Key.Render("Status"), style.RunStatus(run.Status))
	if run.Done() {
		fmt.Printf("  %s %s\n", style.Key.Render("Exit code"), style.Val.Render(fmt.Sprint(run.ExitCode)))
		fmt.Printf("  %s %s\n", style.Key.Render("Duration"), style.Val.Render(formatDuration(time.Duration(run.DurationMs)*time.Millisecond)))
	}
	if run.ReportURL != "" {
		fmt.Printf("  %s %s\n", style.Key.Render("Report"), style.Val.Render(run.ReportURL+"/report.html"))
	}
	if run.Error != "" {
		fmt.Println(style.ErrorBox.Render(run.Error))
	}
	if run.Output != "" {
		fmt.Println(style.DimText.Render(run.Output))
	}
}
