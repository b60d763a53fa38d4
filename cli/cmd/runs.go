package cmd

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"robotrunner/cli/api"
	"robotrunner/cli/style"
)

var (
	runsProject string
	runsLimit   int
)

var runsCmd = &cobra.Command{
	Use:     "runs",
	Short:   "List recent runs",
	Aliases: []string{"ls", "history"},
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := requestContext(cmd)
		defer cancel()

		runs, err := client.ListRuns(ctx, runsProject, runsLimit)
		if err != nil {
			return fmt.Errorf("failed to fetch runs: %w", err)
		}
		if len(runs) == 0 {
			fmt.Println(style.DimText.Render("No runs recorded yet."))
			return nil
		}
		renderRuns(os.Stdout, runs)
		return nil
	},
}

func init() {
	runsCmd.Flags().StringVarP(&runsProject, "project", "p", "", "Only runs of this project")
	runsCmd.Flags().IntVarP(&runsLimit, "limit", "n", 20, "Maximum number of runs")
	rootCmd.AddCommand(runsCmd)
}

func renderRuns(w io.Writer, runs []api.Run) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle(fmt.Sprintf("Runs (%d)", len(runs)))
	t.AppendHeader(table.Row{"", "Request", "Project", "Kind", "Status", "Exit", "Duration", "Started"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 6, Align: text.AlignRight},
		{Number: 7, Align: text.AlignRight},
	})
	for _, r := range runs {
		exit := "-"
		if r.Done() && r.ExitCode >= 0 {
			exit = fmt.Sprint(r.ExitCode)
		}
		t.AppendRow(table.Row{
			style.RunDot(r.Status),
			r.RequestID,
			r.Project,
			r.Kind,
			style.RunStatus(r.Status),
			exit,
			formatDuration(time.Duration(r.DurationMs) * time.Millisecond),
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
		})
	}
	t.SetStyle(table.StyleRounded)
	t.Render()
}

func formatDuration(d time.Duration) string {
	switch {
	case d <= 0:
		return "-"
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	case d < time.Hour:
		return fmt.Sprintf("%dm%02ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%dh%02dm", int(d.Hours()), int(d.Minutes())%60)
	}
}
