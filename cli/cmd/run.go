package cmd

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"robotrunner/cli/api"
	"robotrunner/cli/style"
)

var (
	runID      string
	runTitle   string
	runTimeout time.Duration
	runAsync   bool
)

var runCmd = &cobra.Command{
	Use:   "run <project> <suite.robot>",
	Short: "Run one suite file inside a project",
	Long: `Uploads the suite file to the runner, which writes it into the project
directory of its checkout and runs it. Waits for the reports unless --async
is set, in which case the run id is printed and 'robotctl status' follows it.`,
	Args: cobra.ExactArgs(2),
	RunE: runRun,
}

var runProjectCmd = &cobra.Command{
	Use:     "run-project <project>",
	Short:   "Run every suite of a project",
	Aliases: []string{"rp"},
	Args:    cobra.ExactArgs(1),
	RunE:    runRunProject,
}

func init() {
	for _, c := range []*cobra.Command{runCmd, runProjectCmd} {
		c.Flags().StringVar(&runID, "id", "", "Request id (generated when empty)")
		c.Flags().DurationVar(&runTimeout, "timeout", 0, "Run timeout (runner default when zero)")
		c.Flags().BoolVar(&runAsync, "async", false, "Queue the run and return immediately")
		rootCmd.AddCommand(c)
	}
	runCmd.Flags().StringVar(&runTitle, "title", "", "Test result title")
}

func requestID() string {
	if runID != "" {
		return runID
	}
	return uuid.NewString()
}

// runContext leaves room for the runner's own timeout and the upload.
func runContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	if runTimeout <= 0 {
		return context.WithCancel(cmd.Context())
	}
	return context.WithTimeout(cmd.Context(), runTimeout+5*time.Minute)
}

func runRun(cmd *cobra.Command, args []string) error {
	project, file := args[0], args[1]
	content, err := os.ReadFile(file)
	if err != nil {
		return err
	}

	req := api.RunTestRequest{
		RequestID:       requestID(),
		Project:         project,
		Content:         base64.StdEncoding.EncodeToString(content),
		TestResultTitle: runTitle,
		TimeoutSeconds:  int(runTimeout.Seconds()),
	}
	if runAsync {
		return submit(cmd, api.SubmitRequest{Kind: "manual", RunTestRequest: req})
	}

	fmt.Printf("%s running %s in %s %s\n", style.DotWarning, style.Bold.Render(file), style.Bold.Render(project), style.DimText.Render(req.RequestID))
	ctx, cancel := runContext(cmd)
	defer cancel()
	res, err := client.RunTest(ctx, req)
	if err != nil {
		fmt.Println(style.ErrorBox.Render(err.Error()))
		return err
	}
	printResult(res)
	return nil
}

func runRunProject(cmd *cobra.Command, args []string) error {
	req := api.RunProjectRequest{
		RequestID:      requestID(),
		Project:        args[0],
		TimeoutSeconds: int(runTimeout.Seconds()),
	}
	if runAsync {
		return submit(cmd, api.SubmitRequest{Kind: "project", RunTestRequest: api.RunTestRequest{
			RequestID:      req.RequestID,
			Project:        req.Project,
			TimeoutSeconds: req.TimeoutSeconds,
		}})
	}

	fmt.Printf("%s running project %s %s\n", style.DotWarning, style.Bold.Render(req.Project), style.DimText.Render(req.RequestID))
	ctx, cancel := runContext(cmd)
	defer cancel()
	res, err := client.RunProjectTests(ctx, req)
	if err != nil {
		fmt.Println(style.ErrorBox.Render(err.Error()))
		return err
	}
	printResult(res)
	return nil
}

func submit(cmd *cobra.Command, req api.SubmitRequest) error {
	ctx, cancel := requestContext(cmd)
	defer cancel()
	res, err := client.SubmitRun(ctx, req)
	if err != nil {
		fmt.Println(style.ErrorBox.Render(err.Error()))
		return err
	}
	fmt.Printf("%s queued %s\n", style.DotDim, style.Bold.Render(res.RequestID))
	fmt.Println(style.DimText.Render("  follow with: robotctl status --watch " + res.RequestID))
	return nil
}

func printResult(res *api.RunResult) {
	fmt.Printf("  %s %s\n", style.Key.Render("Status"), style.RunStatus(res.Status))
	fmt.Printf("  %s %s\n", style.Key.Render("Exit code"), style.Val.Render(fmt.Sprint(res.ExitCode)))
	fmt.Printf("  %s %s\n", style.Key.Render("Report"), style.Val.Render(res.ReportURL+"/report.html"))
	for _, a := range res.Artifacts {
		fmt.Printf("  %s %s\n", style.Key.Render(a.Name), style.DimText.Render(a.URL))
	}
}
