package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"robotrunner/cli/style"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Stream run and repository events",
	Args:  cobra.NoArgs,
	RunE:  runEvents,
}

func init() {
	rootCmd.AddCommand(eventsCmd)
}

type event struct {
	Type      string          `json:"type"`
	RequestID string          `json:"requestId"`
	Project   string          `json:"project"`
	Payload   json.RawMessage `json:"payload"`
	Time      time.Time       `json:"time"`
}

func runEvents(cmd *cobra.Command, args []string) error {
	header := http.Header{}
	if apiKey != "" {
		header.Set("x-api-key", apiKey)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(cmd.Context(), client.WebSocketURL(), header)
	if err != nil {
		return fmt.Errorf("connect %s: %w", client.WebSocketURL(), err)
	}
	defer conn.Close()

	fmt.Println(style.DimText.Render("Streaming events from " + apiURL + " (Ctrl-C to stop)"))
	go func() {
		<-cmd.Context().Done()
		conn.Close()
	}()

	for {
		var evt event
		if err := conn.ReadJSON(&evt); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) || cmd.Context().Err() != nil {
				return nil
			}
			return err
		}
		fmt.Println(formatEvent(evt))
	}
}

func formatEvent(evt event) string {
	ts := style.DimText.Render(evt.Time.Local().Format("15:04:05"))
	switch evt.Type {
	case "run.step":
		var p struct {
			Step string `json:"step"`
		}
		json.Unmarshal(evt.Payload, &p)
		return fmt.Sprintf("%s %s %s %s", ts, style.DotWarning, evt.RequestID, style.DimText.Render(p.Step))
	case "run.completed", "run.failed":
		var p struct {
			Status string `json:"status"`
		}
		json.Unmarshal(evt.Payload, &p)
		return fmt.Sprintf("%s %s %s %s %s", ts, style.RunDot(p.Status), evt.RequestID, evt.Project, style.RunStatus(p.Status))
	case "repo.refreshed":
		return fmt.Sprintf("%s %s repository refreshed", ts, style.DotHealthy)
	default:
		return fmt.Sprintf("%s %s %s %s", ts, style.DotDim, evt.Type, evt.RequestID)
	}
}
