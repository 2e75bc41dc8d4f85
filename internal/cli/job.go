package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

var jobAddr string

var jobCmd = &cobra.Command{
	Use:   "job",
	Short: "Inspect and control pipeline jobs",
}

var jobGetCmd = &cobra.Command{
	Use:   "get <job-id>",
	Short: "Show a job's recorded run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := openDatabase()
		if err != nil {
			return err
		}
		defer database.Close()

		run, err := database.GetPipelineRun(args[0])
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "Job:      %s\n", run.JobID)
		fmt.Fprintf(w, "Project:  %s\n", run.Project)
		fmt.Fprintf(w, "Status:   %s\n", run.Status)
		fmt.Fprintf(w, "Started:  %s\n", run.StartedAt)
		if run.FinishedAt != "" {
			fmt.Fprintf(w, "Finished: %s\n", run.FinishedAt)
		}
		if run.Error != "" {
			fmt.Fprintf(w, "Error:    %s\n", run.Error)
		}
		return nil
	},
}

var jobEventsCmd = &cobra.Command{
	Use:   "events <job-id>",
	Short: "Show a job's recorded event stream",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := openDatabase()
		if err != nil {
			return err
		}
		defer database.Close()

		events, err := database.JobEvents(args[0])
		if err != nil {
			return err
		}
		if len(events) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No events recorded.")
			return nil
		}
		for _, e := range events {
			line := fmt.Sprintf("%s [%s]", e.Timestamp, e.Event)
			if e.Phase != "" {
				line += " " + e.Phase
			}
			if e.Data != "" && e.Data != "{}" && e.Data != "null" {
				line += " " + e.Data
			}
			fmt.Fprintln(cmd.OutOrStdout(), line)
		}
		return nil
	},
}

var jobCancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel a running job via the API server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return postAPI(cmd, fmt.Sprintf("/api/jobs/%s/cancel", args[0]), nil)
	},
}

var jobResumeCmd = &cobra.Command{
	Use:   "resume <job-id>",
	Short: "Resume a job suspended on an escalation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return postAPI(cmd, fmt.Sprintf("/api/jobs/%s/decision", args[0]),
			map[string]string{"decision": "resume"})
	},
}

var jobAbortCmd = &cobra.Command{
	Use:   "abort <job-id>",
	Short: "Abort a job suspended on an escalation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return postAPI(cmd, fmt.Sprintf("/api/jobs/%s/decision", args[0]),
			map[string]string{"decision": "abort"})
	},
}

// postAPI sends a command to the running serve process and prints its reply.
func postAPI(cmd *cobra.Command, path string, body interface{}) error {
	var payload io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = bytes.NewReader(b)
	}
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Post(jobAddr+path, "application/json", payload)
	if err != nil {
		return fmt.Errorf("reach API server at %s: %w", jobAddr, err)
	}
	defer resp.Body.Close()

	reply, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		return fmt.Errorf("server returned %s: %s", resp.Status, bytes.TrimSpace(reply))
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(bytes.TrimSpace(reply)))
	return nil
}

func init() {
	jobCmd.PersistentFlags().StringVar(&jobAddr, "addr", "http://localhost:8080", "address of the running serve process")
	jobCmd.AddCommand(jobGetCmd)
	jobCmd.AddCommand(jobEventsCmd)
	jobCmd.AddCommand(jobCancelCmd)
	jobCmd.AddCommand(jobResumeCmd)
	jobCmd.AddCommand(jobAbortCmd)
}
