package cli

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"ci-core/internal/domain"
)

func newTriggerCmd(client *Client) *cobra.Command {
	var (
		trig     triggerFlags
		wait     bool
		interval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "trigger <workflow>",
		Short: "Trigger a run on the server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var snap domain.RunSnapshot
			if err := client.DoJSON(cmd.Context(), http.MethodPost, "/runs", nil, trig.trigger(args[0]), &snap); err != nil {
				return err
			}
			if wait {
				final, err := waitForRun(cmd, client, snap.ID, interval)
				if err != nil {
					return err
				}
				snap = *final
			}
			if err := writeRun(cmd, &snap); err != nil {
				return err
			}
			if wait && snap.Status != domain.RunSucceeded {
				return &exitError{code: 1}
			}
			return nil
		},
	}

	trig.register(cmd.Flags())
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "Wait for the run to finish")
	cmd.Flags().DurationVar(&interval, "poll-interval", 2*time.Second, "Status polling interval with --wait")
	return cmd
}

// waitForRun polls the run until it is terminal or the command is cancelled.
func waitForRun(cmd *cobra.Command, client *Client, id string, interval time.Duration) (*domain.RunSnapshot, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		var snap domain.RunSnapshot
		if err := client.DoJSON(cmd.Context(), http.MethodGet, "/runs/"+url.PathEscape(id), nil, nil, &snap); err != nil {
			return nil, err
		}
		if snap.Status != domain.RunRunning {
			return &snap, nil
		}
		select {
		case <-cmd.Context().Done():
			return nil, cmd.Context().Err()
		case <-ticker.C:
		}
	}
}

func writeRun(cmd *cobra.Command, snap *domain.RunSnapshot) error {
	if getOutputFormat(cmd) == "json" {
		return PrintJSON(cmd.OutOrStdout(), snap)
	}
	printRun(cmd.OutOrStdout(), snap)
	return nil
}

func newRunsCmd(client *Client) *cobra.Command {
	var (
		workflow   string
		status     string
		maxResults int
		pageToken  string
	)

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			q := url.Values{}
			if workflow != "" {
				q.Set("workflow", workflow)
			}
			if status != "" {
				q.Set("status", status)
			}
			if maxResults > 0 {
				q.Set("max_results", strconv.Itoa(maxResults))
			}
			if pageToken != "" {
				q.Set("page_token", pageToken)
			}

			var list struct {
				Data          []domain.RunSnapshot `json:"data"`
				Total         int64                `json:"total"`
				NextPageToken string               `json:"next_page_token,omitempty"`
			}
			if err := client.DoJSON(cmd.Context(), http.MethodGet, "/runs", q, nil, &list); err != nil {
				return err
			}
			if getOutputFormat(cmd) == "json" {
				return PrintJSON(cmd.OutOrStdout(), list)
			}

			color := isTerminal(cmd.OutOrStdout())
			rows := make([][]string, len(list.Data))
			for i, r := range list.Data {
				rows[i] = []string{
					r.ID,
					r.Trigger.Workflow,
					string(r.Trigger.Event),
					refOf(r.Trigger),
					colorStatus(string(r.Status), color),
					r.StartedAt.Local().Format(time.DateTime),
				}
			}
			PrintTable(cmd.OutOrStdout(), []string{"id", "workflow", "event", "ref", "status", "started"}, rows)
			if list.NextPageToken != "" {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "\nMore results: --page-token %s\n", list.NextPageToken)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&workflow, "workflow", "", "Only runs of this workflow")
	cmd.Flags().StringVar(&status, "status", "", "Only runs in this status (running, succeeded, failed, cancelled)")
	cmd.Flags().IntVar(&maxResults, "max-results", 0, "Page size")
	cmd.Flags().StringVar(&pageToken, "page-token", "", "Token from a previous page")
	return cmd
}

func refOf(t domain.Trigger) string {
	if t.PullRequest != nil {
		return fmt.Sprintf("#%d", *t.PullRequest)
	}
	if t.Ref != "" {
		return t.Ref
	}
	if len(t.Revision) > 8 {
		return t.Revision[:8]
	}
	return t.Revision
}

func newStatusCmd(client *Client) *cobra.Command {
	return &cobra.Command{
		Use:   "status <run-id>",
		Short: "Show a run and its nodes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var snap domain.RunSnapshot
			if err := client.DoJSON(cmd.Context(), http.MethodGet, "/runs/"+url.PathEscape(args[0]), nil, nil, &snap); err != nil {
				return err
			}
			return writeRun(cmd, &snap)
		},
	}
}

func newCancelCmd(client *Client) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <run-id>",
		Short: "Cancel an active run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var snap domain.RunSnapshot
			if err := client.DoJSON(cmd.Context(), http.MethodPost, "/runs/"+url.PathEscape(args[0])+"/cancel", nil, nil, &snap); err != nil {
				return err
			}
			return writeRun(cmd, &snap)
		},
	}
}

func newReportCmd(client *Client) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "report <run-id>",
		Short: "Print the published report of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if getOutputFormat(cmd) == "json" && !cmd.Flags().Changed("format") {
				format = "json"
			}
			q := url.Values{}
			q.Set("format", format)
			resp, err := client.Do(cmd.Context(), http.MethodGet, "/runs/"+url.PathEscape(args[0])+"/report", q, nil)
			if err != nil {
				return err
			}
			if err := CheckError(resp); err != nil {
				return err
			}
			defer resp.Body.Close() //nolint:errcheck
			_, err = io.Copy(cmd.OutOrStdout(), resp.Body)
			return err
		},
	}

	cmd.Flags().StringVar(&format, "format", "markdown", "Report format (markdown, html, json)")
	return cmd
}

func newWorkflowsCmd(client *Client) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workflows",
		Short: "List workflows known to the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var list struct {
				Data []struct {
					Name      string            `json:"name"`
					Jobs      []string          `json:"jobs"`
					Schedules []domain.Schedule `json:"schedules,omitempty"`
					Filters   []string          `json:"filters,omitempty"`
				} `json:"data"`
			}
			if err := client.DoJSON(cmd.Context(), http.MethodGet, "/workflows", nil, nil, &list); err != nil {
				return err
			}
			if getOutputFormat(cmd) == "json" {
				return PrintJSON(cmd.OutOrStdout(), list)
			}
			rows := make([][]string, len(list.Data))
			for i, wf := range list.Data {
				crons := make([]string, len(wf.Schedules))
				for j, s := range wf.Schedules {
					crons[j] = s.Cron
				}
				rows[i] = []string{wf.Name, strconv.Itoa(len(wf.Jobs)), strings.Join(wf.Filters, ","), strings.Join(crons, "; ")}
			}
			PrintTable(cmd.OutOrStdout(), []string{"name", "jobs", "filters", "schedules"}, rows)
			return nil
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "reload",
		Short: "Re-read workflow definitions and refresh schedules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := client.DoJSON(cmd.Context(), http.MethodPost, "/workflows/reload", nil, nil, nil); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Workflows reloaded")
			return nil
		},
	})
	return cmd
}
