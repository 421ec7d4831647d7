package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

func buildStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the current run status",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newAPIClient(cmd)
			if err != nil {
				return err
			}
			var resp statusResponse
			if err := c.get("/v1/status", &resp); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Phase:               %s\n", resp.Phase)
			fmt.Fprintf(out, "Completed iterations: %d\n", resp.CompletedIterations)
			fmt.Fprintf(out, "Next iteration due:  %s\n", resp.NextIterationDue.Format(time.RFC3339))
			fmt.Fprintf(out, "Interval:            %s\n", resp.Interval)
			fmt.Fprintf(out, "Max assistants:      %d\n", resp.MaxAssistants)
			fmt.Fprintf(out, "Uptime:              %s\n", resp.Gateway.Uptime)
			if len(resp.Learnings) > 0 {
				fmt.Fprintln(out, "Learnings:")
				for _, l := range resp.Learnings {
					fmt.Fprintf(out, "  - %s\n", l)
				}
			}
			return nil
		},
	}
}

func buildApproveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "approve",
		Short: "Approve the plan currently awaiting approval",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newAPIClient(cmd)
			if err != nil {
				return err
			}
			if err := c.post("/v1/approve", nil, nil); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Plan approved.")
			return nil
		},
	}
}

func buildRejectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reject [feedback]",
		Short: "Reject the plan currently awaiting approval",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newAPIClient(cmd)
			if err != nil {
				return err
			}
			if err := c.post("/v1/reject", map[string]string{"feedback": args[0]}, nil); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Plan rejected; Manager will revise.")
			return nil
		},
	}
}

func buildInjectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inject [instruction]",
		Short: "Inject a mid-run instruction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newAPIClient(cmd)
			if err != nil {
				return err
			}
			var resp struct {
				Queued           bool   `json:"queued"`
				ClarifyQuestion string `json:"clarify_question"`
			}
			if err := c.post("/v1/inject", map[string]string{"text": args[0]}, &resp); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if resp.Queued {
				fmt.Fprintln(out, "Instruction queued for the next iteration.")
			} else {
				fmt.Fprintf(out, "Manager needs clarification: %s\n", resp.ClarifyQuestion)
			}
			return nil
		},
	}
}

func buildFollowUpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "followup [question]",
		Short: "Ask a question against the Knowledge Brief after the run has stopped",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newAPIClient(cmd)
			if err != nil {
				return err
			}
			var resp struct {
				Answer string `json:"answer"`
			}
			if err := c.post("/v1/followup", map[string]string{"question": args[0]}, &resp); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), resp.Answer)
			return nil
		},
	}
}

func buildPauseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pause [duration]",
		Short: "Extend the current or next rest period (e.g. 1h, 30m); omit for indefinite",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var seconds int64
			if len(args) == 1 {
				d, err := time.ParseDuration(args[0])
				if err != nil {
					return fmt.Errorf("invalid duration %q: %w", args[0], err)
				}
				seconds = int64(d.Seconds())
			}
			c, err := newAPIClient(cmd)
			if err != nil {
				return err
			}
			if err := c.post("/v1/pause", map[string]int64{"duration_seconds": seconds}, nil); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Paused.")
			return nil
		},
	}
}

func buildResumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "End the current rest period immediately",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newAPIClient(cmd)
			if err != nil {
				return err
			}
			if err := c.post("/v1/resume", nil, nil); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Resumed.")
			return nil
		},
	}
}

func buildIntervalCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "interval [duration]",
		Short: "Change the rest interval (e.g. 10m, 1h)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := time.ParseDuration(args[0])
			if err != nil {
				return fmt.Errorf("invalid duration %q: %w", args[0], err)
			}
			c, err := newAPIClient(cmd)
			if err != nil {
				return err
			}
			if err := c.post("/v1/interval", map[string]int64{"duration_seconds": int64(d.Seconds())}, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Interval updated to %s.\n", d)
			return nil
		},
	}
}

func buildPoolSizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pool-size [n]",
		Short: "Change the Assistant Pool's concurrency bound",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid pool size %q: %w", args[0], err)
			}
			c, err := newAPIClient(cmd)
			if err != nil {
				return err
			}
			if err := c.post("/v1/pool-size", map[string]int{"size": n}, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Pool size updated to %d.\n", n)
			return nil
		},
	}
}

func buildStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Cooperatively drain the run (finishes the in-flight iteration, skips rest)",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newAPIClient(cmd)
			if err != nil {
				return err
			}
			if err := c.post("/v1/stop", nil, nil); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Stop requested.")
			return nil
		},
	}
}

func buildResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Hard-cancel the run and return to idle (aborts in-flight Assistants)",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newAPIClient(cmd)
			if err != nil {
				return err
			}
			if err := c.post("/v1/reset", nil, nil); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Reset.")
			return nil
		},
	}
}
