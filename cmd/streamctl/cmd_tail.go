package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"resume-optimizer/internal/shared/model"

	"github.com/spf13/cobra"
)

// newTailCmd 创建 "streamctl tail" 子命令
func newTailCmd(g *globalFlags) *cobra.Command {
	var (
		after   int64
		raw     bool
		retries int
	)
	cmd := &cobra.Command{
		Use:   "tail <job-id>",
		Short: "Follow a job's event stream until it is done",
		Long:  "Open the SSE stream of a job and print each event.\nReconnects with the last seen event id when the connection drops.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			return g.client().tail(cmd.Context(), args[0], after, retries, time.Second, func(env *model.Envelope) error {
				if raw {
					return json.NewEncoder(out).Encode(env)
				}
				printEvent(out, env)
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&after, "after", 0, "resume after this event id")
	cmd.Flags().BoolVar(&raw, "json", false, "print raw envelopes as NDJSON")
	cmd.Flags().IntVar(&retries, "retries", 5, "reconnect attempts without progress before giving up")
	return cmd
}

// printEvent 单行可读格式
func printEvent(w io.Writer, env *model.Envelope) {
	prefix := fmt.Sprintf("%5d %s", env.EventID, time.UnixMilli(env.Event.Timestamp()).Format("15:04:05"))
	switch ev := env.Event.(type) {
	case model.AgentChunk:
		fmt.Fprintf(w, "%s [%s #%d] %s\n", prefix, ev.Step, ev.Seq, ev.Text)
	case model.InsightEmitted:
		fmt.Fprintf(w, "%s insight(%s): %s\n", prefix, ev.Category, ev.Message)
	case model.JobStatus:
		fmt.Fprintf(w, "%s status=%s %s\n", prefix, ev.Status, ev.Message)
	case model.Done:
		fmt.Fprintf(w, "%s done (%s)\n", prefix, ev.Status)
	default:
		fmt.Fprintf(w, "%s %s\n", prefix, env.Type())
	}
}
