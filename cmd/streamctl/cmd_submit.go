package main

import (
	"fmt"
	"os"
	"time"

	"resume-optimizer/internal/shared/model"

	"github.com/spf13/cobra"
)

type submitRequest struct {
	JobDescription string `json:"job_description"`
	Resume         string `json:"resume"`
	ApplicationID  string `json:"application_id,omitempty"`
}

// newSubmitCmd 创建 "streamctl submit" 子命令
func newSubmitCmd(g *globalFlags) *cobra.Command {
	var (
		jobFile    string
		resumeFile string
		appID      string
		follow     bool
	)
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a resume optimization job",
		Long:  "Submit a job description and a resume read from files.\nPrints the job id, or follows the stream with --follow.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			jd, err := os.ReadFile(jobFile)
			if err != nil {
				return fmt.Errorf("submit: read job description: %w", err)
			}
			resume, err := os.ReadFile(resumeFile)
			if err != nil {
				return fmt.Errorf("submit: read resume: %w", err)
			}

			c := g.client()
			var out struct {
				JobID string `json:"job_id"`
			}
			req := submitRequest{JobDescription: string(jd), Resume: string(resume), ApplicationID: appID}
			if err := c.doJSON(cmd.Context(), "POST", "/api/v1/jobs", req, &out); err != nil {
				return fmt.Errorf("submit: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), out.JobID)
			if !follow {
				return nil
			}
			w := cmd.OutOrStdout()
			return c.tail(cmd.Context(), out.JobID, 0, 5, time.Second, func(env *model.Envelope) error {
				printEvent(w, env)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&jobFile, "job", "", "file with the job description")
	cmd.Flags().StringVar(&resumeFile, "resume", "", "file with the resume")
	cmd.Flags().StringVar(&appID, "application-id", "", "application record to attach")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "follow the event stream")
	cmd.MarkFlagRequired("job")
	cmd.MarkFlagRequired("resume")
	return cmd
}
