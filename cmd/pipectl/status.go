package main

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/joeumn/etsy-gen-sub000/internal/domain"
)

func statusCmd(client func() *apiClient) *cobra.Command {
	return &cobra.Command{
		Use:   "status <job_id>",
		Short: "Show the current status of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp struct {
				Job domain.Job `json:"job"`
			}
			if err := client().do(http.MethodGet, "/api/admin/jobs/"+args[0], &resp); err != nil {
				return err
			}
			job := resp.Job

			fmt.Printf("job_id:   %s\n", job.ID)
			fmt.Printf("job_key:  %s\n", job.JobKey)
			fmt.Printf("stage:    %s\n", job.Stage)
			fmt.Printf("status:   %s\n", job.Status)
			fmt.Printf("attempts: %d\n", job.Attempts)
			if job.ParentJobID != nil {
				fmt.Printf("parent:   %s\n", *job.ParentJobID)
			}
			if job.DurationMS != nil {
				fmt.Printf("duration: %dms\n", *job.DurationMS)
			}
			if job.Error != nil {
				fmt.Printf("error:    %s (%s)\n", job.Error.Message, job.Error.Name)
			}
			if len(job.Result) > 0 {
				fmt.Printf("result:   %s\n", job.Result)
			}
			return nil
		},
	}
}
