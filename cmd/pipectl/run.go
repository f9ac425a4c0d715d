package main

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joeumn/etsy-gen-sub000/internal/domain"
)

func runCmd(client func() *apiClient) *cobra.Command {
	var chain bool

	cmd := &cobra.Command{
		Use:   "run <stage>",
		Short: "Trigger a manual run of one pipeline stage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/admin/run/" + args[0]
			if chain {
				path += "?chain=true"
			}

			var resp struct {
				Job domain.Job `json:"job"`
			}
			if err := client().do(http.MethodPost, path, &resp); err != nil {
				return err
			}

			fmt.Printf("job_id:  %s\n", resp.Job.ID)
			fmt.Printf("job_key: %s\n", resp.Job.JobKey)
			fmt.Printf("stage:   %s\n", resp.Job.Stage)
			fmt.Printf("status:  %s\n", resp.Job.Status)
			return nil
		},
	}
	cmd.Flags().BoolVar(&chain, "chain", false, "run the remaining pipeline stages on success")

	names := make([]string, 0, len(domain.Stages()))
	for _, s := range domain.Stages() {
		names = append(names, string(s))
	}
	cmd.Long = "Trigger a manual run of one pipeline stage.\n\nStages: " + strings.Join(names, ", ")

	return cmd
}
