package main

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/joeumn/etsy-gen-sub000/internal/domain"
)

func dlqCmd(client func() *apiClient) *cobra.Command {
	return &cobra.Command{
		Use:   "dlq <stage>",
		Short: "List dead-lettered jobs for a stage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp struct {
				Entries []domain.DeadLetterEntry `json:"entries"`
			}
			if err := client().do(http.MethodGet, "/api/admin/dlq/"+args[0], &resp); err != nil {
				return err
			}

			if len(resp.Entries) == 0 {
				fmt.Println("dead-letter queue is empty")
				return nil
			}

			fmt.Printf("%-36s  %-8s  %-25s  %s\n", "JOB ID", "ATTEMPTS", "FAILED AT", "ERROR")
			for _, e := range resp.Entries {
				fmt.Printf("%-36s  %-8d  %-25s  %s\n",
					e.JobID, e.Attempts, e.FailedAt.Format("2006-01-02T15:04:05Z07:00"), e.Error.Message)
			}
			return nil
		},
	}
}
