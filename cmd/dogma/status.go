package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/line/centraldogma-sub005/internal/version"
)

var (
	statusSet   string
	statusScope string
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show or change server writability (WRITABLE, REPLICATION_ONLY, READ_ONLY)",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient()
		if statusSet == "" {
			st, serverVersion, err := c.getStatusAndVersion(cmd.Context())
			if err != nil {
				return err
			}
			if err := version.CheckCompatible(serverVersion, version.Version); err != nil {
				fmt.Fprintln(os.Stderr, "warning:", err)
			}
			printResult(map[string]string{"status": st, "version": serverVersion}, func() { fmt.Println(st) })
			return nil
		}
		st, err := c.putStatus(cmd.Context(), statusSet, statusScope)
		if err != nil {
			return err
		}
		printResult(map[string]string{"status": st}, func() { fmt.Printf("transitioned to %s\n", st) })
		return nil
	},
}

func init() {
	statusCmd.Flags().StringVar(&statusSet, "set", "", "transition to this state: WRITABLE, REPLICATION_ONLY, or READ_ONLY")
	statusCmd.Flags().StringVar(&statusScope, "scope", "LOCAL", "transition scope: LOCAL or ALL")
	rootCmd.AddCommand(statusCmd)
}
