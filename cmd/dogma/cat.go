package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/line/centraldogma-sub005/internal/query"
)

var catRevision string

var catCmd = &cobra.Command{
	Use:   "cat <project>/<repo> <path>",
	Short: "Print a single entry's content at a revision",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, err := parseRepo(args[0])
		if err != nil {
			return err
		}
		rev, err := parseRevision(catRevision)
		if err != nil {
			return err
		}
		entry, err := newClient().getFile(cmd.Context(), repo, rev, args[1], query.Identity())
		if err != nil {
			return err
		}
		printResult(entry, func() {
			if text, ok := entry.Content.(string); ok {
				fmt.Println(text)
				return
			}
			out, err := json.MarshalIndent(entry.Content, "", "  ")
			if err != nil {
				fmt.Printf("%v\n", entry.Content)
				return
			}
			fmt.Println(string(out))
		})
		return nil
	},
}

func init() {
	catCmd.Flags().StringVar(&catRevision, "revision", "", "revision to read at (default: head)")
	rootCmd.AddCommand(catCmd)
}
