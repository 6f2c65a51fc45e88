package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/line/centraldogma-sub005/internal/query"
)

var (
	queryRevision string
	jsonpathExprs []string
)

var queryCmd = &cobra.Command{
	Use:   "query <project>/<repo> <path>",
	Short: "Evaluate a JSON entry, optionally narrowed by one or more --jsonpath expressions",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, err := parseRepo(args[0])
		if err != nil {
			return err
		}
		rev, err := parseRevision(queryRevision)
		if err != nil {
			return err
		}
		q := query.OfJSON()
		if len(jsonpathExprs) > 0 {
			q = query.OfJSONPath(jsonpathExprs...)
		}
		entry, err := newClient().getFile(cmd.Context(), repo, rev, args[1], q)
		if err != nil {
			return err
		}
		printResult(entry, func() {
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
	queryCmd.Flags().StringVar(&queryRevision, "revision", "", "revision to read at (default: head)")
	queryCmd.Flags().StringArrayVar(&jsonpathExprs, "jsonpath", nil, "JSONPath expression to apply (repeatable)")
	rootCmd.AddCommand(queryCmd)
}
