package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/line/centraldogma-sub005/internal/storage"
)

var (
	mergeRevision string
	mergePaths    []string
	mergeOptional []string
	mergeJSONPath []string
)

var mergeCmd = &cobra.Command{
	Use:   "merge <project>/<repo>",
	Short: "Deep-merge one or more JSON/YAML entries into a single document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, err := parseRepo(args[0])
		if err != nil {
			return err
		}
		rev, err := parseRevision(mergeRevision)
		if err != nil {
			return err
		}
		if len(mergePaths) == 0 && len(mergeOptional) == 0 {
			return fmt.Errorf("at least one --path or --optional-path is required")
		}
		var sources []storage.MergeSource
		for _, p := range mergePaths {
			sources = append(sources, storage.MergeSource{Path: p})
		}
		for _, p := range mergeOptional {
			sources = append(sources, storage.MergeSource{Path: p, Optional: true})
		}

		result, err := newClient().merge(cmd.Context(), repo, rev, sources, mergeJSONPath)
		if err != nil {
			return err
		}
		printResult(result, func() {
			out, err := json.MarshalIndent(result["Content"], "", "  ")
			if err != nil {
				fmt.Printf("%v\n", result["Content"])
				return
			}
			fmt.Println(string(out))
		})
		return nil
	},
}

func init() {
	mergeCmd.Flags().StringVar(&mergeRevision, "revision", "", "revision to merge at (default: head)")
	mergeCmd.Flags().StringArrayVar(&mergePaths, "path", nil, "required source entry path (repeatable, in merge order)")
	mergeCmd.Flags().StringArrayVar(&mergeOptional, "optional-path", nil, "optional source entry path (repeatable, skipped if missing)")
	mergeCmd.Flags().StringArrayVar(&mergeJSONPath, "jsonpath", nil, "JSONPath expression applied to the merged document")
	rootCmd.AddCommand(mergeCmd)
}
