package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/line/centraldogma-sub005/internal/types"
)

var (
	pushType     string
	pushFile     string
	pushSummary  string
	pushDetail   string
	pushRevision string
)

var pushCmd = &cobra.Command{
	Use:   "push <project>/<repo> <path>",
	Short: "Upsert a single entry as one commit",
	Long: `Upsert a single entry as one commit. Content is read from --file, or
from stdin when --file is omitted or "-".`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, err := parseRepo(args[0])
		if err != nil {
			return err
		}
		base, err := parseRevision(pushRevision)
		if err != nil {
			return err
		}

		raw, err := readPushContent(pushFile)
		if err != nil {
			return err
		}

		change := types.Change{Path: args[1]}
		switch pushType {
		case "TEXT":
			change.Type = types.ChangeUpsertText
			change.Text = string(raw)
		case "JSON":
			var v interface{}
			if err := json.Unmarshal(raw, &v); err != nil {
				return fmt.Errorf("content is not valid JSON (use --type TEXT for plain text): %w", err)
			}
			change.Type = types.ChangeUpsertJSON
			change.JSON = v
		default:
			return fmt.Errorf("unknown --type %q, expected JSON or TEXT", pushType)
		}

		if pushSummary == "" {
			pushSummary = "push " + args[1]
		}
		rev, err := newClient().push(cmd.Context(), repo, base, pushSummary, pushDetail, []types.Change{change})
		if err != nil {
			return err
		}
		printResult(map[string]types.Revision{"revision": rev}, func() {
			fmt.Printf("pushed %s/%s%s at revision %d\n", repo.Project, repo.Repo, args[1], rev)
		})
		return nil
	},
}

func readPushContent(file string) ([]byte, error) {
	if file == "" || file == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(file)
}

func init() {
	pushCmd.Flags().StringVar(&pushType, "type", "JSON", "entry type: JSON or TEXT")
	pushCmd.Flags().StringVar(&pushFile, "file", "", "file to read content from (default: stdin)")
	pushCmd.Flags().StringVar(&pushSummary, "summary", "", "commit summary (default: \"push <path>\")")
	pushCmd.Flags().StringVar(&pushDetail, "detail", "", "commit detail (free-form markdown)")
	pushCmd.Flags().StringVar(&pushRevision, "revision", "", "base revision to commit on top of (default: head)")
	rootCmd.AddCommand(pushCmd)
}
