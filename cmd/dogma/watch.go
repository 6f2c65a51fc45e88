package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/line/centraldogma-sub005/internal/query"
)

var (
	watchRevision string
	watchPattern  string
	watchTimeout  time.Duration
)

var watchCmd = &cobra.Command{
	Use:   "watch <project>/<repo> [path]",
	Short: "Long-poll for the next change to a repository or a single file",
	Long: `With a path argument, watches that one entry and prints it once it
changes. Without one, watches the whole repository (optionally narrowed
by --pattern) and prints the revision of the next matching commit.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, err := parseRepo(args[0])
		if err != nil {
			return err
		}
		base, err := parseRevision(watchRevision)
		if err != nil {
			return err
		}

		if len(args) == 2 {
			entry, err := newClient().watchFile(cmd.Context(), repo, base, args[1], query.Identity(), watchTimeout)
			if err != nil {
				return err
			}
			if entry == nil {
				printResult(nil, func() { fmt.Println("(timed out, no change)") })
				return nil
			}
			printResult(entry, func() { fmt.Printf("revision %d: %v\n", entry.Revision, entry.Content) })
			return nil
		}

		rev, err := newClient().watchRepository(cmd.Context(), repo, base, watchPattern, watchTimeout)
		if err != nil {
			return err
		}
		if rev == nil {
			printResult(nil, func() { fmt.Println("(timed out, no change)") })
			return nil
		}
		printResult(map[string]interface{}{"revision": *rev}, func() { fmt.Printf("revision %d\n", *rev) })
		return nil
	},
}

func init() {
	watchCmd.Flags().StringVar(&watchRevision, "revision", "", "baseline revision to watch from (default: head)")
	watchCmd.Flags().StringVar(&watchPattern, "pattern", "/**", "path pattern to restrict a repository watch to")
	watchCmd.Flags().DurationVar(&watchTimeout, "timeout", 10*time.Second, "how long to wait before giving up")
	rootCmd.AddCommand(watchCmd)
}
