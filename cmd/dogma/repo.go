package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/line/centraldogma-sub005/internal/storage"
	"github.com/line/centraldogma-sub005/internal/ui"
)

var repoCmd = &cobra.Command{
	Use:   "repo",
	Short: "Create, remove, or list repositories within a project",
}

var repoListCmd = &cobra.Command{
	Use:   "list <project>",
	Short: "List the repositories in a project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		names, err := newClient().listRepos(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		printResult(names, func() {
			if !ui.ShouldUseColor() {
				for _, n := range names {
					fmt.Println(n)
				}
				return
			}
			rows := make([][]string, len(names))
			for i, n := range names {
				rows[i] = []string{n}
			}
			fmt.Println(ui.NewTable().Headers("REPOSITORY").Rows(rows...).String())
		})
		return nil
	},
}

var repoCreateCmd = &cobra.Command{
	Use:   "create <project> <repo>",
	Short: "Create a new repository",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newClient().createRepo(cmd.Context(), args[0], args[1]); err != nil {
			return err
		}
		repo := storage.RepoKey{Project: args[0], Repo: args[1]}
		printResult(repo, func() { fmt.Printf("created %s/%s\n", repo.Project, repo.Repo) })
		return nil
	},
}

var repoRemoveCmd = &cobra.Command{
	Use:   "remove <project> <repo>",
	Short: "Soft-delete a repository",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newClient().removeRepo(cmd.Context(), args[0], args[1]); err != nil {
			return err
		}
		printResult(map[string]string{"removed": args[1]}, func() { fmt.Printf("removed %s/%s\n", args[0], args[1]) })
		return nil
	},
}

func init() {
	repoCmd.AddCommand(repoListCmd, repoCreateCmd, repoRemoveCmd)
	rootCmd.AddCommand(repoCmd)
}
