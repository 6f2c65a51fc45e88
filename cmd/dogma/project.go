package main

import (
	"fmt"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/line/centraldogma-sub005/internal/types"
	"github.com/line/centraldogma-sub005/internal/ui"
)

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Create, remove, or restore projects",
}

var projectCreateCmd = &cobra.Command{
	Use:   "create [name]",
	Short: "Create a new project",
	Long: `Create a new project. If name is omitted and stdout is a terminal,
an interactive prompt collects it instead.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, err := projectNameArg(args)
		if err != nil {
			return err
		}
		p, err := newClient().createProject(cmd.Context(), name)
		if err != nil {
			return err
		}
		printResult(p, func() { fmt.Printf("created project %q\n", p.Name) })
		return nil
	},
}

// projectNameArg returns args[0] when given, else — only when attached
// to a terminal — prompts interactively with a huh form.
func projectNameArg(args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	if !ui.IsTerminal() {
		return "", fmt.Errorf("name is required (not attached to a terminal for an interactive prompt)")
	}
	var name string
	form := huh.NewForm(huh.NewGroup(
		huh.NewInput().
			Title("Project name").
			Description("Alphanumeric, '-' or '_', 1-64 characters").
			Value(&name).
			Validate(func(s string) error { return types.ValidateProjectName(s) }),
	))
	if err := form.Run(); err != nil {
		return "", fmt.Errorf("project name prompt: %w", err)
	}
	return name, nil
}

var projectRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Soft-delete a project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newClient().removeProject(cmd.Context(), args[0]); err != nil {
			return err
		}
		printResult(map[string]string{"removed": args[0]}, func() { fmt.Printf("removed project %q\n", args[0]) })
		return nil
	},
}

var projectRestoreCmd = &cobra.Command{
	Use:   "restore <name>",
	Short: "Undo a project removal",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := newClient().restoreProject(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		printResult(p, func() { fmt.Printf("restored project %q\n", p.Name) })
		return nil
	},
}

func init() {
	projectCmd.AddCommand(projectCreateCmd, projectRemoveCmd, projectRestoreCmd)
	rootCmd.AddCommand(projectCmd)
}
