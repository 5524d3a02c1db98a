// ABOUTME: Install Claude Code skill for kpi
// ABOUTME: Embeds and installs the skill definition to ~/.claude/skills/

package main

import (
	"bufio"
	"embed"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

//go:embed skill/SKILL.md
var skillFS embed.FS

var skillSkipConfirm bool

var installSkillCmd = &cobra.Command{
	Use:         "install-skill",
	Short:       "Install Claude Code skill",
	Annotations: noStorage,
	Long: `Install the kpi skill for Claude Code.

This copies the skill definition to ~/.claude/skills/kpi/
so Claude Code can use kpi tools contextually.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		return installSkill(home, os.Stdin, cmd.OutOrStdout(), skillSkipConfirm)
	},
}

func init() {
	installSkillCmd.Flags().BoolVarP(&skillSkipConfirm, "yes", "y", false, "Skip confirmation prompt")
	rootCmd.AddCommand(installSkillCmd)
}

// skillPath returns where the skill is installed under home.
func skillPath(home string) string {
	return filepath.Join(home, ".claude", "skills", "kpi", "SKILL.md")
}

func installSkill(home string, in io.Reader, out io.Writer, skipConfirm bool) error {
	dest := skillPath(home)

	fmt.Fprintln(out, "This will install the kpi skill, enabling Claude Code to:")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "  • Record monthly metric values")
	fmt.Fprintln(out, "  • Define and preview calculated metrics")
	fmt.Fprintln(out, "  • Review KPI trends by month, quarter, or year")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Destination:")
	fmt.Fprintf(out, "  %s\n", dest)
	fmt.Fprintln(out)

	if _, err := os.Stat(dest); err == nil {
		fmt.Fprintln(out, "Note: A skill file already exists and will be overwritten.")
		fmt.Fprintln(out)
	}

	if !skipConfirm {
		fmt.Fprint(out, "Install the kpi skill? [y/N] ")
		response, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && err != io.EOF {
			return fmt.Errorf("failed to read response: %w", err)
		}
		response = strings.TrimSpace(strings.ToLower(response))
		if response != "y" && response != "yes" {
			fmt.Fprintln(out, "Installation canceled.")
			return nil
		}
		fmt.Fprintln(out)
	}

	content, err := skillFS.ReadFile("skill/SKILL.md")
	if err != nil {
		return fmt.Errorf("failed to read embedded skill: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0750); err != nil {
		return fmt.Errorf("failed to create skill directory: %w", err)
	}
	if err := os.WriteFile(dest, content, 0600); err != nil {
		return fmt.Errorf("failed to write skill file: %w", err)
	}

	color.Green("✓ Installed kpi skill successfully!")
	fmt.Fprintln(out, "Try asking Claude: \"What was our win rate last quarter?\"")
	return nil
}
