package main

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/spf13/cobra"
)

const difftoolName = "relaydiff"

// runGit is replaced in tests.
var runGit = func(args ...string) ([]byte, error) {
	return exec.Command("git", args...).CombinedOutput()
}

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Configure relaydiff as git's global difftool",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		exe, err := os.Executable()
		if err != nil {
			return err
		}
		return runGitCommands(cmd.OutOrStdout(), installGitArgs(exe), true)
	},
}

var uninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Remove relaydiff from git's global difftool configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		// settings that are already gone make git fail; keep going
		return runGitCommands(cmd.OutOrStdout(), uninstallGitArgs(), false)
	},
}

func init() {
	rootCmd.AddCommand(installCmd, uninstallCmd)
}

func installGitArgs(exe string) [][]string {
	toolCmd := fmt.Sprintf(`%s open "$LOCAL" "$REMOTE" "$MERGED"`, shellQuote(exe))
	return [][]string{
		{"config", "--global", "diff.tool", difftoolName},
		{"config", "--global", "difftool.prompt", "false"},
		{"config", "--global", "difftool." + difftoolName + ".cmd", toolCmd},
	}
}

func uninstallGitArgs() [][]string {
	return [][]string{
		{"config", "--global", "--unset", "diff.tool"},
		{"config", "--global", "--unset", "difftool.prompt"},
		{"config", "--global", "--remove-section", "difftool." + difftoolName},
	}
}

func runGitCommands(w io.Writer, commands [][]string, stopOnError bool) error {
	for _, args := range commands {
		fmt.Fprintln(w, "git", strings.Join(args, " "))
		out, err := runGit(args...)
		if len(out) > 0 {
			fmt.Fprint(w, string(out))
		}
		if err != nil {
			if stopOnError {
				return fmt.Errorf("git %s: %w", strings.Join(args, " "), err)
			}
			logger.Warn().Err(err).Strs("args", args).Msg("git config step failed")
		}
	}
	return nil
}

// shellQuote quotes path for the sh -c line git runs difftool commands with.
func shellQuote(path string) string {
	if path != "" && !strings.ContainsAny(path, " '\"\\$`!*?[]{}()<>|&;#~\t\n") {
		return path
	}
	return "'" + strings.ReplaceAll(path, "'", `'\''`) + "'"
}
