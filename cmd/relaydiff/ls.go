package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/agentworkforce/relaydiff/internal/relaydiff"
)

var lsDir string

var (
	batchStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	dirStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).PaddingLeft(2)
	fileStyle  = lipgloss.NewStyle().PaddingLeft(4)
	emptyStyle = lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("241"))
)

var changeStyles = map[relaydiff.ChangeKind]lipgloss.Style{
	relaydiff.ChangeAdded:    lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
	relaydiff.ChangeRemoved:  lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	relaydiff.ChangeRenamed:  lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
	relaydiff.ChangeModified: lipgloss.NewStyle().Foreground(lipgloss.Color("39")),
}

var lsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List registered diffs for a directory, one block per batch",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := loadSettings()
		if err != nil {
			return err
		}
		dir := lsDir
		if dir == "" {
			if dir, err = os.Getwd(); err != nil {
				return err
			}
		}
		if dir, err = filepath.Abs(dir); err != nil {
			return err
		}
		svc, _, err := openService(cmd.Context(), s)
		if err != nil {
			return err
		}
		defer svc.Close()
		entries, err := svc.DirectoryEntries(cmd.Context(), relaydiff.HashString(dir))
		if err != nil {
			return err
		}
		cfg := svc.Config()
		renderBatches(cmd.OutOrStdout(), splitBatches(entries, cfg.GroupingWindow), cfg.ShouldCollapseIntoGroups)
		return nil
	},
}

func init() {
	lsCmd.Flags().StringVar(&lsDir, "dir", "", "directory whose diffs to list (default: working directory)")
	rootCmd.AddCommand(lsCmd)
}

// splitBatches clusters entries whose timestamps lie within window of the
// first entry of their batch.
func splitBatches(entries []relaydiff.SessionMetadata, window time.Duration) [][]relaydiff.SessionMetadata {
	sorted := append([]relaydiff.SessionMetadata(nil), entries...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].BatchTimestamp < sorted[j].BatchTimestamp
	})
	var batches [][]relaydiff.SessionMetadata
	var start int64
	for _, meta := range sorted {
		if len(batches) == 0 || meta.BatchTimestamp-start > window.Milliseconds() {
			batches = append(batches, nil)
			start = meta.BatchTimestamp
		}
		last := len(batches) - 1
		batches[last] = append(batches[last], meta)
	}
	return batches
}

func renderBatches(w io.Writer, batches [][]relaydiff.SessionMetadata, collapse bool) {
	if len(batches) == 0 {
		fmt.Fprintln(w, emptyStyle.Render("no diffs registered for this directory"))
		return
	}
	for _, batch := range batches {
		started := time.UnixMilli(batch[0].BatchTimestamp).Format(time.DateTime)
		fmt.Fprintln(w, batchStyle.Render(fmt.Sprintf("batch %s (%d files)", started, len(batch))))
		groups := relaydiff.SingleGroup(batch)
		if collapse {
			groups = relaydiff.GroupByDirectory(batch)
		}
		for _, group := range groups {
			if group.Dir != "" {
				label := group.Dir
				if label == "." {
					label = "<root>"
				}
				fmt.Fprintln(w, dirStyle.Render(label+"/"))
			}
			for _, meta := range group.Files {
				name := meta.DisplayPath()
				if group.Dir != "" {
					name = filepath.Base(name)
				}
				style, ok := changeStyles[meta.Change]
				if !ok {
					style = lipgloss.NewStyle()
				}
				line := fmt.Sprintf("%s %s", style.Render(changeMarker(meta.Change)), name)
				fmt.Fprintln(w, fileStyle.Render(line))
			}
		}
	}
}

func changeMarker(change relaydiff.ChangeKind) string {
	switch change {
	case relaydiff.ChangeAdded:
		return "A"
	case relaydiff.ChangeRemoved:
		return "D"
	case relaydiff.ChangeRenamed:
		return "R"
	case relaydiff.ChangeModified:
		return "M"
	case "":
		return "?"
	default:
		return strings.ToUpper(string(change[:1]))
	}
}
