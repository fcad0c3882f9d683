package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/agentworkforce/relaydiff/internal/httpapi"
	"github.com/agentworkforce/relaydiff/internal/viewclient"
)

var navAddr string

var navCmd = &cobra.Command{
	Use:   "nav",
	Short: "Drive a running viewer",
}

var navNextCmd = &cobra.Command{
	Use:   "next",
	Short: "Show the next file of the batch",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := viewClient()
		if err != nil {
			return err
		}
		view, err := client.Next(cmd.Context())
		if err != nil {
			return err
		}
		printView(cmd.OutOrStdout(), view)
		return nil
	},
}

var navPrevCmd = &cobra.Command{
	Use:   "prev",
	Short: "Show the previous file of the batch",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := viewClient()
		if err != nil {
			return err
		}
		view, err := client.Previous(cmd.Context())
		if err != nil {
			return err
		}
		printView(cmd.OutOrStdout(), view)
		return nil
	},
}

var navSelectCmd = &cobra.Command{
	Use:   "select <entryId>",
	Short: "Show the file with the given entry ID",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := viewClient()
		if err != nil {
			return err
		}
		view, err := client.Select(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		printView(cmd.OutOrStdout(), view)
		return nil
	},
}

var navSidebarCmd = &cobra.Command{
	Use:   "sidebar",
	Short: "Toggle the file sidebar",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := viewClient()
		if err != nil {
			return err
		}
		visible, err := client.ToggleSidebar(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "sidebar visible: %t\n", visible)
		return nil
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print the event stream of a running viewer until it closes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := viewClient()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		return client.Events(cmd.Context(), func(ev httpapi.ViewEvent) error {
			fmt.Fprintln(out, describeEvent(ev))
			return nil
		})
	},
}

func init() {
	for _, c := range []*cobra.Command{navCmd, watchCmd} {
		c.PersistentFlags().StringVar(&navAddr, "addr", "", "viewer address (default RELAYDIFF_ADDR, then the latest viewer)")
	}
	navCmd.AddCommand(navNextCmd, navPrevCmd, navSelectCmd, navSidebarCmd)
	rootCmd.AddCommand(navCmd, watchCmd)
}

// viewClient targets --addr, then RELAYDIFF_ADDR, then the latest viewer
// started by open.
func viewClient() (*viewclient.Client, error) {
	addr, err := resolveViewerAddr(navAddr, stringEnv("RELAYDIFF_ADDR", ""))
	if err != nil {
		return nil, err
	}
	return viewclient.NewClient(addr, nil), nil
}

func resolveViewerAddr(flagValue, envValue string) (string, error) {
	for _, candidate := range []string{flagValue, envValue} {
		if trimmed := strings.TrimSpace(candidate); trimmed != "" {
			return trimmed, nil
		}
	}
	return readViewerAddr()
}

func printView(w io.Writer, view httpapi.ViewResponse) {
	fmt.Fprintf(w, "%s\t%s\t%s\n", view.State, view.EntryID, view.Title)
}

func describeEvent(ev httpapi.ViewEvent) string {
	switch ev.Type {
	case httpapi.EventCurrent:
		path := ""
		if ev.Current != nil {
			path = ev.Current.DisplayPath()
		}
		return fmt.Sprintf("current %s %s (%d diff lines)", ev.EntryID, path, strings.Count(ev.Diff, "\n"))
	case httpapi.EventSidebar:
		files := 0
		for _, group := range ev.Groups {
			files += len(group.Files)
		}
		return fmt.Sprintf("sidebar %d groups, %d files", len(ev.Groups), files)
	case httpapi.EventTitle:
		return "title " + ev.Title
	default:
		return ev.Type
	}
}
