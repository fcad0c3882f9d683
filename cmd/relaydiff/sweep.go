package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Remove entries older than the TTL from the entry store",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := loadSettings()
		if err != nil {
			return err
		}
		svc, _, err := openService(cmd.Context(), s)
		if err != nil {
			return err
		}
		defer svc.Close()
		result := svc.InitialSweep()
		fmt.Fprintf(cmd.OutOrStdout(), "scanned %d, removed %d metadata and %d blobs, %d failures\n",
			result.Scanned, result.RemovedMetadata, result.RemovedBlobs, result.Failed)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}
