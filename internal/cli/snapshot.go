package cli

import (
	"github.com/spf13/cobra"

	"ssv-dashboard-api/internal/app"
)

var snapshotPretty bool

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Run one poll cycle and print the merged snapshot as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Snapshot(cmd.Context(), app.SnapshotOptions{Pretty: snapshotPretty})
	},
}

func init() {
	snapshotCmd.Flags().BoolVar(&snapshotPretty, "pretty", false, "Indent the JSON output")
}
