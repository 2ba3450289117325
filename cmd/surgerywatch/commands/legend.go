package commands

import (
	"surgerywatch/internal/notify"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(legendCmd)
}

var legendCmd = &cobra.Command{
	Use:   "legend",
	Short: "Prints the color legend the portal uses for patient statuses.",
	RunE: func(cmd *cobra.Command, args []string) error {
		g := getGlobals(cmd.Context())
		client, err := g.newClient()
		if err != nil {
			return err
		}
		legend, err := client.ResolveLegend(cmd.Context())
		if err != nil {
			return err
		}

		console := notify.NewConsole(cmd.OutOrStdout(), legend, g.time)

		t := newTable(cmd.OutOrStdout())
		t.AppendHeader(table.Row{"Status", "Foreground", "Background", "Sample"})
		for _, entry := range legend.Entries() {
			t.AppendRow(table.Row{
				entry.Status,
				entry.Foreground,
				entry.Background,
				console.StyleStatus(entry.Status),
			})
		}
		t.Render()

		for _, pair := range legend.Ambiguous() {
			g.tel.ReportWarning(
				"cli.legend",
				"color pair maps to more than one status, it will never resolve",
				pair.Foreground,
				pair.Background,
			)
		}
		return nil
	},
}
