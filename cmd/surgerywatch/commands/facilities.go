package commands

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(facilitiesCmd)
}

var facilitiesCmd = &cobra.Command{
	Use:   "facilities",
	Short: "Lists the facilities linked from the portal.",
	RunE: func(cmd *cobra.Command, args []string) error {
		g := getGlobals(cmd.Context())
		client, err := g.newClient()
		if err != nil {
			return err
		}

		facilities, err := client.ListFacilities(cmd.Context())
		if err != nil {
			return err
		}

		t := newTable(cmd.OutOrStdout())
		t.AppendHeader(table.Row{"ID", "Name"})
		for _, f := range facilities {
			t.AppendRow(table.Row{f.ID, f.Name})
		}
		t.Render()
		return nil
	},
}
