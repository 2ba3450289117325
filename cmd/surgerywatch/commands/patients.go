package commands

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var patientsFacility *string

func init() {
	patientsFacility = patientsCmd.Flags().StringP("facility", "f", "", "Facility id or name.")
	rootCmd.AddCommand(patientsCmd)
}

var patientsCmd = &cobra.Command{
	Use:   "patients --facility <id|name>",
	Short: "Lists every patient currently tracked at a facility.",
	RunE: func(cmd *cobra.Command, args []string) error {
		g := getGlobals(cmd.Context())
		client, err := g.newClient()
		if err != nil {
			return err
		}
		facilityID, err := g.resolveFacility(cmd.Context(), client, *patientsFacility)
		if err != nil {
			return err
		}

		legend, err := client.ResolveLegend(cmd.Context())
		if err != nil {
			return err
		}
		statuses, err := client.FetchStatus(cmd.Context(), facilityID, "", legend)
		if err != nil {
			return err
		}

		t := newTable(cmd.OutOrStdout())
		t.AppendHeader(table.Row{"Patient", "Location", "Status", "In OR", "Surgeon", "Ready for family"})
		for _, s := range statuses {
			inOR := ""
			if s.TimeInOR != nil {
				inOR = s.TimeInOR.In(g.time.Location()).Format("Jan 2 15:04")
			}
			surgeon := ""
			if s.Surgeon != nil {
				surgeon = *s.Surgeon
			}
			t.AppendRow(table.Row{
				s.PatientID,
				s.LocationID,
				s.StatusOr("?"),
				inOR,
				surgeon,
				s.ReadyForFamily,
			})
		}
		t.Render()
		return nil
	},
}
