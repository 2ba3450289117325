package commands

import (
	"fmt"
	"surgerywatch/internal/notify"
	"surgerywatch/internal/scrapers/tracker"
	"surgerywatch/internal/watch"
	"time"

	"github.com/spf13/cobra"
)

var (
	watchFacility     *string
	watchPatient      *string
	watchInterval     *time.Duration
	watchExitStatuses *[]string
	watchChanges      *bool
	watchNoBell       *bool
	watchRetries      *int
)

func init() {
	flags := watchCmd.Flags()
	watchFacility = flags.StringP("facility", "f", "", "Facility id or name.")
	watchPatient = flags.StringP("patient", "p", "", "Patient id, the first patient of the facility when empty.")
	watchInterval = flags.Duration("interval", 0, "Time between polls (default 30s or the config's poll_interval).")
	watchExitStatuses = flags.StringSlice("exit-status", nil, `Statuses that end the watch (default "Case Complete").`)
	watchChanges = flags.Bool("changes", true, "Report every change of the patient's record.")
	watchNoBell = flags.Bool("no-bell", false, "Do not ring the terminal bell.")
	watchRetries = flags.Int("retries", -1, "Retries for a poll that fails on the network, -1 uses the config.")
	rootCmd.AddCommand(watchCmd)
}

var watchCmd = &cobra.Command{
	Use:   "watch --facility <id|name> [--patient <id>]",
	Short: "Polls a patient's status until it reaches an exit status.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		g := getGlobals(ctx)
		client, err := g.newClient()
		if err != nil {
			return err
		}
		facilityID, err := g.resolveFacility(ctx, client, *watchFacility)
		if err != nil {
			return err
		}

		opts := g.cfg.WatchOptions()
		opts.FacilityID = facilityID
		opts.PatientID = *watchPatient
		opts.ReportChanges = *watchChanges
		if *watchInterval > 0 {
			opts.PollInterval = *watchInterval
		}
		if len(*watchExitStatuses) > 0 {
			opts.ExitStatuses = *watchExitStatuses
		}
		if *watchRetries >= 0 {
			opts.Retry.MaxRetries = *watchRetries
		}

		console := notify.NewConsole(cmd.OutOrStdout(), tracker.Legend{}, g.time)
		console.Bell = !*watchNoBell
		notifiers := []notify.Notifier{console}
		if g.cfg.Email != nil {
			notifiers = append(notifiers, notify.NewEmail(*g.cfg.Email))
		}
		notify.NewMulti(g.tel, notifiers...).Attach(&opts)
		opts.OnLegend = console.SetLegend

		watcher := watch.NewWatcher(client, g.time, g.tel)
		result, err := watcher.Watch(ctx, opts)
		if err != nil {
			return err
		}

		fmt.Fprintf(
			cmd.OutOrStdout(),
			"done after %s (%d polls, %s wall clock)\n",
			result.Elapsed,
			result.Polls,
			result.WallClock.Round(time.Second),
		)
		return nil
	},
}
