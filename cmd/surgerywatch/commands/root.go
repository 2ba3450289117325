package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"surgerywatch/internal/chrono"
	"surgerywatch/internal/scrapers/tracker"
	"surgerywatch/internal/telemetry"
	"unicode"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"
)

type globalsKey struct{}

// globals is the state shared by every subcommand, it is built once before a
// subcommand runs.
type globals struct {
	cfg     Config
	dump    telemetry.DumpOutput
	time    chrono.StandardTime
	tel     telemetry.API
	otel    telemetry.Telemetry
	logFile *lumberjack.Logger
}

func getGlobals(ctx context.Context) *globals {
	return ctx.Value(globalsKey{}).(*globals)
}

var (
	configPath *string
	envFile    *string
	verbose    *bool
	baseUrl    *string
	timezone   *string
	httpDump   *string
)

func init() {
	flags := rootCmd.PersistentFlags()
	configPath = flags.String("config", "", "Path to the json5 config, by default surgerywatch.json5 is searched for upwards.")
	envFile = flags.String("env", ".env", "Dotenv file to load before reading the config.")
	verbose = flags.BoolP("verbose", "v", false, "Enable verbose logging/instrumentation.")
	baseUrl = flags.String("base-url", "", "Base url of the patient tracking portal, overrides the config.")
	timezone = flags.String("timezone", "", "IANA timezone portal timestamps are in, overrides the config.")
	httpDump = flags.String("http-dump", "", "Directory to write every http request and response to, it is cleared first.")
}

var rootCmd = &cobra.Command{
	Use:           "surgerywatch",
	Short:         "surgerywatch follows a patient's surgical status on a hospital tracking portal.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := LoadConfig(*configPath, *envFile)
		if err != nil {
			return err
		}
		if *baseUrl != "" {
			cfg.BaseUrl = *baseUrl
		}
		if *timezone != "" {
			cfg.Timezone = *timezone
		}

		g := getGlobals(cmd.Context())
		g.cfg = cfg
		g.tel = telemetry.SlogAPI{}

		var logOut io.Writer = os.Stderr
		if cfg.Log.File != "" {
			g.logFile = &lumberjack.Logger{
				Filename:   cfg.Log.File,
				MaxSize:    orDefault(cfg.Log.MaxSizeMb, 5),
				MaxBackups: orDefault(cfg.Log.MaxBackups, 3),
				MaxAge:     orDefault(cfg.Log.MaxAgeDays, 28),
				Compress:   true,
			}
			logOut = io.MultiWriter(os.Stderr, g.logFile)
		}
		telemetry.InitSlog(*verbose, logOut)

		g.time, err = chrono.NewStandardTime(cfg.Timezone)
		if err != nil {
			return fmt.Errorf("load timezone %q: %w", cfg.Timezone, err)
		}

		if *httpDump != "" {
			dump, err := telemetry.NewFilesystemDump(*httpDump)
			if err != nil {
				return fmt.Errorf("create http dump: %w", err)
			}
			g.dump = dump
		}

		g.otel, err = telemetry.Setup(cmd.Context(), "surgerywatch", cfg.Otlp)
		if err != nil {
			return fmt.Errorf("setup telemetry: %w", err)
		}
		if g.otel.MeterProvider != nil {
			telemetry.InstrumentPerfStats(cmd.Context())
		}

		return nil
	},
}

func ExecuteContext(ctx context.Context) {
	if err := execute(ctx, &globals{}); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// execute runs the command line with g as the shared state and releases what the
// command set up whether or not it succeeded.
func execute(ctx context.Context, g *globals) error {
	ctx = context.WithValue(ctx, globalsKey{}, g)
	// cobra only hands the root context down to subcommands that have none yet
	for _, cmd := range rootCmd.Commands() {
		cmd.SetContext(ctx)
	}
	err := rootCmd.ExecuteContext(ctx)
	return errors.Join(err, g.close())
}

func (g *globals) close() error {
	err := g.otel.Shutdown(context.Background())
	g.otel = telemetry.Telemetry{}
	if g.logFile != nil {
		telemetry.InitSlog(*verbose, os.Stderr)
		err = errors.Join(err, g.logFile.Close())
		g.logFile = nil
	}
	return err
}

func orDefault(value, fallback int) int {
	if value <= 0 {
		return fallback
	}
	return value
}

func (g *globals) newClient() (*tracker.Client, error) {
	opts := g.cfg.ClientOptions(g.time.Location())
	opts.HttpDump = g.dump
	return tracker.NewClient(opts, g.tel)
}

// resolveFacility finds the facility id for a --facility value that is either an id or a
// (fuzzy) name. When the facility list cannot be scraped, or a value without spaces matches
// no listed facility, the value is used as an id.
func (g *globals) resolveFacility(ctx context.Context, client *tracker.Client, query string) (string, error) {
	if query == "" {
		return "", fmt.Errorf("--facility is required")
	}
	facilities, err := client.ListFacilities(ctx)
	if err != nil {
		g.tel.ReportWarning("cli.resolve-facility", "could not list facilities, using value as id", err)
		return query, nil
	}
	facility, err := tracker.FindFacility(facilities, query)
	if err != nil {
		if strings.ContainsFunc(query, unicode.IsSpace) {
			return "", err
		}
		g.tel.ReportWarning("cli.resolve-facility", "facility is not listed, using value as id", query)
		return query, nil
	}
	return facility.ID, nil
}

func newTable(out io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(out)
	return t
}
