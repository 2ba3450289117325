package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"surgerywatch/internal/scrapers/tracker"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
)

const portalLegend = `<html><body><table id="tblLegend">
	<tr style="color: white; background-color: red"><td>In OR</td></tr>
	<tr style="color: white; background-color: green"><td>Case Complete</td></tr>
</table></body></html>`

const portalIndex = `<html><body>
	<a href="/Status.aspx?facilityID=100">Main Campus</a>
	<a href="/Status.aspx?facilityID=200">North Surgery Center</a>
</body></html>`

type portal struct {
	statusRequests []map[string]string
}

func (p *portal) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/":
		w.Write([]byte(portalIndex))
	case "/Legend.aspx":
		w.Write([]byte(portalLegend))
	case "/PatientTracking.asmx/GetPatientStatus":
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		p.statusRequests = append(p.statusRequests, body)
		w.Header().Set("content-type", "application/json")
		w.Write([]byte(`{"d": [
			{"PatientID": "42", "Location": "PACU", "ForegroundColor": "White", "BackgroundColor": "Green", "ReadyForFamily": "Yes"},
			{"PatientID": "43", "Location": "OR 2", "ForegroundColor": "white", "BackgroundColor": "red", "Surgeon": "Dr. Grey"}
		]}`))
	default:
		http.NotFound(w, r)
	}
}

// resetFlags puts every flag back to its default, flag values otherwise carry over
// between runs of the same command tree.
func resetFlags(t *testing.T) {
	t.Helper()
	reset := func(f *pflag.Flag) {
		if slice, ok := f.Value.(pflag.SliceValue); ok {
			require.Nil(t, slice.Replace(nil))
		} else {
			require.Nil(t, f.Value.Set(f.DefValue))
		}
		f.Changed = false
	}
	rootCmd.PersistentFlags().VisitAll(reset)
	for _, cmd := range rootCmd.Commands() {
		cmd.Flags().VisitAll(reset)
	}
}

func execCli(t *testing.T, args ...string) (string, *globals, error) {
	t.Helper()
	unsetEnv(t, envBaseUrl)
	t.Chdir(t.TempDir())
	resetFlags(t)

	out := &bytes.Buffer{}
	rootCmd.SetOut(out)
	rootCmd.SetArgs(args)
	g := &globals{}
	err := execute(context.Background(), g)
	return out.String(), g, err
}

func runCli(t *testing.T, args ...string) string {
	t.Helper()
	out, _, err := execCli(t, args...)
	require.Nil(t, err)
	return out
}

func TestFacilitiesCommand(t *testing.T) {
	srv := httptest.NewServer(&portal{})
	defer srv.Close()

	out := runCli(t, "facilities", "--base-url", srv.URL)
	require.Contains(t, out, "Main Campus")
	require.Contains(t, out, "North Surgery Center")
	require.Contains(t, out, "200")
}

func TestLegendCommand(t *testing.T) {
	srv := httptest.NewServer(&portal{})
	defer srv.Close()

	out := runCli(t, "legend", "--base-url", srv.URL)
	require.Contains(t, out, "In OR")
	require.Contains(t, out, "Case Complete")
	require.Contains(t, out, "green")
}

func TestPatientsCommand(t *testing.T) {
	p := &portal{}
	srv := httptest.NewServer(p)
	defer srv.Close()

	out := runCli(t, "patients", "--base-url", srv.URL, "--facility", "north surgery center")
	require.Contains(t, out, "PACU")
	require.Contains(t, out, "Dr. Grey")
	require.Equal(t, []map[string]string{
		{"facilityID": "200", "patientID": "0"},
	}, p.statusRequests)
}

func TestWatchCommand(t *testing.T) {
	p := &portal{}
	srv := httptest.NewServer(p)
	defer srv.Close()

	out := runCli(
		t, "watch",
		"--base-url", srv.URL,
		"--facility", "100",
		"--patient", "42",
		"--no-bell",
	)
	require.Contains(t, out, "done after 0s (1 polls")
	require.Equal(t, []map[string]string{
		{"facilityID": "100", "patientID": "42"},
	}, p.statusRequests)
}

func TestWatchUnlistedFacilityId(t *testing.T) {
	p := &portal{}
	srv := httptest.NewServer(p)
	defer srv.Close()

	out := runCli(
		t, "watch",
		"--base-url", srv.URL,
		"--facility", "555",
		"--patient", "42",
		"--no-bell",
	)
	require.Contains(t, out, "done after 0s")
	require.Equal(t, []map[string]string{
		{"facilityID": "555", "patientID": "42"},
	}, p.statusRequests)
}

func TestWatchUnlistedFacilityName(t *testing.T) {
	p := &portal{}
	srv := httptest.NewServer(p)
	defer srv.Close()

	_, _, err := execCli(
		t, "watch",
		"--base-url", srv.URL,
		"--facility", "Saint Elsewhere",
	)
	require.ErrorIs(t, err, tracker.ErrNotFound)
	require.Empty(t, p.statusRequests)
}

func TestFailedCommandReleasesResources(t *testing.T) {
	dir := t.TempDir()
	configFile := filepath.Join(dir, "surgerywatch.json5")
	logFile := filepath.Join(dir, "surgerywatch.log")
	writeFile(t, configFile, `{ base_url: "http://127.0.0.1:1", log: { file: "`+filepath.ToSlash(logFile)+`" } }`)

	_, g, err := execCli(t, "watch", "--config", configFile, "--verbose")
	require.ErrorContains(t, err, "--facility is required")
	require.Nil(t, g.logFile)
	require.Nil(t, g.otel.TracerProvider)
}
