package telemetry

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestScopedAPI(t *testing.T) {
	rec := &Recorder{}
	scoped := NewScopedAPI("tracker_scraper", rec)

	scoped.ReportBroken("client.fetch-status", "boom")
	scoped.ReportWarning("client.resolve-legend")
	scoped.ReportDebug("fetching")
	scoped.ReportCount("client.list-facilities", 3)

	require.Equal(t, []Report{
		{Kind: "broken", Id: "tracker_scraper: client.fetch-status", Params: []any{"boom"}},
	}, rec.Reports("broken"))
	require.Equal(t, "tracker_scraper: client.resolve-legend", rec.Reports("warning")[0].Id)
	require.Equal(t, "tracker_scraper: fetching", rec.Reports("debug")[0].Id)
	require.Equal(t, []any{int64(3)}, rec.Reports("count")[0].Params)
	require.Len(t, rec.Reports(""), 4)
}
