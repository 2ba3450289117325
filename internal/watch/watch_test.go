package watch

import (
	"context"
	"fmt"
	"surgerywatch/internal/scrapers/tracker"
	"surgerywatch/internal/telemetry"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

type fakeTime struct {
	now     time.Time
	sleeps  []time.Duration
	onSleep func(n int)
}

func (f *fakeTime) Now() time.Time {
	return f.now
}

func (f *fakeTime) Location() *time.Location {
	return time.UTC
}

func (f *fakeTime) Sleep(ctx context.Context, d time.Duration) error {
	err := ctx.Err()
	if err != nil {
		return err
	}
	f.sleeps = append(f.sleeps, d)
	f.now = f.now.Add(d)
	if f.onSleep != nil {
		f.onSleep(len(f.sleeps))
	}
	return ctx.Err()
}

type fakeResponse struct {
	statuses []tracker.PatientStatus
	err      error
}

type fakeSource struct {
	legendErr error
	responses []fakeResponse
	fetches   int
	requested []string
}

func (f *fakeSource) ResolveLegend(ctx context.Context) (tracker.Legend, error) {
	if f.legendErr != nil {
		return tracker.Legend{}, f.legendErr
	}
	return tracker.NewLegend(nil), nil
}

func (f *fakeSource) FetchStatus(ctx context.Context, facilityID, patientID string, legend tracker.Legend) ([]tracker.PatientStatus, error) {
	f.requested = append(f.requested, fmt.Sprintf("%s/%s", facilityID, patientID))
	if f.fetches >= len(f.responses) {
		return nil, fmt.Errorf("unexpected fetch #%d", f.fetches+1)
	}
	res := f.responses[f.fetches]
	f.fetches++
	return res.statuses, res.err
}

func patient(status *string) fakeResponse {
	return fakeResponse{statuses: []tracker.PatientStatus{{
		PatientID:  "42",
		LocationID: "OR 3",
		Status:     status,
	}}}
}

func newTestWatcher(source Source) (*Watcher, *fakeTime) {
	clock := &fakeTime{now: time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)}
	return NewWatcher(source, clock, &telemetry.Recorder{}), clock
}

func TestWatchExitsOnSecondPoll(t *testing.T) {
	source := &fakeSource{responses: []fakeResponse{
		patient(ptr("In OR")),
		patient(ptr("Case Complete")),
	}}
	watcher, clock := newTestWatcher(source)

	var changes []StatusChange
	var alerts [][]StatusChange
	var exits []Result
	result, err := watcher.Watch(context.Background(), Options{
		FacilityID:    "fac-1",
		PatientID:     "42",
		PollInterval:  10 * time.Second,
		ExitStatuses:  []string{"Case Complete"},
		ReportChanges: true,
		OnChange: func(_ context.Context, _ tracker.PatientStatus, change StatusChange) {
			changes = append(changes, change)
		},
		OnAlert: func(_ context.Context, _ tracker.PatientStatus, c []StatusChange) {
			alerts = append(alerts, c)
		},
		OnExit: func(_ context.Context, r Result) {
			exits = append(exits, r)
		},
	})
	require.Nil(t, err)

	require.Equal(t, 2, source.fetches)
	require.Equal(t, []string{"fac-1/42", "fac-1/42"}, source.requested)
	require.Equal(t, []time.Duration{10 * time.Second}, clock.sleeps)

	require.Equal(t, "Case Complete", result.Status.StatusOr(""))
	require.Equal(t, 10*time.Second, result.Elapsed)
	require.Equal(t, 10*time.Second, result.WallClock)
	require.Equal(t, 2, result.Polls)

	require.Equal(t, []StatusChange{
		{Property: "status", Old: "In OR", New: "Case Complete"},
	}, changes)
	require.Len(t, alerts, 1)
	require.Equal(t, []Result{result}, exits)
}

func TestWatchStartsInExitStatus(t *testing.T) {
	source := &fakeSource{responses: []fakeResponse{
		patient(ptr("Case Complete")),
	}}
	watcher, clock := newTestWatcher(source)

	exited := false
	result, err := watcher.Watch(context.Background(), Options{
		FacilityID: "fac-1",
		PatientID:  "42",
		OnExit: func(context.Context, Result) {
			exited = true
		},
	})
	require.Nil(t, err)
	require.True(t, exited)
	require.Equal(t, 1, source.fetches)
	require.Empty(t, clock.sleeps)
	require.Equal(t, time.Duration(0), result.Elapsed)
	require.Equal(t, 1, result.Polls)
}

func TestWatchUnresolvedStatusNeverExits(t *testing.T) {
	source := &fakeSource{responses: []fakeResponse{
		patient(nil),
		patient(nil),
		patient(ptr("Case Complete")),
	}}
	watcher, clock := newTestWatcher(source)

	result, err := watcher.Watch(context.Background(), Options{
		FacilityID:   "fac-1",
		PatientID:    "42",
		PollInterval: time.Minute,
		ExitStatuses: []string{"", "Case Complete"},
	})
	require.Nil(t, err)
	require.Equal(t, 3, source.fetches)
	require.Len(t, clock.sleeps, 2)
	require.Equal(t, 2*time.Minute, result.Elapsed)
}

func TestWatchReportsOnlyWhenEnabled(t *testing.T) {
	source := &fakeSource{responses: []fakeResponse{
		patient(ptr("In OR")),
		patient(ptr("Closing")),
		patient(ptr("Case Complete")),
	}}
	watcher, _ := newTestWatcher(source)

	called := false
	_, err := watcher.Watch(context.Background(), Options{
		FacilityID: "fac-1",
		PatientID:  "42",
		OnChange: func(context.Context, tracker.PatientStatus, StatusChange) {
			called = true
		},
		OnAlert: func(context.Context, tracker.PatientStatus, []StatusChange) {
			called = true
		},
	})
	require.Nil(t, err)
	require.False(t, called)
	require.Equal(t, 3, source.fetches)
}

func TestWatchUnchangedTickDoesNotAlert(t *testing.T) {
	source := &fakeSource{responses: []fakeResponse{
		patient(ptr("In OR")),
		patient(ptr("In OR")),
		patient(ptr("Case Complete")),
	}}
	watcher, _ := newTestWatcher(source)

	alerts := 0
	_, err := watcher.Watch(context.Background(), Options{
		FacilityID:    "fac-1",
		PatientID:     "42",
		ReportChanges: true,
		OnAlert: func(context.Context, tracker.PatientStatus, []StatusChange) {
			alerts++
		},
	})
	require.Nil(t, err)
	require.Equal(t, 1, alerts)
}

func TestWatchCancelled(t *testing.T) {
	source := &fakeSource{responses: []fakeResponse{
		patient(ptr("In OR")),
		patient(ptr("In OR")),
	}}
	watcher, clock := newTestWatcher(source)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	clock.onSleep = func(int) { cancel() }

	result, err := watcher.Watch(ctx, Options{
		FacilityID: "fac-1",
		PatientID:  "42",
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, source.fetches)
	require.Equal(t, "In OR", result.Status.StatusOr(""))
}

func TestWatchFetchErrorAborts(t *testing.T) {
	source := &fakeSource{responses: []fakeResponse{
		patient(ptr("In OR")),
		{err: fmt.Errorf("%w: connection reset", tracker.ErrNetwork)},
	}}
	watcher, _ := newTestWatcher(source)

	result, err := watcher.Watch(context.Background(), Options{
		FacilityID: "fac-1",
		PatientID:  "42",
	})
	require.ErrorIs(t, err, tracker.ErrNetwork)
	require.Equal(t, 2, source.fetches)
	require.Equal(t, 1, result.Polls)
	require.Equal(t, DefaultPollInterval, result.Elapsed)
}

func TestWatchRetriesNetworkErrors(t *testing.T) {
	source := &fakeSource{responses: []fakeResponse{
		{err: fmt.Errorf("%w: timeout", tracker.ErrNetwork)},
		{err: fmt.Errorf("%w: timeout", tracker.ErrNetwork)},
		patient(ptr("Case Complete")),
	}}
	watcher, _ := newTestWatcher(source)

	result, err := watcher.Watch(context.Background(), Options{
		FacilityID: "fac-1",
		PatientID:  "42",
		Retry: RetryPolicy{
			MaxRetries: 2,
			Initial:    time.Millisecond,
			Max:        2 * time.Millisecond,
		},
	})
	require.Nil(t, err)
	require.Equal(t, 3, source.fetches)
	require.Equal(t, 1, result.Polls)
}

func TestWatchDoesNotRetryNotFound(t *testing.T) {
	source := &fakeSource{responses: []fakeResponse{
		{err: &tracker.NotFoundError{FacilityID: "fac-1", PatientID: "42"}},
		patient(ptr("Case Complete")),
	}}
	watcher, _ := newTestWatcher(source)

	_, err := watcher.Watch(context.Background(), Options{
		FacilityID: "fac-1",
		PatientID:  "42",
		Retry:      RetryPolicy{MaxRetries: 3, Initial: time.Millisecond},
	})
	require.ErrorIs(t, err, tracker.ErrNotFound)
	require.Contains(t, err.Error(), "fac-1")
	require.Equal(t, 1, source.fetches)
}

func TestWatchLegendError(t *testing.T) {
	source := &fakeSource{legendErr: fmt.Errorf("%w: no table", tracker.ErrParse)}
	watcher, _ := newTestWatcher(source)

	_, err := watcher.Watch(context.Background(), Options{FacilityID: "fac-1"})
	require.ErrorIs(t, err, tracker.ErrParse)
	require.Equal(t, 0, source.fetches)
}

func TestWatchRequiresFacility(t *testing.T) {
	watcher, _ := newTestWatcher(&fakeSource{})

	_, err := watcher.Watch(context.Background(), Options{})
	require.NotNil(t, err)
}

func TestWatchSelectsPatient(t *testing.T) {
	source := &fakeSource{responses: []fakeResponse{{statuses: []tracker.PatientStatus{
		{PatientID: "1", Status: ptr("In OR")},
		{PatientID: "2", Status: ptr("Case Complete")},
	}}}}
	watcher, _ := newTestWatcher(source)

	result, err := watcher.Watch(context.Background(), Options{
		FacilityID: "fac-1",
		PatientID:  "2",
	})
	require.Nil(t, err)
	require.Equal(t, "2", result.Status.PatientID)
}

func TestWatchEmptyResponse(t *testing.T) {
	source := &fakeSource{responses: []fakeResponse{{statuses: nil}}}
	watcher, _ := newTestWatcher(source)

	_, err := watcher.Watch(context.Background(), Options{FacilityID: "fac-1", PatientID: "9"})
	require.ErrorIs(t, err, tracker.ErrNotFound)
}

func TestOptionsDefaults(t *testing.T) {
	opts := Options{}.withDefaults()
	require.Equal(t, DefaultPollInterval, opts.PollInterval)
	require.Equal(t, []string{DefaultExitStatus}, opts.ExitStatuses)

	opts = Options{PollInterval: time.Second, ExitStatuses: []string{"Discharged"}}.withDefaults()
	require.Equal(t, time.Second, opts.PollInterval)
	require.Equal(t, []string{"Discharged"}, opts.ExitStatuses)
}

func TestWatchPassesLegend(t *testing.T) {
	source := &fakeSource{responses: []fakeResponse{patient(ptr("Case Complete"))}}
	watcher, _ := newTestWatcher(source)

	calls := 0
	_, err := watcher.Watch(context.Background(), Options{
		FacilityID: "fac-1",
		OnLegend: func(tracker.Legend) {
			calls++
		},
	})
	require.Nil(t, err)
	require.Equal(t, 1, calls)
}

func TestNewCounterReportsRejectedInstrument(t *testing.T) {
	meter := sdkmetric.NewMeterProvider().Meter("test")

	recorder := &telemetry.Recorder{}
	counter := newCounter(meter, "1 not a valid name", recorder)
	require.NotNil(t, counter)
	counter.Add(context.Background(), 1)
	require.Len(t, recorder.Reports("warning"), 1)

	recorder = &telemetry.Recorder{}
	counter = newCounter(meter, "watch.polls", recorder)
	require.NotNil(t, counter)
	require.Empty(t, recorder.Reports("warning"))
}
