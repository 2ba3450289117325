package chrono

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStandardTimeSleep(t *testing.T) {
	tm, err := NewStandardTime("UTC")
	require.Nil(t, err)
	require.Equal(t, time.UTC, tm.Location())

	err = tm.Sleep(context.Background(), time.Millisecond)
	require.Nil(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = tm.Sleep(ctx, time.Hour)
	require.ErrorIs(t, err, context.Canceled)
}

func TestStandardTimeDefaultsToLocal(t *testing.T) {
	tm, err := NewStandardTime("")
	require.Nil(t, err)
	require.Equal(t, time.Local, tm.Location())

	_, err = NewStandardTime("Not/AZone")
	require.NotNil(t, err)
}
