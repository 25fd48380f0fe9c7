package proc

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestConsumeOutputForwardsEvents checks the stdout protocol parsing: event
// lines are forwarded in order and the trailing report line is returned raw.
func TestConsumeOutputForwardsEvents(t *testing.T) {
	t.Parallel()

	out := strings.Join([]string{
		`{"event":"started","operationId":"op-1","status":"running","percentComplete":0}`,
		``,
		`not json noise from a library`,
		`{"event":"progress","operationId":"op-1","percentComplete":50,"message":"Deleting cache files","filesDeleted":10,"bytesFreed":2048}`,
		`{"event":"complete","operationId":"op-1","percentComplete":100,"success":true}`,
		`{"cacheFilesDeleted":10,"totalBytesFreed":2048,"emptyDirsRemoved":1}`,
	}, "\n")

	var got []Event
	report, final, err := consumeOutput(strings.NewReader(out), func(evt Event) {
		got = append(got, evt)
	})
	require.NoError(t, err)

	require.Len(t, got, 3)
	require.Equal(t, EventStarted, got[0].Event)
	require.Equal(t, EventProgress, got[1].Event)
	require.Equal(t, 50.0, got[1].PercentComplete)
	require.Equal(t, "Deleting cache files", got[1].Message)
	require.Equal(t, int64(10), got[1].FilesDeleted)
	require.Equal(t, int64(2048), got[1].BytesFreed)

	require.NotNil(t, final)
	require.True(t, final.Success)

	require.JSONEq(t, `{"cacheFilesDeleted":10,"totalBytesFreed":2048,"emptyDirsRemoved":1}`, string(report))
}

// TestConsumeOutputKeepsLastReport verifies only the final non-event JSON
// line survives when several are printed.
func TestConsumeOutputKeepsLastReport(t *testing.T) {
	t.Parallel()

	out := strings.Join([]string{
		`{"partial":true}`,
		`{"event":"complete","operationId":"op-2","percentComplete":100,"success":true}`,
		`{"partial":false,"done":true}`,
	}, "\n")

	report, final, err := consumeOutput(strings.NewReader(out), nil)
	require.NoError(t, err)
	require.NotNil(t, final)
	require.JSONEq(t, `{"partial":false,"done":true}`, string(report))
}

// TestConsumeOutputNoEvents tolerates a processor that prints nothing useful.
func TestConsumeOutputNoEvents(t *testing.T) {
	t.Parallel()

	report, final, err := consumeOutput(strings.NewReader("plain text\n"), nil)
	require.NoError(t, err)
	require.Nil(t, final)
	require.Nil(t, report)
}

// TestParseEventRejectsUnknownKinds ensures foreign JSON objects are not
// mistaken for protocol events.
func TestParseEventRejectsUnknownKinds(t *testing.T) {
	t.Parallel()

	_, ok := parseEvent(`{"event":"heartbeat"}`)
	require.False(t, ok)

	_, ok = parseEvent(`{"cacheFilesDeleted":3}`)
	require.False(t, ok)

	evt, ok := parseEvent(`{"event":"complete","success":false,"cancelled":true,"message":"Operation cancelled"}`)
	require.True(t, ok)
	require.True(t, evt.Cancelled)
	require.False(t, evt.Success)
}

// TestNewRunnerValidation covers required config and defaulting.
func TestNewRunnerValidation(t *testing.T) {
	t.Parallel()

	_, err := NewRunner(Config{})
	require.Error(t, err)

	r, err := NewRunner(Config{Binary: "/usr/local/bin/cache-processor"})
	require.NoError(t, err)
	require.Equal(t, uint(3), r.cfg.LaunchAttempts)
	require.NotZero(t, r.cfg.LaunchDelay)
}
