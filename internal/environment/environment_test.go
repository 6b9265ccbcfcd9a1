package environment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashford-obs/opsd/internal/gateway"
)

type fakeAggregator struct {
	snap gateway.Snapshot
	err  error
}

func (f *fakeAggregator) Snapshot(ctx context.Context) (gateway.Snapshot, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.snap, nil
}

func param(current bool, latest float64, flags map[string]bool) gateway.Parameter {
	return gateway.Parameter{Current: current, Latest: latest, Flags: flags}
}

func testGroups() []GroupConfig {
	return []GroupConfig{
		{
			Key:   "wind",
			Label: "Wind",
			Watchers: []WatcherConfig{
				{Label: "W1 Vaisala", Device: "w1m_vaisala", Parameter: "wind_speed"},
				{Label: "GOTO Vaisala", Device: "goto_vaisala", Parameter: "wind_speed"},
			},
		},
		{
			Key:   "external_humidity",
			Label: "Ext. Humidity",
			Watchers: []WatcherConfig{
				{Label: "W1 Vaisala", Device: "w1m_vaisala", Parameter: "relative_humidity"},
			},
		},
	}
}

func allSafeSnapshot() gateway.Snapshot {
	return gateway.Snapshot{
		"w1m_vaisala": {Parameters: map[string]gateway.Parameter{
			"wind_speed":        param(true, 12.5, map[string]bool{"unsafe": false}),
			"relative_humidity": param(true, 43.2, map[string]bool{"unsafe": false}),
		}},
		"goto_vaisala": {Parameters: map[string]gateway.Parameter{
			"wind_speed": param(true, 11.0, map[string]bool{"unsafe": false}),
		}},
	}
}

func TestPollAllSafe(t *testing.T) {
	agg := &fakeAggregator{snap: allSafeSnapshot()}
	m := NewMonitor(Config{
		Gateway:               agg,
		Groups:                testGroups(),
		ExternalHumidityGroup: "external_humidity",
	})

	v := m.Poll(context.Background())

	assert.True(t, v.Safe)
	assert.Empty(t, v.UnsafeConditions)
	require.NotNil(t, v.ExternalHumidity)
	assert.InDelta(t, 43.2, *v.ExternalHumidity, 0.001)
	assert.Nil(t, v.InternalHumidity)
}

func TestPollUnsafeFlagTripsGroup(t *testing.T) {
	snap := allSafeSnapshot()
	snap["goto_vaisala"].Parameters["wind_speed"] = param(true, 55.0, map[string]bool{"unsafe": true})

	m := NewMonitor(Config{Gateway: &fakeAggregator{snap: snap}, Groups: testGroups()})
	v := m.Poll(context.Background())

	assert.False(t, v.Safe)
	assert.Equal(t, []string{"Wind"}, v.UnsafeConditions)
}

func TestPollRedundantSensorCoversStaleOne(t *testing.T) {
	// One wind sensor stale, the other current and safe: group stays safe.
	snap := allSafeSnapshot()
	snap["goto_vaisala"].Parameters["wind_speed"] = param(false, 0, nil)

	m := NewMonitor(Config{Gateway: &fakeAggregator{snap: snap}, Groups: testGroups()})
	v := m.Poll(context.Background())

	assert.True(t, v.Safe)
}

func TestPollAllUnknownIsUnsafe(t *testing.T) {
	snap := allSafeSnapshot()
	snap["w1m_vaisala"].Parameters["wind_speed"] = param(false, 0, nil)
	snap["goto_vaisala"].Parameters["wind_speed"] = param(false, 0, nil)

	m := NewMonitor(Config{Gateway: &fakeAggregator{snap: snap}, Groups: testGroups()})
	v := m.Poll(context.Background())

	assert.False(t, v.Safe)
	assert.Contains(t, v.UnsafeConditions, "Wind")
}

func TestPollAggregatorUnreachable(t *testing.T) {
	m := NewMonitor(Config{
		Gateway: &fakeAggregator{err: errors.New("connection refused")},
		Groups:  testGroups(),
	})
	v := m.Poll(context.Background())

	assert.False(t, v.Safe)
	assert.ElementsMatch(t, []string{"Wind", "Ext. Humidity"}, v.UnsafeConditions)
	assert.Nil(t, v.ExternalHumidity)
}

func TestPollWarningDoesNotTripGroup(t *testing.T) {
	snap := allSafeSnapshot()
	snap["w1m_vaisala"].Parameters["relative_humidity"] = param(true, 68.0, map[string]bool{"warning": true})

	m := NewMonitor(Config{Gateway: &fakeAggregator{snap: snap}, Groups: testGroups()})
	v := m.Poll(context.Background())

	assert.True(t, v.Safe)
	assert.Equal(t, StatusWarning, m.ConditionsSnapshot()["Ext. Humidity"]["W1 Vaisala"])
}

func TestInitialVerdictIsStaleAndUnsafe(t *testing.T) {
	m := NewMonitor(Config{Gateway: &fakeAggregator{}, Groups: testGroups()})
	v := m.Verdict()

	assert.False(t, v.Safe)
	assert.True(t, v.UpdatedAt.IsZero())
	assert.Greater(t, v.Age(time.Now()), time.Hour)
}

func TestConditionsSnapshot(t *testing.T) {
	snap := allSafeSnapshot()
	snap["goto_vaisala"].Parameters["wind_speed"] = param(true, 60.0, map[string]bool{"unsafe": true})

	m := NewMonitor(Config{Gateway: &fakeAggregator{snap: snap}, Groups: testGroups()})
	m.Poll(context.Background())

	states := m.ConditionsSnapshot()
	require.Contains(t, states, "Wind")
	assert.Equal(t, StatusSafe, states["Wind"]["W1 Vaisala"])
	assert.Equal(t, StatusUnsafe, states["Wind"]["GOTO Vaisala"])
}

func TestStatusReadsAreSafeDuringPolls(t *testing.T) {
	m := NewMonitor(Config{Gateway: &fakeAggregator{snap: allSafeSnapshot()}, Groups: testGroups()})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			m.Poll(context.Background())
		}
	}()

	for {
		states := m.ConditionsSnapshot()
		assert.Contains(t, states, "Wind")
		m.Verdict()
		select {
		case <-done:
			return
		default:
		}
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	m := NewMonitor(Config{
		Gateway:      &fakeAggregator{snap: allSafeSnapshot()},
		Groups:       testGroups(),
		PollInterval: 10 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return m.Verdict().Safe }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
