package eventlog

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modoterra/reqlog/pkg/core"
)

func rawN(i int) core.RawEvent {
	return core.RawEvent{
		"initiator": "https://app.test",
		"method":    "GET",
		"timeStamp": float64(1000 + i),
		"type":      "script",
		"url":       fmt.Sprintf("https://cdn.test/%d.js", i),
	}
}

func urls(records []core.EventRecord) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.URL
	}
	return out
}

func TestNewClampsCapacity(t *testing.T) {
	assert.Equal(t, MinCapacity, New(0).Capacity())
	assert.Equal(t, MaxCapacity, New(5000).Capacity())
	assert.Equal(t, 7, New(7).Capacity())
	assert.Equal(t, 0, New(7).Size())
}

func TestAppendKeepsFIFOWindow(t *testing.T) {
	l := New(3)
	for i := 0; i < 10; i++ {
		l.Append(rawN(i))
		require.LessOrEqual(t, l.Size(), l.Capacity())
	}
	assert.Equal(t, []string{
		"https://cdn.test/7.js",
		"https://cdn.test/8.js",
		"https://cdn.test/9.js",
	}, urls(l.Snapshot()))
}

func TestAppendBelowCapacityKeepsAll(t *testing.T) {
	l := New(5)
	l.Append(rawN(0))
	l.Append(rawN(1))
	assert.Equal(t, 2, l.Size())
	assert.Equal(t, []string{"https://cdn.test/0.js", "https://cdn.test/1.js"}, urls(l.Snapshot()))
}

func TestAppendNormalizesMissingFields(t *testing.T) {
	l := New(5)
	l.Append(core.RawEvent{"method": "GET"})
	snap := l.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, core.EventRecord{
		Initiator: core.Sentinel,
		Method:    "GET",
		Timestamp: core.SentinelTimestamp(),
		Type:      core.Sentinel,
		URL:       core.Sentinel,
	}, snap[0])
}

func TestCapacityOneHoldsLatest(t *testing.T) {
	l := New(1)
	l.Append(rawN(1))
	l.Append(rawN(2))
	assert.Equal(t, []string{"https://cdn.test/2.js"}, urls(l.Snapshot()))
}

func TestSetCapacityShrinkEvictsOldest(t *testing.T) {
	l := New(10)
	for i := 0; i < 8; i++ {
		l.Append(rawN(i))
	}
	l.SetCapacity(3)
	assert.Equal(t, 3, l.Capacity())
	assert.Equal(t, []string{
		"https://cdn.test/5.js",
		"https://cdn.test/6.js",
		"https://cdn.test/7.js",
	}, urls(l.Snapshot()))

	// Further appends keep the window on the new capacity.
	l.Append(rawN(8))
	assert.Equal(t, []string{
		"https://cdn.test/6.js",
		"https://cdn.test/7.js",
		"https://cdn.test/8.js",
	}, urls(l.Snapshot()))
}

func TestSetCapacityShrinkAfterWrap(t *testing.T) {
	l := New(4)
	for i := 0; i < 6; i++ { // head is no longer at index 0
		l.Append(rawN(i))
	}
	l.SetCapacity(2)
	assert.Equal(t, []string{"https://cdn.test/4.js", "https://cdn.test/5.js"}, urls(l.Snapshot()))
}

func TestSetCapacityGrowDoesNotRestoreHistory(t *testing.T) {
	l := New(2)
	for i := 0; i < 5; i++ {
		l.Append(rawN(i))
	}
	l.SetCapacity(10)
	assert.Equal(t, 10, l.Capacity())
	assert.Equal(t, []string{"https://cdn.test/3.js", "https://cdn.test/4.js"}, urls(l.Snapshot()))

	l.Append(rawN(5))
	assert.Equal(t, 3, l.Size())
}

func TestSetCapacityClamps(t *testing.T) {
	tests := []struct {
		in   int
		want int
	}{
		{-5, 1},
		{0, 1},
		{1, 1},
		{500, 500},
		{1000, 1000},
		{5000, 1000},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.in), func(t *testing.T) {
			l := New(5)
			l.SetCapacity(tt.in)
			assert.Equal(t, tt.want, l.Capacity())
		})
	}
}

func TestSetCapacityNegativeBehavesAsOne(t *testing.T) {
	a, b := New(10), New(10)
	for i := 0; i < 6; i++ {
		a.Append(rawN(i))
		b.Append(rawN(i))
	}
	a.SetCapacity(-5)
	b.SetCapacity(1)
	assert.Equal(t, b.Snapshot(), a.Snapshot())
	assert.Equal(t, b.Capacity(), a.Capacity())
}

func TestClear(t *testing.T) {
	l := New(3)
	for i := 0; i < 5; i++ {
		l.Append(rawN(i))
	}
	l.Clear()
	assert.Equal(t, 0, l.Size())
	assert.Empty(t, l.Snapshot())
	assert.Equal(t, 3, l.Capacity())

	l.Append(rawN(9))
	assert.Equal(t, []string{"https://cdn.test/9.js"}, urls(l.Snapshot()))
}

func TestSnapshotIsIndependent(t *testing.T) {
	l := New(2)
	l.Append(rawN(0))
	l.Append(rawN(1))
	snap := l.Snapshot()

	l.Append(rawN(2))
	l.SetCapacity(1)
	l.Clear()

	assert.Equal(t, []string{"https://cdn.test/0.js", "https://cdn.test/1.js"}, urls(snap))
}

func TestRestoreKeepsMostRecent(t *testing.T) {
	var records []core.EventRecord
	for i := 0; i < 6; i++ {
		records = append(records, core.Normalize(rawN(i)))
	}
	l := New(4)
	l.Restore(records)
	assert.Equal(t, []string{
		"https://cdn.test/2.js",
		"https://cdn.test/3.js",
		"https://cdn.test/4.js",
		"https://cdn.test/5.js",
	}, urls(l.Snapshot()))
}

func TestSubscribeReceivesChanges(t *testing.T) {
	l := New(2)
	var got []Change
	unsubscribe := l.Subscribe(func(c Change) { got = append(got, c) })

	l.Append(rawN(0))
	l.SetCapacity(1)
	l.Clear()
	unsubscribe()
	l.Append(rawN(1))

	require.Len(t, got, 3)
	assert.Equal(t, Change{Seq: 1, Op: OpAppend, Size: 1, Capacity: 2}, got[0])
	assert.Equal(t, Change{Seq: 2, Op: OpCapacity, Size: 1, Capacity: 1}, got[1])
	assert.Equal(t, Change{Seq: 3, Op: OpClear, Size: 0, Capacity: 1}, got[2])
}

// TestRandomOperationsMatchModel drives the ring buffer and a naive slice
// model with the same operations and checks they never diverge.
func TestRandomOperationsMatchModel(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	l := New(DefaultCapacity)
	var model []core.EventRecord
	modelCap := DefaultCapacity

	for i := 0; i < 5000; i++ {
		switch op := rng.Intn(20); {
		case op < 15:
			rec := core.Normalize(rawN(i))
			l.AppendRecord(rec)
			model = append(model, rec)
			if len(model) > modelCap {
				model = model[len(model)-modelCap:]
			}
		case op < 19:
			n := rng.Intn(1200) - 100
			l.SetCapacity(n)
			modelCap = ClampCapacity(n)
			if len(model) > modelCap {
				model = model[len(model)-modelCap:]
			}
		default:
			l.Clear()
			model = nil
		}

		require.LessOrEqual(t, l.Size(), l.Capacity())
		require.Equal(t, modelCap, l.Capacity())
		require.Equal(t, len(model), l.Size())
		if len(model) == 0 {
			require.Empty(t, l.Snapshot())
		} else {
			require.Equal(t, model, l.Snapshot())
		}
	}
}
