package history

import (
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kastur/interdroid-swan/core"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func at(ms int) time.Time {
	return t0.Add(time.Duration(ms) * time.Millisecond)
}

func values(tvs []core.TimestampedValue) []interface{} {
	acc := make([]interface{}, len(tvs))
	for i, tv := range tvs {
		acc[i] = tv.Value
	}
	return acc
}

func TestCapacity(t *testing.T) {
	var dropped []interface{}
	b, err := New(3, WithDropCallback(func(tv core.TimestampedValue, r Reason) {
		assert.Equal(t, Evicted, r)
		dropped = append(dropped, tv.Value)
	}))
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		b.Push(i, at(i), 0)
	}
	assert.Equal(t, []interface{}{1, 2, 3}, values(b.Read(at(10))))
	assert.Equal(t, []interface{}{0}, dropped)
	assert.Equal(t, 3, b.Len())
}

func TestUnlimited(t *testing.T) {
	b, err := New(Unlimited)
	require.NoError(t, err)
	for i := 0; i < 1000; i++ {
		b.Push(i, at(i), 0)
	}
	assert.Equal(t, 1000, b.Len())
	assert.Equal(t, Unlimited, b.Capacity())

	_, err = New(0)
	assert.ErrorIs(t, err, ErrBadCapacity)
}

func TestExpiry(t *testing.T) {
	b, err := New(10)
	require.NoError(t, err)
	b.Push("a", at(0), 10*time.Millisecond)
	b.Push("b", at(5), 0)
	b.Push("c", at(6), 4*time.Millisecond)

	assert.Equal(t, []interface{}{"a", "b", "c"}, values(b.Read(at(9))))
	assert.Equal(t, []interface{}{"b"}, values(b.Read(at(10))), "expiresAt <= now is gone")
	for _, tv := range b.Read(at(1000)) {
		assert.False(t, tv.Expired(at(1000)))
	}
	assert.Equal(t, 1, b.Len(), "expired values dropped on read")
}

func TestOrder(t *testing.T) {
	b, err := New(10)
	require.NoError(t, err)
	b.Push("c", at(30), 0)
	b.Push("a", at(10), 0)
	b.Push("d", at(40), 0)
	b.Push("b", at(20), 0)
	assert.Equal(t, []interface{}{"a", "b", "c", "d"}, values(b.Read(at(50))))

	latest, ok := b.Latest(at(50))
	require.True(t, ok)
	assert.Equal(t, "d", latest.Value)
}

func TestCapacityOutOfOrder(t *testing.T) {
	tests := []struct {
		description string
		pushes      []int
		want        []interface{}
		dropped     []interface{}
	}{
		{description: "older than everything", pushes: []int{10, 20, 5}, want: []interface{}{10, 20}, dropped: []interface{}{5}},
		{description: "between", pushes: []int{10, 20, 15}, want: []interface{}{15, 20}, dropped: []interface{}{10}},
		{description: "newest", pushes: []int{10, 20, 25}, want: []interface{}{20, 25}, dropped: []interface{}{10}},
		{description: "same as oldest", pushes: []int{10, 20, 10}, want: []interface{}{10, 20}, dropped: []interface{}{10}},
		{description: "reversed", pushes: []int{30, 20, 10, 40}, want: []interface{}{30, 40}, dropped: []interface{}{10, 20}},
	}
	for _, tc := range tests {
		t.Run(tc.description, func(t *testing.T) {
			m, err := NewMetrics(prometheus.NewRegistry())
			require.NoError(t, err)
			var dropped []interface{}
			b, err := New(2, WithMetrics(m, "x"), WithDropCallback(func(tv core.TimestampedValue, r Reason) {
				assert.Equal(t, Evicted, r)
				dropped = append(dropped, tv.Value)
			}))
			require.NoError(t, err)

			for _, ms := range tc.pushes {
				b.Push(ms, at(ms), 0)
			}
			assert.Equal(t, tc.want, values(b.Read(at(100))))
			assert.Equal(t, tc.dropped, dropped)
			assert.Equal(t, float64(len(tc.dropped)), testutil.ToFloat64(m.evicted.WithLabelValues("x")))
			assert.Equal(t, float64(len(tc.pushes)), testutil.ToFloat64(m.pushes.WithLabelValues("x")))
		})
	}
}

func TestWindow(t *testing.T) {
	b, err := New(Unlimited)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		b.Push(i, at(i*10), 0)
	}
	assert.Equal(t, []interface{}{7, 8, 9}, values(b.Window(at(90), 25*time.Millisecond)))
	assert.Equal(t, []interface{}{8, 9}, values(b.Window(at(90), 20*time.Millisecond)), "window is open at its start")
	assert.Len(t, b.Window(at(90), 0), 10)
}

func TestSnapshot(t *testing.T) {
	b, err := New(2)
	require.NoError(t, err)
	b.Push(1, at(0), 0)
	snap := b.Read(at(1))
	b.Push(2, at(1), 0)
	b.Push(3, at(2), 0)
	assert.Equal(t, []interface{}{1}, values(snap))
}

func TestConcurrent(t *testing.T) {
	b, err := New(50)
	require.NoError(t, err)
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(2)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				b.Push(w, at(i), time.Second)
			}
		}(w)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				vs := b.Read(at(i))
				for j := 1; j < len(vs); j++ {
					if vs[j].Time.Before(vs[j-1].Time) {
						t.Error("out of order")
						return
					}
				}
			}
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, b.Len(), 50)
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	require.NoError(t, err)

	b, err := New(1, WithMetrics(m, "x"))
	require.NoError(t, err)
	b.Push(1, at(0), time.Millisecond)
	b.Push(2, at(1), time.Millisecond)
	b.Read(at(5))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.pushes.WithLabelValues("x")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.evicted.WithLabelValues("x")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.expired.WithLabelValues("x")))

	_, err = NewMetrics(reg)
	assert.Error(t, err, "double registration")
}
