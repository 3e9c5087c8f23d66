package sensors

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kastur/interdroid-swan/core"
)

func TestConfigResolve(t *testing.T) {
	defaults := Config{"delay": "3", "mode": "fast"}
	per := Config{"delay": "0"}
	got := Resolve(per, defaults)
	assert.Equal(t, Config{"delay": "0", "mode": "fast"}, got)
	assert.Equal(t, "3", defaults["delay"], "defaults untouched")

	got["x"] = "y"
	assert.NotContains(t, per, "x")
	assert.Equal(t, Config{}, Resolve(nil, nil))
}

func TestConfigValues(t *testing.T) {
	c := Config{
		"n":     "12",
		"bad":   "twelve",
		"ms":    "1500",
		"d":     "2m",
		"empty": "",
		"topic": "a/b",
	}

	tests := []struct {
		description string
		key         string
		wantInt     int
		wantDur     time.Duration
		intErr      bool
		durErr      bool
	}{
		{description: "int", key: "n", wantInt: 12, wantDur: 12 * time.Millisecond},
		{description: "missing uses default", key: "nope", wantInt: 7, wantDur: time.Second},
		{description: "empty uses default", key: "empty", wantInt: 7, wantDur: time.Second},
		{description: "not a number", key: "bad", intErr: true, durErr: true},
		{description: "milliseconds", key: "ms", wantInt: 1500, wantDur: 1500 * time.Millisecond},
		{description: "go duration", key: "d", intErr: true, wantDur: 2 * time.Minute},
	}

	for _, tc := range tests {
		t.Run(tc.description, func(t *testing.T) {
			n, err := c.Int("x", tc.key, 7)
			if tc.intErr {
				assert.ErrorIs(t, err, core.ErrConfiguration)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tc.wantInt, n)
			}

			d, err := c.Duration("x", tc.key, time.Second)
			if tc.durErr {
				var ce *core.ConfigurationError
				require.ErrorAs(t, err, &ce)
				assert.Equal(t, tc.key, ce.Key)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tc.wantDur, d)
			}
		})
	}

	topic, err := c.Required("x", "topic")
	require.NoError(t, err)
	assert.Equal(t, "a/b", topic)
	_, err = c.Required("x", "empty")
	assert.ErrorIs(t, err, core.ErrConfiguration)

	assert.Equal(t, []string{"bad", "d", "empty", "ms", "n", "topic"}, c.Keys())
	cp := c.Copy()
	cp["n"] = "13"
	assert.Equal(t, "12", c["n"])
	assert.Nil(t, Config(nil).Copy())
}

func TestScheme(t *testing.T) {
	s := NewScheme("movement",
		Field{Name: "x", Type: TypeDouble, Doc: "m/s^2"},
		Field{Name: "total", Type: TypeDouble})
	assert.Equal(t, []string{"x", "total"}, s.Paths())

	var back Scheme
	require.NoError(t, json.Unmarshal([]byte(s.String()), &back))
	assert.Equal(t, s, back)
	assert.Equal(t, "record", back.Type)
	assert.Equal(t, "context.sensor", back.Namespace)
}
