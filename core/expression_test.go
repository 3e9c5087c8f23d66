package core

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogicalShortCircuit(t *testing.T) {
	tests := []struct {
		description string
		op          LogicalOp
		left        Result
		right       Result
		want        Result
		rightEvals  int
		deferUntil  time.Time
	}{
		{"and false skips", OpAnd, False, True, False, 0, at(10)},
		{"and true", OpAnd, True, True, True, 1, at(10)},
		{"and undefined", OpAnd, Undefined, True, Undefined, 1, at(10)},
		{"and undefined false", OpAnd, Undefined, False, False, 1, at(10)},
		{"or true skips", OpOr, True, False, True, 0, at(10)},
		{"or false", OpOr, False, False, False, 1, at(10)},
		{"or undefined true", OpOr, Undefined, True, True, 1, at(10)},
		{"or undefined false", OpOr, Undefined, False, Undefined, 1, at(10)},
	}
	for _, tc := range tests {
		t.Run(tc.description, func(t *testing.T) {
			ctx := context.Background()
			l := newScripted("l", step{tc.left, at(20)})
			r := newScripted("r", step{tc.right, at(10)})
			e, err := NewLogical(l, tc.op, r)
			require.NoError(t, err)
			require.NoError(t, e.Initialize(ctx, "x", nil))

			e.Evaluate(ctx, at(0))
			assert.Equal(t, tc.want, e.Result())
			assert.Len(t, r.evals, tc.rightEvals)
			if tc.rightEvals == 0 {
				assert.Equal(t, at(20), e.DeferUntil(), "skipped side must not count")
			} else {
				assert.Equal(t, tc.deferUntil, e.DeferUntil())
			}
		})
	}
}

func TestNot(t *testing.T) {
	ctx := context.Background()
	for in, want := range map[Result]Result{True: False, False: True, Undefined: Undefined} {
		e, err := NewNot(newScripted("x", step{in, at(5)}))
		require.NoError(t, err)
		e.Evaluate(ctx, at(0))
		assert.Equal(t, want, e.Result())
		assert.Equal(t, at(5), e.DeferUntil())
	}
}

func TestComparisonQuantifiers(t *testing.T) {
	tests := []struct {
		description string
		src         string
		values      []int
		want        Result
	}{
		{"any holds", "(s:v{ANY,1000} > 5)", []int{1, 9}, True},
		{"any fails", "(s:v{ANY,1000} > 5)", []int{1, 2}, False},
		{"all holds", "(s:v{ALL,1000} > 0)", []int{1, 9}, True},
		{"all fails", "(s:v{ALL,1000} > 5)", []int{1, 9}, False},
		{"max", "(s:v{MAX,1000} == 9)", []int{1, 9, 3}, True},
		{"min", "(s:v{MIN,1000} == 1)", []int{4, 1, 3}, True},
		{"mean", "(s:v{MEAN,1000} == 2)", []int{1, 2, 3}, True},
		{"latest", "(s:v{LATEST,1000} == 3)", []int{1, 2, 3}, True},
		{"no values", "(s:v{ANY,1000} > 5)", nil, Undefined},
	}
	for _, tc := range tests {
		t.Run(tc.description, func(t *testing.T) {
			ctx := context.Background()
			sm := newFakeSensors()
			e := MustParse(tc.src)
			require.NoError(t, e.Initialize(ctx, "q", sm))
			for i, v := range tc.values {
				sm.put("q.Left", v, 100+i)
			}
			e.Evaluate(ctx, at(500))
			assert.Equal(t, tc.want, e.Result())
		})
	}
}

func TestComparisonStrings(t *testing.T) {
	ctx := context.Background()
	sm := newFakeSensors()
	e := MustParse("((s:log contains 'ERR') && (s:log regex '^E[0-9]+'))")
	require.NoError(t, e.Initialize(ctx, "q", sm))
	sm.put("q.Left.Left", "ERR disk", 1)
	sm.put("q.Right.Left", "E42 disk", 1)
	e.Evaluate(ctx, at(10))
	assert.Equal(t, True, e.Result())
	assert.Equal(t, []string{"q.Left.Left", "q.Right.Left"}, sm.ids(), "constants aren't registered")
}

func TestSensorValueDeferUntil(t *testing.T) {
	ctx := context.Background()
	sm := newFakeSensors()
	e, err := NewSensorValue("s", "v", nil, ModeNone, 100*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, e.Initialize(ctx, "q", sm))

	e.Evaluate(ctx, at(0))
	assert.Equal(t, Undefined, e.Result())
	assert.Equal(t, Forever, e.DeferUntil())

	sm.put("q", 1, 20)
	sm.put("q", 2, 50)
	assert.True(t, e.Evaluate(ctx, at(60)))
	assert.Equal(t, True, e.Result())
	assert.Equal(t, at(120), e.DeferUntil(), "oldest value leaves the window")

	sm.Lock()
	sm.values["q"][1].ExpiresAt = at(90)
	sm.Unlock()
	e.Evaluate(ctx, at(60))
	assert.Equal(t, at(90), e.DeferUntil(), "expiry comes first")
	assert.Len(t, e.Values(ctx, "q", at(95)), 1)
}

func TestSensorValueReadError(t *testing.T) {
	ctx := context.Background()
	sm := newFakeSensors()
	e, err := NewSensorValue("s", "v", nil, ModeNone, 0)
	require.NoError(t, err)
	require.NoError(t, e.Initialize(ctx, "q", sm))
	sm.put("q", 1, 0)
	e.Evaluate(ctx, at(1))
	require.Equal(t, True, e.Result())

	sm.readErr = errors.New("gone")
	assert.True(t, e.Evaluate(ctx, at(2)))
	assert.Equal(t, Undefined, e.Result())
	assert.Empty(t, e.Values(ctx, "q", at(2)))
}

func TestSensorValueSetup(t *testing.T) {
	ctx := context.Background()
	sm := newFakeSensors()
	sm.failOn["bad"] = errors.New("no such device")
	sm.failOn["cfg"] = &ConfigurationError{ID: "q.Right", Key: "k"}

	e := MustParse("(ok:v > bad:v)")
	err := e.Initialize(ctx, "q", sm)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSetupFailed)
	assert.Empty(t, sm.ids(), "left side unwound")

	e = MustParse("(ok:v > cfg:v)")
	err = e.Initialize(ctx, "q", sm)
	assert.ErrorIs(t, err, ErrConfiguration)
	assert.Equal(t, []string{"+q.Left", "-q.Left", "+q.Left", "-q.Left"}, sm.order)
}

func TestMath(t *testing.T) {
	ctx := context.Background()
	sm := newFakeSensors()
	e := MustParse("((s:a + 1) * 2.5)")
	require.NoError(t, e.Initialize(ctx, "m", sm))
	sm.put("m.Left.Left", int64(3), 10)

	e.Evaluate(ctx, at(20))
	vs := e.Values(ctx, "m", at(20))
	require.Len(t, vs, 1)
	assert.Equal(t, 10.0, vs[0].Value)
	assert.Equal(t, at(10), vs[0].Time)

	div := MustParse("(s:a / 0)")
	require.NoError(t, div.Initialize(ctx, "d", sm))
	sm.put("d.Left", 1, 0)
	div.Evaluate(ctx, at(1))
	assert.Equal(t, Undefined, div.Result())
}

func TestConstant(t *testing.T) {
	ctx := context.Background()
	c, err := NewConstant(3)
	require.NoError(t, err)
	assert.Equal(t, int64(3), c.Value())
	assert.True(t, c.Evaluate(ctx, at(0)))
	assert.False(t, c.Evaluate(ctx, at(1)))
	assert.Equal(t, Forever, c.DeferUntil())

	_, err = NewConstant([]int{1})
	assert.Error(t, err)
}

func TestEarliest(t *testing.T) {
	assert.Equal(t, Forever, Earliest())
	assert.Equal(t, Forever, Earliest(time.Time{}))
	assert.Equal(t, at(1), Earliest(at(3), time.Time{}, at(1), Forever))
}

func TestWalk(t *testing.T) {
	e := MustParse("(if (a:b > 1) then c:d else !e:f)")
	var kinds []Kind
	Walk(e, func(x Expression, depth int) bool {
		kinds = append(kinds, x.Kind())
		return true
	})
	assert.Equal(t, []Kind{
		KindConditional, KindComparison, KindSensorValue, KindConstant,
		KindSensorValue, KindLogical, KindSensorValue,
	}, kinds)
}

func TestCodec(t *testing.T) {
	for _, src := range []string{
		"(if (clock:hour < 12) then (movement:total{MEAN,500} > 10.5) else 'idle')",
		"!((a:b?k=v&z=1 - -4) <= true)",
	} {
		e := MustParse(src)
		bs, err := Marshal(e)
		require.NoError(t, err)
		again, err := Unmarshal(bs)
		require.NoError(t, err)
		assert.True(t, Equal(e, again), src)
		assert.Equal(t, e.ParseString(), again.ParseString())

		_, err = Unmarshal(bs[:len(bs)-1])
		assert.ErrorIs(t, err, ErrBadEncoding)
		_, err = Unmarshal(append(bs, 0))
		assert.ErrorIs(t, err, ErrBadEncoding)
	}
}

func TestCodecDepth(t *testing.T) {
	// nots encodes n negations of the constant 0.
	nots := func(n int) []byte {
		bs := []byte{codecVersion}
		for i := 0; i < n; i++ {
			bs = append(bs, byte(KindLogical), 1, '!')
		}
		return append(bs, byte(KindConstant), tagInt64, 0)
	}

	e, err := Unmarshal(nots(MaxDepth))
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("!", MaxDepth)+"0", e.ParseString())

	for _, n := range []int{MaxDepth + 1, 3 << 20} {
		_, err = Unmarshal(nots(n))
		assert.ErrorIs(t, err, ErrBadEncoding)
		assert.ErrorIs(t, err, ErrTooDeep)
	}

	deep, err := NewConstant(int64(1))
	require.NoError(t, err)
	var x Expression = deep
	for i := 0; i < MaxDepth; i++ {
		n, err := NewNot(x)
		require.NoError(t, err)
		x = n
	}
	_, err = NewNot(x)
	assert.ErrorIs(t, err, ErrTooDeep)
	assert.False(t, x.base().owned, "rejected parent must not adopt")
}

func TestCodecRejectsUnparseable(t *testing.T) {
	sensor := func(entity, path string, timespan int64) []byte {
		bs := []byte{codecVersion, byte(KindSensorValue), byte(len(entity))}
		bs = append(bs, entity...)
		bs = append(bs, byte(len(path)))
		bs = append(bs, path...)
		bs = append(bs, 0, byte(ModeAny))
		return binary.AppendVarint(bs, timespan)
	}
	float := func(f float64) []byte {
		bs := []byte{codecVersion, byte(KindConstant), tagFloat64}
		return binary.BigEndian.AppendUint64(bs, math.Float64bits(f))
	}

	tests := []struct {
		description string
		bs          []byte
	}{
		{description: "entity", bs: sensor("my-sensor", "a", 0)},
		{description: "path", bs: sensor("s", "a-b", 0)},
		{description: "timespan", bs: sensor("s", "a", int64(1500*time.Microsecond))},
		{description: "nan", bs: float(math.NaN())},
		{description: "inf", bs: float(math.Inf(-1))},
	}
	for _, tc := range tests {
		t.Run(tc.description, func(t *testing.T) {
			_, err := Unmarshal(tc.bs)
			assert.ErrorIs(t, err, ErrBadEncoding)
		})
	}

	_, err := Unmarshal(sensor("s", "a", int64(time.Second)))
	assert.NoError(t, err)
}

func TestCodecResetsTransientState(t *testing.T) {
	ctx := context.Background()
	e, err := NewConditional(MustParse("true"), MustParse("1"), MustParse("2"))
	require.NoError(t, err)
	require.NoError(t, e.Initialize(ctx, "x", nil))
	e.Evaluate(ctx, at(0))
	require.Equal(t, TrueBranchActive, e.Active())

	bs, err := Marshal(e)
	require.NoError(t, err)
	again, err := Unmarshal(bs)
	require.NoError(t, err)
	c := again.(*ConditionalExpression)
	assert.Equal(t, NoneActive, c.Active())
	assert.Equal(t, Forever, c.DeferUntil())
}

func TestErrorClassification(t *testing.T) {
	cause := errors.New("cause")
	for _, tc := range []struct {
		err      error
		sentinel error
	}{
		{&ConfigurationError{ID: "x", Err: cause}, ErrConfiguration},
		{&SetupFailedError{ID: "x", Err: cause}, ErrSetupFailed},
		{&EvaluationError{ID: "x", Err: cause}, ErrEvaluation},
		{&TransportError{ID: "x", Err: cause}, ErrTransport},
	} {
		assert.ErrorIs(t, tc.err, tc.sentinel)
		assert.ErrorIs(t, tc.err, cause)
		assert.Contains(t, tc.err.Error(), "cause")
	}
	assert.ErrorIs(t, &SetupFailedError{ID: "x"}, ErrSetupFailed)
}
