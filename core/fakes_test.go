package core

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func at(ms int) time.Time {
	return t0.Add(time.Duration(ms) * time.Millisecond)
}

// step is one evaluation of a scripted expression.
type step struct {
	result     Result
	deferUntil time.Time
}

// scripted is an Expression that replays scripted steps and counts how
// often it's touched.
type scripted struct {
	node
	name       string
	steps      []step
	constant   bool
	history    time.Duration
	initErr    error
	destroyErr error

	evals    []time.Time
	inits    []string
	destroys []string
}

func newScripted(name string, steps ...step) *scripted {
	return &scripted{name: name, steps: steps}
}

func (p *scripted) Kind() Kind { return KindConstant }

func (p *scripted) Children() []Expression { return nil }

func (p *scripted) Initialize(ctx context.Context, id string, sm SensorManager) error {
	if p.initErr != nil {
		return p.initErr
	}
	p.id = id
	p.inits = append(p.inits, id)
	return nil
}

func (p *scripted) Destroy(ctx context.Context, id string, sm SensorManager) error {
	p.destroys = append(p.destroys, id)
	return p.destroyErr
}

func (p *scripted) Evaluate(ctx context.Context, now time.Time) bool {
	i := len(p.evals)
	if len(p.steps) <= i {
		i = len(p.steps) - 1
	}
	p.evals = append(p.evals, now)
	s := p.steps[i]
	changed := s.result != p.result
	p.result = s.result
	p.lastEval = now
	p.deferUntil = s.deferUntil
	return changed
}

func (p *scripted) Values(ctx context.Context, id string, now time.Time) []TimestampedValue {
	return booleanValues(&p.node)
}

func (p *scripted) IsConstant() bool { return p.constant }

func (p *scripted) HistoryLength() time.Duration { return p.history }

func (p *scripted) String() string { return p.name }

func (p *scripted) ParseString() string { return p.name }

// fakeSensors is a SensorManager backed by maps.
type fakeSensors struct {
	sync.Mutex
	registered map[string]string // id -> entity:path
	values     map[string][]TimestampedValue
	failOn     map[string]error // entity -> error from Register
	readErr    error
	reads      []time.Duration
	order      []string
}

func newFakeSensors() *fakeSensors {
	return &fakeSensors{
		registered: make(map[string]string),
		values:     make(map[string][]TimestampedValue),
		failOn:     make(map[string]error),
	}
}

func (f *fakeSensors) Register(ctx context.Context, id, entity, valuePath string, config map[string]string) error {
	f.Lock()
	defer f.Unlock()
	if err := f.failOn[entity]; err != nil {
		return err
	}
	f.registered[id] = entity + ":" + valuePath
	f.order = append(f.order, "+"+id)
	return nil
}

func (f *fakeSensors) Unregister(ctx context.Context, id string) error {
	f.Lock()
	defer f.Unlock()
	delete(f.registered, id)
	f.order = append(f.order, "-"+id)
	return nil
}

func (f *fakeSensors) Values(ctx context.Context, id string, now time.Time, timespan time.Duration) ([]TimestampedValue, error) {
	f.Lock()
	defer f.Unlock()
	f.reads = append(f.reads, timespan)
	if f.readErr != nil {
		return nil, f.readErr
	}
	if _, have := f.registered[id]; !have {
		return nil, errors.New("not registered: " + id)
	}
	var acc []TimestampedValue
	for _, v := range f.values[id] {
		if 0 < timespan && !v.Time.After(now.Add(-timespan)) {
			continue
		}
		if now.Before(v.Time) {
			continue
		}
		acc = append(acc, v)
	}
	if timespan == 0 && 1 < len(acc) {
		acc = acc[len(acc)-1:]
	}
	return acc, nil
}

func (f *fakeSensors) put(id string, v interface{}, ms int) {
	f.Lock()
	defer f.Unlock()
	f.values[id] = append(f.values[id], TimestampedValue{Value: v, Time: at(ms)})
	sort.SliceStable(f.values[id], func(i, j int) bool {
		return f.values[id][i].Time.Before(f.values[id][j].Time)
	})
}

func (f *fakeSensors) ids() []string {
	f.Lock()
	defer f.Unlock()
	acc := make([]string, 0, len(f.registered))
	for id := range f.registered {
		acc = append(acc, id)
	}
	sort.Strings(acc)
	return acc
}
