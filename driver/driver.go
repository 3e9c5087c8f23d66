/* Copyright 2019 Comcast Cable Communications Management, LLC
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 * http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package driver evaluates registered expressions over time.
//
// A Driver initializes each registered expression, evaluates it, and
// then sleeps until the expression's DeferUntil before evaluating it
// again.  When a sensor reports new data for an id, the expression
// that owns the id is evaluated right away.  Each evaluation that
// changes a result is reported as an Update.
//
// Root ids can't contain ".", which separates a root id from the ids
// of its parts.
package driver

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kastur/interdroid-swan/core"
	"github.com/kastur/interdroid-swan/storage"
	"github.com/kastur/interdroid-swan/timers"
)

var (
	ErrBadID     = errors.New("root id can't be empty or contain '.'")
	ErrUnknownID = errors.New("unknown expression")
)

// MinDelay is the shortest wait between evaluations that the Driver
// schedules for itself.
var MinDelay = 10 * time.Millisecond

// Update reports the state of an expression after an evaluation.
type Update struct {
	ID         string                  `json:"id"`
	Result     core.Result             `json:"result"`
	Time       time.Time               `json:"time"`
	DeferUntil time.Time               `json:"deferUntil"`
	Values     []core.TimestampedValue `json:"values,omitempty"`
	Changed    bool                    `json:"changed"`
}

// Emitter receives Updates.  An Emitter is called with the
// expression's lock held, so it must not call back into the Driver
// for the same id.
type Emitter func(ctx context.Context, u *Update)

// Info describes a registered expression.
type Info struct {
	ID         string      `json:"id"`
	Source     string      `json:"source"`
	Doc        string      `json:"doc,omitempty"`
	Registered time.Time   `json:"registered"`
	Result     core.Result `json:"result"`
	Evaluated  time.Time   `json:"evaluated"`
	DeferUntil time.Time   `json:"deferUntil"`
}

type root struct {
	sync.Mutex
	id         string
	doc        string
	expr       core.Expression
	registered time.Time
	evaluated  bool
	destroyed  bool
}

type Option func(*Driver)

func WithStorage(s storage.Storage) Option {
	return func(d *Driver) { d.storage = s }
}

func WithEmitter(e Emitter) Option {
	return func(d *Driver) { d.emit = e }
}

func WithLogger(l *slog.Logger) Option {
	return func(d *Driver) { d.logger = l }
}

// WithClock sets the clock that evaluations see.  Delays are still
// measured with the real clock.
func WithClock(now func() time.Time) Option {
	return func(d *Driver) { d.now = now }
}

func WithMetrics(m *Metrics) Option {
	return func(d *Driver) { d.metrics = m }
}

// WithMaxExpressions limits the number of registered expressions.
func WithMaxExpressions(n int) Option {
	return func(d *Driver) { d.max = n }
}

// Driver evaluates registered expressions.
type Driver struct {
	sm      core.SensorManager
	storage storage.Storage
	emit    Emitter
	logger  *slog.Logger
	now     func() time.Time
	metrics *Metrics
	max     int

	timers *timers.Timers

	// regMu serializes registrations and removals.
	regMu sync.Mutex

	mu    sync.RWMutex
	roots map[string]*root
}

// New makes a Driver whose expressions get their data from sm.
//
// Call Run before registering expressions.
func New(sm core.SensorManager, opts ...Option) (*Driver, error) {
	d := &Driver{
		sm:      sm,
		storage: &storage.NoopStorage{},
		emit:    func(context.Context, *Update) {},
		logger:  slog.Default(),
		now:     time.Now,
		max:     1024,
		roots:   make(map[string]*root),
	}
	for _, opt := range opts {
		opt(d)
	}
	ts, err := timers.NewTimers(d.max)
	if err != nil {
		return nil, err
	}
	ts.Logger = d.logger
	d.timers = ts
	return d, nil
}

// Run processes timers until the context is done.  Run restores the
// stored expressions once it's ready, and destroys every expression
// (without deleting them from storage) when it returns.
func (d *Driver) Run(ctx context.Context) error {
	errs := make(chan error, 1)
	go func() { errs <- d.timers.Run(ctx) }()
	if !d.timers.Wait(time.Second) {
		select {
		case err := <-errs:
			return err
		default:
			return errors.New("driver timers didn't start")
		}
	}

	// Expressions registered before Run haven't been scheduled.
	for _, id := range d.ids() {
		if r, have := d.root(id); have {
			d.schedule(r, time.Now())
		}
	}
	if err := d.Restore(ctx); err != nil {
		d.logger.Warn("restore", "err", err)
	}

	<-ctx.Done()
	err := <-errs
	if cerr := d.Close(context.WithoutCancel(ctx)); cerr != nil {
		d.logger.Warn("close", "err", cerr)
	}
	return err
}

// Ready reports whether Run has started.
func (d *Driver) Ready() bool {
	return d.timers.IsRunning()
}

// Wait waits for Run to start.
func (d *Driver) Wait(timeout time.Duration) bool {
	return d.timers.Wait(timeout)
}

func validID(id string) bool {
	return id != "" && !strings.Contains(id, ".")
}

// Register parses source and registers the expression under id.  An
// empty id gets a generated one.  A registration with an id that's
// already registered replaces it; if the new expression can't be
// initialized, the old one is gone anyway.
func (d *Driver) Register(ctx context.Context, id, source, doc string) (string, error) {
	if id == "" {
		id = uuid.NewString()
	}
	e, err := core.Parse(source)
	if err != nil {
		d.failed("syntax")
		return id, err
	}
	if err := d.add(ctx, id, e, doc, time.Time{}, true); err != nil {
		return id, err
	}
	return id, nil
}

// RegisterExpression registers an expression that's already built.
// The Driver owns it from now on.
func (d *Driver) RegisterExpression(ctx context.Context, id string, e core.Expression, doc string) error {
	return d.add(ctx, id, e, doc, time.Time{}, true)
}

func (d *Driver) failed(kind string) {
	if d.metrics != nil {
		d.metrics.failures.WithLabelValues(kind).Inc()
	}
}

func (d *Driver) add(ctx context.Context, id string, e core.Expression, doc string, registered time.Time, persist bool) error {
	d.regMu.Lock()
	r, err := d.install(ctx, id, e, doc, registered, persist)
	d.regMu.Unlock()
	if err != nil {
		return err
	}
	d.logger.Info("registered", "id", id, "expression", e.ParseString())
	d.evaluate(ctx, r)
	return nil
}

// install initializes, stores, and inserts the expression.  The
// caller holds regMu.
func (d *Driver) install(ctx context.Context, id string, e core.Expression, doc string, registered time.Time, persist bool) (*root, error) {
	if !validID(id) {
		d.failed("configuration")
		return nil, &core.ConfigurationError{ID: id, Key: "id", Err: ErrBadID}
	}
	if e == nil {
		return nil, &core.ConfigurationError{ID: id, Key: "expression", Err: core.ErrNilChild}
	}

	d.mu.RLock()
	_, replacing := d.roots[id]
	n := len(d.roots)
	d.mu.RUnlock()
	if !replacing && d.max <= n {
		d.failed("configuration")
		return nil, &core.ConfigurationError{ID: id, Key: "id", Err: timers.ErrTooMany}
	}
	if replacing {
		if err := d.unregister(ctx, id, false); err != nil {
			d.logger.Warn("unregister replaced expression", "id", id, "err", err)
		}
	}

	if err := e.Initialize(ctx, id, d.sm); err != nil {
		switch {
		case errors.Is(err, core.ErrConfiguration):
			d.failed("configuration")
		case errors.Is(err, core.ErrSetupFailed):
			d.failed("setup")
		default:
			d.failed("other")
		}
		return nil, err
	}

	if registered.IsZero() {
		registered = d.now()
	}
	r := &root{
		id:         id,
		doc:        doc,
		expr:       e,
		registered: registered,
	}

	if persist {
		err := storage.Put(ctx, d.storage, &storage.Registration{
			ID:         id,
			Source:     e.ParseString(),
			Doc:        doc,
			Registered: registered,
		})
		if err != nil {
			d.failed("storage")
			if derr := e.Destroy(ctx, id, d.sm); derr != nil {
				d.logger.Warn("destroy after storage failure", "id", id, "err", derr)
			}
			return nil, err
		}
	}

	d.mu.Lock()
	d.roots[id] = r
	n = len(d.roots)
	d.mu.Unlock()
	if d.metrics != nil {
		d.metrics.roots.Set(float64(n))
	}
	return r, nil
}

// Unregister destroys the expression and deletes it from storage.  An
// unknown id is ignored.
func (d *Driver) Unregister(ctx context.Context, id string) error {
	d.regMu.Lock()
	defer d.regMu.Unlock()
	return d.unregister(ctx, id, true)
}

func (d *Driver) unregister(ctx context.Context, id string, persist bool) error {
	d.mu.Lock()
	r, have := d.roots[id]
	delete(d.roots, id)
	n := len(d.roots)
	d.mu.Unlock()

	var errs []error
	if persist {
		if err := storage.Delete(ctx, d.storage, id); err != nil {
			errs = append(errs, err)
		}
	}
	if !have {
		return errors.Join(errs...)
	}
	if d.metrics != nil {
		d.metrics.roots.Set(float64(n))
	}
	if d.timers.IsRunning() {
		d.timers.Rem(id)
	}

	r.Lock()
	r.destroyed = true
	err := r.expr.Destroy(ctx, id, d.sm)
	r.Unlock()
	if err != nil {
		errs = append(errs, err)
	}
	d.logger.Info("unregistered", "id", id)
	return errors.Join(errs...)
}

// Close destroys every expression.  Storage is untouched.
func (d *Driver) Close(ctx context.Context) error {
	d.regMu.Lock()
	defer d.regMu.Unlock()
	var errs []error
	for _, id := range d.ids() {
		if err := d.unregister(ctx, id, false); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Restore registers the expressions in storage.  An expression that
// can't be registered is logged and skipped.
func (d *Driver) Restore(ctx context.Context) error {
	rs, err := d.storage.List(ctx)
	if err != nil {
		return err
	}
	var errs []error
	for _, r := range rs {
		e, err := core.Parse(r.Source)
		if err == nil {
			err = d.add(ctx, r.ID, e, r.Doc, r.Registered, false)
		}
		if err != nil {
			d.logger.Warn("restore", "id", r.ID, "err", err)
			errs = append(errs, err)
			continue
		}
	}
	d.logger.Info("restored", "count", len(rs)-len(errs))
	return errors.Join(errs...)
}

// RootID returns the id of the registered expression that a sensor
// subscription id belongs to.
func RootID(id string) string {
	if i := strings.IndexByte(id, '.'); 0 <= i {
		return id[:i]
	}
	return id
}

// Notify asks for the expression that owns the subscription id to be
// evaluated soon.  Notify doesn't block, so sensors can call it from
// anywhere.  It's a sensors.Notifier.
func (d *Driver) Notify(ctx context.Context, id string) {
	rid := RootID(id)
	r, have := d.root(rid)
	if !have {
		return
	}
	d.schedule(r, time.Now())
}

func (d *Driver) root(id string) (*root, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	r, have := d.roots[id]
	return r, have
}

func (d *Driver) ids() []string {
	d.mu.RLock()
	acc := make([]string, 0, len(d.roots))
	for id := range d.roots {
		acc = append(acc, id)
	}
	d.mu.RUnlock()
	sort.Strings(acc)
	return acc
}

// Evaluate evaluates the expression now and returns its state.
func (d *Driver) Evaluate(ctx context.Context, id string) (*Update, error) {
	r, have := d.root(id)
	if !have {
		return nil, ErrUnknownID
	}
	u := d.evaluate(ctx, r)
	if u == nil {
		return nil, ErrUnknownID
	}
	return u, nil
}

func (d *Driver) evaluate(ctx context.Context, r *root) *Update {
	r.Lock()
	defer r.Unlock()
	if r.destroyed {
		return nil
	}

	var timer *prometheus.Timer
	if d.metrics != nil {
		timer = prometheus.NewTimer(d.metrics.latency)
	}
	now := d.now()
	changed := r.expr.Evaluate(ctx, now)
	if timer != nil {
		timer.ObserveDuration()
		d.metrics.evaluations.Inc()
		if changed {
			d.metrics.changes.Inc()
		}
	}

	first := !r.evaluated
	r.evaluated = true
	u := &Update{
		ID:         r.id,
		Result:     r.expr.Result(),
		Time:       now,
		DeferUntil: r.expr.DeferUntil(),
		Changed:    changed || first,
		Values:     r.expr.Values(ctx, r.id, now),
	}
	d.logger.Debug("evaluated", "id", r.id, "result", u.Result, "changed", u.Changed, "deferUntil", u.DeferUntil)

	if u.Changed {
		d.emit(ctx, u)
	}

	if u.DeferUntil.Before(core.Forever) {
		delay := u.DeferUntil.Sub(now)
		if delay < MinDelay {
			delay = MinDelay
		}
		d.schedule(r, time.Now().Add(delay))
	}
	return u
}

func (d *Driver) schedule(r *root, at time.Time) {
	if !d.timers.IsRunning() {
		d.logger.Debug("not scheduling; driver isn't running", "id", r.id)
		return
	}
	err := d.timers.Sooner(r.id, at, func(ctx context.Context, _ *timers.Timer) {
		d.evaluate(ctx, r)
	})
	if err != nil {
		d.logger.Warn("schedule", "id", r.id, "err", err)
	}
}

// Get returns the state of the expression as of its last evaluation.
func (d *Driver) Get(ctx context.Context, id string) (*Info, error) {
	r, have := d.root(id)
	if !have {
		return nil, ErrUnknownID
	}
	return r.info(), nil
}

func (r *root) info() *Info {
	r.Lock()
	defer r.Unlock()
	return &Info{
		ID:         r.id,
		Source:     r.expr.ParseString(),
		Doc:        r.doc,
		Registered: r.registered,
		Result:     r.expr.Result(),
		Evaluated:  r.expr.LastEvaluationTime(),
		DeferUntil: r.expr.DeferUntil(),
	}
}

// List describes the registered expressions in id order.
func (d *Driver) List(ctx context.Context) []*Info {
	var acc []*Info
	for _, id := range d.ids() {
		if r, have := d.root(id); have {
			acc = append(acc, r.info())
		}
	}
	return acc
}

// Expression returns the registered expression.  Don't evaluate it,
// and use Inspect to look at its state while it might be evaluated.
func (d *Driver) Expression(id string) (core.Expression, bool) {
	r, have := d.root(id)
	if !have {
		return nil, false
	}
	return r.expr, true
}

// Inspect calls f with the registered expression while no evaluation
// of it can run.  f must not call back into the Driver for id.
func (d *Driver) Inspect(id string, f func(core.Expression)) bool {
	r, have := d.root(id)
	if !have {
		return false
	}
	r.Lock()
	defer r.Unlock()
	f(r.expr)
	return true
}
