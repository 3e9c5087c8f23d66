package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kastur/interdroid-swan/core"
	"github.com/kastur/interdroid-swan/driver"
	"github.com/kastur/interdroid-swan/sensors"
	"github.com/kastur/interdroid-swan/tools"
)

// ExtEntity is the sensor whose values arrive through the API.
const ExtEntity = "ext"

// MaxRequestBytes limits the body of an API request.
const MaxRequestBytes = 1 << 20

// Service is the daemon's API over a Driver.
type Service struct {
	Driver   *driver.Driver
	Manager  *sensors.Manager
	Ext      *sensors.MemorySensor
	Registry *prometheus.Registry
	Logger   *slog.Logger

	hub *hub
}

// NewService makes the sensors, the Manager, and the Driver.  The
// caller adds any other sensors to the Manager.
func NewService(cfg *Config, reg *prometheus.Registry, opts ...driver.Option) (*Service, error) {
	s := &Service{
		Manager:  sensors.NewManager(),
		Registry: reg,
		Logger:   slog.Default(),
		hub:      newHub(),
	}

	fields := make([]sensors.Field, len(cfg.External))
	for i, path := range cfg.External {
		fields[i] = sensors.Field{Name: path, Type: sensors.TypeString}
	}
	s.Ext = sensors.NewMemorySensor(sensors.NewScheme(ExtEntity, fields...), nil, 64)
	s.Manager.Add(ExtEntity, s.Ext)

	dm, err := driver.NewMetrics(reg)
	if err != nil {
		return nil, err
	}
	opts = append([]driver.Option{
		driver.WithMetrics(dm),
		driver.WithMaxExpressions(cfg.MaxExpressions),
		driver.WithEmitter(func(ctx context.Context, u *driver.Update) {
			s.hub.publish(map[string]interface{}{"update": u})
		}),
	}, opts...)
	if s.Driver, err = driver.New(s.Manager, opts...); err != nil {
		return nil, err
	}
	s.Manager.SetNotifier(s.Driver.Notify)
	return s, nil
}

// SOp is a Service Operation.
//
// Only one of the operation fields should have a value.
type SOp struct {
	Register *RegisterOp `json:"register,omitempty" yaml:",omitempty"`

	// Unregister gives the id of an expression to remove.
	Unregister string `json:"unregister,omitempty" yaml:",omitempty"`

	Get *GetOp `json:"get,omitempty" yaml:",omitempty"`

	List *ListOp `json:"list,omitempty" yaml:",omitempty"`

	// Evaluate gives the id of an expression to evaluate now.
	Evaluate *EvaluateOp `json:"evaluate,omitempty" yaml:",omitempty"`

	Put *PutOp `json:"put,omitempty" yaml:",omitempty"`

	// Error will hold an error (if any) that results from
	// processing this operation.
	Error error `json:"-" yaml:"-"`

	// Err will hold a string representation of an error (if any)
	// that results from processing this operation.
	Err string `json:"err,omitempty" yaml:",omitempty"`
}

// erred is a utility function to return values to assign to operation
// Error and Err fields.
func erred(err error) (error, string) {
	if err == nil {
		return nil, ""
	}
	return err, err.Error()
}

func (o *SOp) Do(ctx context.Context, s *Service) error {
	var err error
	switch {
	case o.Register != nil:
		err = o.Register.Do(ctx, s)
	case o.Unregister != "":
		err = s.Driver.Unregister(ctx, o.Unregister)
	case o.Get != nil:
		err = o.Get.Do(ctx, s)
	case o.List != nil:
		err = o.List.Do(ctx, s)
	case o.Evaluate != nil:
		err = o.Evaluate.Do(ctx, s)
	case o.Put != nil:
		err = o.Put.Do(ctx, s)
	default:
		err = errors.New("no operation given")
	}

	if err != nil && o.Error == nil {
		o.Error, o.Err = erred(err)
	}
	s.hub.publish(map[string]interface{}{"op": o})
	return o.Error
}

type RegisterOp struct {
	// ID is optional.  The Driver makes one up when it's empty.
	ID     string `json:"id,omitempty"`
	Source string `json:"source"`
	Doc    string `json:"doc,omitempty"`
}

func (o *RegisterOp) Do(ctx context.Context, s *Service) error {
	id, err := s.Driver.Register(ctx, o.ID, o.Source, o.Doc)
	if err == nil {
		o.ID = id
	}
	return err
}

type GetOp struct {
	ID         string       `json:"id"`
	Expression *driver.Info `json:"expression,omitempty"`
}

func (o *GetOp) Do(ctx context.Context, s *Service) error {
	info, err := s.Driver.Get(ctx, o.ID)
	o.Expression = info
	return err
}

type ListOp struct {
	Expressions []*driver.Info `json:"expressions"`
}

func (o *ListOp) Do(ctx context.Context, s *Service) error {
	o.Expressions = s.Driver.List(ctx)
	return nil
}

type EvaluateOp struct {
	ID     string         `json:"id"`
	Update *driver.Update `json:"update,omitempty"`
}

func (o *EvaluateOp) Do(ctx context.Context, s *Service) error {
	u, err := s.Driver.Evaluate(ctx, o.ID)
	o.Update = u
	return err
}

// PutOp gives the "ext" sensor a value.
type PutOp struct {
	Path  string      `json:"path"`
	Value interface{} `json:"value"`

	// For, if given, is the sensor registration id that gets the
	// value.  Otherwise every registration for the path does.
	For string `json:"for,omitempty"`

	// TTL is in milliseconds.  Zero means the value doesn't
	// expire.
	TTL int64 `json:"ttl,omitempty"`

	// Time defaults to now.
	Time time.Time `json:"time,omitempty"`
}

func (o *PutOp) Do(ctx context.Context, s *Service) error {
	found := false
	for _, p := range s.Ext.ValuePaths() {
		if p == o.Path {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("%w: %q", sensors.ErrUnknownValuePath, o.Path)
	}
	if o.Time.IsZero() {
		o.Time = time.Now().UTC()
	}
	ttl := time.Duration(o.TTL) * time.Millisecond
	if o.For != "" {
		if _, have := s.Ext.Registration(o.For); !have {
			return fmt.Errorf("%w: %q", sensors.ErrNotRegistered, o.For)
		}
		s.Ext.PutFor(ctx, o.For, o.Value, o.Time, ttl)
		return nil
	}
	s.Ext.Put(ctx, o.Path, o.Value, o.Time, ttl)
	return nil
}

// Handler serves the API:
//
//	POST /api      an SOp
//	GET  /doc      an HTML page of the registered expressions
//	GET  /metrics  Prometheus metrics
//	GET  /ws       a websocket of updates and ops
func (s *Service) Handler(ctx context.Context) http.Handler {
	mux := http.NewServeMux()

	complain := func(w http.ResponseWriter, x interface{}, status int) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		js, _ := json.Marshal(map[string]string{"error": fmt.Sprint(x)})
		w.Write(append(js, '\n'))
	}

	mux.HandleFunc("/api", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			complain(w, "POST an op", http.StatusMethodNotAllowed)
			return
		}
		js, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxRequestBytes))
		if err != nil {
			status := http.StatusBadRequest
			var tooBig *http.MaxBytesError
			if errors.As(err, &tooBig) {
				status = http.StatusRequestEntityTooLarge
			}
			complain(w, err, status)
			return
		}
		if err := r.Body.Close(); err != nil {
			s.Logger.Warn("api body close", "err", err)
		}

		var op SOp
		if err := json.Unmarshal(js, &op); err != nil {
			complain(w, err, http.StatusBadRequest)
			return
		}
		status := http.StatusOK
		if err = op.Do(r.Context(), s); err != nil {
			status = statusOf(err)
		}
		if js, err = json.Marshal(&op); err != nil {
			complain(w, err, http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if _, err = w.Write(js); err != nil {
			s.Logger.Warn("api write", "err", err)
		}
	})

	mux.HandleFunc("/doc", func(w http.ResponseWriter, r *http.Request) {
		infos := s.Driver.List(r.Context())
		sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
		entries := make([]tools.Entry, len(infos))
		for i, info := range infos {
			entries[i] = tools.Entry{
				ID:         info.ID,
				Source:     info.Source,
				Doc:        info.Doc,
				Result:     info.Result,
				DeferUntil: info.DeferUntil,
			}
			var derr error
			s.Driver.Inspect(info.ID, func(e core.Expression) {
				entries[i].Diagram, derr = tools.Diagram(e)
			})
			if derr != nil {
				s.Logger.Warn("doc diagram", "id", info.ID, "err", derr)
			}
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := tools.RenderPage("swan", entries, w, nil); err != nil {
			s.Logger.Warn("doc render", "err", err)
		}
	})

	mux.Handle("/metrics", promhttp.HandlerFor(s.Registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/ws", s.websocket(ctx))

	return mux
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, driver.ErrUnknownID):
		return http.StatusNotFound
	case errors.Is(err, sensors.ErrUnknownValuePath),
		errors.Is(err, sensors.ErrNotRegistered),
		errors.Is(err, driver.ErrBadID):
		return http.StatusBadRequest
	}
	var syntax *core.SyntaxError
	if errors.As(err, &syntax) {
		return http.StatusBadRequest
	}
	return http.StatusUnprocessableEntity
}

// hub fans messages out to websocket connections.
type hub struct {
	mu    sync.Mutex
	conns map[chan interface{}]bool
}

func newHub() *hub {
	return &hub{conns: make(map[chan interface{}]bool)}
}

func (h *hub) subscribe(size int) chan interface{} {
	c := make(chan interface{}, size)
	h.mu.Lock()
	h.conns[c] = true
	h.mu.Unlock()
	return c
}

func (h *hub) unsubscribe(c chan interface{}) {
	h.mu.Lock()
	delete(h.conns, c)
	h.mu.Unlock()
}

// publish never blocks.  A connection that isn't keeping up misses
// messages.
func (h *hub) publish(x interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.conns {
		select {
		case c <- x:
		default:
			slog.Warn("websocket connection blocked")
		}
	}
}
