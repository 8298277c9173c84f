package graph

import (
	"context"
	"sync"
	"time"

	"github.com/graphql-go/graphql"
	"github.com/graphql-go/graphql/gqlerrors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Extensions are attached to the schema and shared by every request, so any
// per-request state lives in the context returned from Init.

// noopHooks provides the parts of graphql.Extension an extension doesn't use.
type noopHooks struct{}

func (noopHooks) ParseDidStart(ctx context.Context) (context.Context, graphql.ParseFinishFunc) {
	return ctx, func(error) {}
}

func (noopHooks) ValidationDidStart(ctx context.Context) (context.Context, graphql.ValidationFinishFunc) {
	return ctx, func([]gqlerrors.FormattedError) {}
}

func (noopHooks) ExecutionDidStart(ctx context.Context) (context.Context, graphql.ExecutionFinishFunc) {
	return ctx, func(*graphql.Result) {}
}

func (noopHooks) ResolveFieldDidStart(ctx context.Context, _ *graphql.ResolveInfo) (context.Context, graphql.ResolveFieldFinishFunc) {
	return ctx, func(interface{}, error) {}
}

func (noopHooks) HasResult() bool { return false }

func (noopHooks) GetResult(context.Context) interface{} { return nil }

func isRootField(info *graphql.ResolveInfo) bool {
	if info == nil || info.ParentType == nil {
		return false
	}
	switch info.ParentType.Name() {
	case "Query", "Mutation":
		return true
	}
	return false
}

// LoggerExtension logs every operation at debug level.
type LoggerExtension struct {
	noopHooks
	logger *zap.SugaredLogger
}

func NewLoggerExtension(logger *zap.SugaredLogger) *LoggerExtension {
	return &LoggerExtension{logger: logger}
}

type operationKey struct{}

type operationInfo struct {
	name  string
	start time.Time
}

func (e *LoggerExtension) Name() string { return "logger" }

func (e *LoggerExtension) Init(ctx context.Context, p *graphql.Params) context.Context {
	return context.WithValue(ctx, operationKey{}, operationInfo{name: p.OperationName, start: time.Now()})
}

func (e *LoggerExtension) ParseDidStart(ctx context.Context) (context.Context, graphql.ParseFinishFunc) {
	return ctx, func(err error) {
		if err != nil {
			e.logger.Debugw("graphql parse failed", "err", err)
		}
	}
}

func (e *LoggerExtension) ValidationDidStart(ctx context.Context) (context.Context, graphql.ValidationFinishFunc) {
	return ctx, func(errs []gqlerrors.FormattedError) {
		if len(errs) > 0 {
			e.logger.Debugw("graphql validation failed", "errors", len(errs), "first", errs[0].Message)
		}
	}
}

func (e *LoggerExtension) ExecutionDidStart(ctx context.Context) (context.Context, graphql.ExecutionFinishFunc) {
	op, _ := ctx.Value(operationKey{}).(operationInfo)
	return ctx, func(res *graphql.Result) {
		errCount := 0
		if res != nil {
			errCount = len(res.Errors)
		}
		e.logger.Debugw("graphql operation",
			"operation", op.name,
			"errors", errCount,
			"duration_ms", float64(time.Since(op.start).Microseconds())/1000.0,
		)
	}
}

// TracingExtension reports resolver timings under extensions.tracing in the
// Apollo tracing format.
type TracingExtension struct {
	noopHooks
	now func() time.Time
}

func NewTracingExtension() *TracingExtension {
	return &TracingExtension{now: time.Now}
}

type traceKey struct{}

type resolverTrace struct {
	Path        []interface{} `json:"path"`
	ParentType  string        `json:"parentType"`
	FieldName   string        `json:"fieldName"`
	ReturnType  string        `json:"returnType"`
	StartOffset int64         `json:"startOffset"`
	Duration    int64         `json:"duration"`
}

type trace struct {
	mu        sync.Mutex
	start     time.Time
	end       time.Time
	resolvers []resolverTrace
}

// TracingResult is the value placed in extensions.tracing.
type TracingResult struct {
	Version   int       `json:"version"`
	StartTime time.Time `json:"startTime"`
	EndTime   time.Time `json:"endTime"`
	Duration  int64     `json:"duration"`
	Execution struct {
		Resolvers []resolverTrace `json:"resolvers"`
	} `json:"execution"`
}

func (e *TracingExtension) Name() string { return "tracing" }

func (e *TracingExtension) Init(ctx context.Context, _ *graphql.Params) context.Context {
	return context.WithValue(ctx, traceKey{}, &trace{start: e.now()})
}

func (e *TracingExtension) ExecutionDidStart(ctx context.Context) (context.Context, graphql.ExecutionFinishFunc) {
	return ctx, func(*graphql.Result) {
		if t, ok := ctx.Value(traceKey{}).(*trace); ok {
			t.mu.Lock()
			t.end = e.now()
			t.mu.Unlock()
		}
	}
}

func (e *TracingExtension) ResolveFieldDidStart(ctx context.Context, info *graphql.ResolveInfo) (context.Context, graphql.ResolveFieldFinishFunc) {
	t, ok := ctx.Value(traceKey{}).(*trace)
	if !ok || info == nil {
		return ctx, func(interface{}, error) {}
	}
	started := e.now()
	return ctx, func(interface{}, error) {
		rt := resolverTrace{
			FieldName:   info.FieldName,
			StartOffset: started.Sub(t.start).Nanoseconds(),
			Duration:    e.now().Sub(started).Nanoseconds(),
		}
		if info.Path != nil {
			rt.Path = info.Path.AsArray()
		}
		if info.ParentType != nil {
			rt.ParentType = info.ParentType.Name()
		}
		if info.ReturnType != nil {
			rt.ReturnType = info.ReturnType.String()
		}
		t.mu.Lock()
		t.resolvers = append(t.resolvers, rt)
		t.mu.Unlock()
	}
}

func (e *TracingExtension) HasResult() bool { return true }

func (e *TracingExtension) GetResult(ctx context.Context) interface{} {
	t, ok := ctx.Value(traceKey{}).(*trace)
	if !ok {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	end := t.end
	if end.IsZero() {
		end = e.now()
	}
	out := TracingResult{Version: 1, StartTime: t.start.UTC(), EndTime: end.UTC(), Duration: end.Sub(t.start).Nanoseconds()}
	out.Execution.Resolvers = append([]resolverTrace(nil), t.resolvers...)
	return out
}

// MetricsExtension records root resolver latency and operation outcomes.
type MetricsExtension struct {
	noopHooks
	resolverDuration *prometheus.HistogramVec
	operations       *prometheus.CounterVec
}

// NewMetricsExtension registers its collectors with reg.
func NewMetricsExtension(reg prometheus.Registerer) (*MetricsExtension, error) {
	e := &MetricsExtension{
		resolverDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "users",
			Subsystem: "graphql",
			Name:      "resolver_duration_seconds",
			Help:      "Duration of root field resolvers.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"field", "outcome"}),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "users",
			Subsystem: "graphql",
			Name:      "operations_total",
			Help:      "Executed GraphQL operations by outcome.",
		}, []string{"outcome"}),
	}
	for _, c := range []prometheus.Collector{e.resolverDuration, e.operations} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return e, nil
}

func (e *MetricsExtension) Name() string { return "metrics" }

func (e *MetricsExtension) Init(ctx context.Context, _ *graphql.Params) context.Context { return ctx }

func (e *MetricsExtension) ExecutionDidStart(ctx context.Context) (context.Context, graphql.ExecutionFinishFunc) {
	return ctx, func(res *graphql.Result) {
		e.operations.WithLabelValues(outcome(res != nil && res.HasErrors())).Inc()
	}
}

func (e *MetricsExtension) ResolveFieldDidStart(ctx context.Context, info *graphql.ResolveInfo) (context.Context, graphql.ResolveFieldFinishFunc) {
	if !isRootField(info) {
		return ctx, func(interface{}, error) {}
	}
	start := time.Now()
	return ctx, func(_ interface{}, err error) {
		e.resolverDuration.WithLabelValues(info.FieldName, outcome(err != nil)).Observe(time.Since(start).Seconds())
	}
}

func outcome(failed bool) string {
	if failed {
		return "error"
	}
	return "ok"
}
