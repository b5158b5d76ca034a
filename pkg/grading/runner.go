package grading

import (
	"context"
	"fmt"
	"reflect"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"go.uber.org/zap"

	"github.com/daimatz/gradeprobe/pkg/probe"
	"github.com/daimatz/gradeprobe/pkg/report"
)

// Runner executes plans through a probe.
type Runner struct {
	probe  *probe.Probe
	logger *zap.Logger
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) RunnerOption {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRunner creates a Runner over p.
func NewRunner(p *probe.Probe, opts ...RunnerOption) *Runner {
	r := &Runner{probe: p, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes the checks of plan in order. If ctx is done between
// checks, Run returns the partial report together with ctx.Err().
func (r *Runner) Run(ctx context.Context, plan *Plan) (*report.Report, error) {
	rep := report.New(plan.Exercise)
	r.logger.Info("grading started",
		zap.String("id", rep.ID),
		zap.String("exercise", plan.Exercise),
		zap.Int("checks", len(plan.Checks)))

	for i := range plan.Checks {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		res := r.runCheck(&plan.Checks[i])
		r.logger.Debug("check graded",
			zap.String("check", res.Check),
			zap.Bool("passed", res.Passed),
			zap.String("kind", res.Kind))
		rep.Add(res)
	}

	r.logger.Info("grading finished",
		zap.String("id", rep.ID),
		zap.Float64("score", rep.Score),
		zap.Float64("max_score", rep.MaxScore))
	return rep, nil
}

func (r *Runner) runCheck(c *Check) report.Result {
	res := report.Result{Check: c.Name, Weight: c.Weight}
	rec := &probe.Recorder{}
	got := perform(r.probe.Report(rec), rec, c)

	failures := rec.Failures()
	if c.ExpectFailure != "" {
		switch {
		case len(failures) == 0:
			res.Kind = string(probe.KindInternal)
			res.Message = fmt.Sprintf("expected a %s failure, but the check succeeded", c.ExpectFailure)
		case failures[0].Kind != c.ExpectFailure:
			res.Kind = string(failures[0].Kind)
			res.Message = fmt.Sprintf("expected a %s failure, got %s: %s", c.ExpectFailure, failures[0].Kind, failures[0].Message)
		default:
			res.Passed = true
		}
		return res
	}

	if len(failures) > 0 {
		res.Kind = string(failures[0].Kind)
		res.Message = failures[0].Message
		return res
	}
	if c.HasExpect {
		want, have := normalize(c.Expect), normalize(got)
		if !equalValues(want, have) {
			r.logger.Debug("unexpected value",
				zap.String("check", c.Name),
				zap.String("diff", cmp.Diff(want, have, equateNumbers)))
			res.Message = fmt.Sprintf("expected %v, got %v", describe(want), describe(have))
			return res
		}
	}
	res.Passed = true
	return res
}

// perform runs the probe operations of c, stopping at the first failure.
// It returns the value the check yields, if any.
func perform(ck *probe.Checker, rec *probe.Recorder, c *Check) any {
	if c.Action == ActionResolve {
		ck.ResolveType(c.Class)
		return nil
	}
	obj := ck.Instantiate(c.Class, c.Args...)
	if rec.Failed() {
		return nil
	}
	switch c.Action {
	case ActionField:
		return ck.ReadField(obj, c.Field)
	case ActionCall:
		return ck.InvokeByName(obj, c.Method, c.MethodArgs...)
	}
	return nil
}

var equateNumbers = cmpopts.EquateApprox(1e-6, 0)

// equalValues compares an expected value with a returned one after
// normalization. float32 results match within their precision.
func equalValues(want, got any) bool {
	return cmp.Equal(normalize(want), normalize(got), equateNumbers)
}

// normalize maps numbers to float64 and stringers to their text, so that
// values decoded from YAML compare equal to values a runtime returns.
func normalize(v any) any {
	switch v := v.(type) {
	case nil, string, bool, float64:
		return v
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = normalize(e)
		}
		return out
	case fmt.Stringer:
		return v.String()
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint())
	case reflect.Float32:
		return rv.Float()
	case reflect.String:
		return rv.String()
	case reflect.Bool:
		return rv.Bool()
	}
	return v
}

func describe(v any) string {
	switch v := v.(type) {
	case nil:
		return "null"
	case string:
		return fmt.Sprintf("%q", v)
	}
	return fmt.Sprint(v)
}
