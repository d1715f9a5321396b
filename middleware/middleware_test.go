package middleware_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/xraph/cohort/cluster"
	"github.com/xraph/cohort/config"
	"github.com/xraph/cohort/endpoint"
	"github.com/xraph/cohort/middleware"
	"github.com/xraph/cohort/wire"
)

var coordinatorEP = endpoint.MustParse("10.0.0.1:20000")

// member returns the cluster context of the third worker in a three-worker
// group. settings become its merged configuration.
func member(settings map[string]string) *cluster.Context {
	self := endpoint.MustParse("10.0.0.7:20100")
	return cluster.NewContext(cluster.ContextParams{
		Rank:        3,
		Self:        self,
		Coordinator: coordinatorEP,
		Group: cluster.NewGroup(
			endpoint.MustParse("10.0.0.5:20100"),
			endpoint.MustParse("10.0.0.6:20100"),
			self,
		),
		JobTag:     "tag_jobs",
		ServiceTag: "tag_svc",
		Config:     config.FromMap(settings),
	})
}

func reduceJob(params map[string]string) *wire.Job {
	return &wire.Job{
		Name:    "reduce-strand",
		Payload: []byte(`{"strand":4}`),
		Params:  params,
	}
}

func bufferLogger() (*bytes.Buffer, *slog.Logger) {
	var buf bytes.Buffer
	return &buf, slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func succeed(context.Context) error { return nil }

// ── Chain ───────────────────────────────────────────

func TestChain(t *testing.T) {
	t.Parallel()

	handlerErr := errors.New("handler error")
	tests := []struct {
		name      string
		layers    []string
		handler   error
		wantOrder []string
	}{
		{"empty", nil, nil, []string{"handler"}},
		{"nested", []string{"a", "b"}, nil, []string{"a>", "b>", "handler", "<b", "<a"}},
		{"error passes through", []string{"a"}, handlerErr, []string{"a>", "handler", "<a"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cc := member(nil)
			var order []string
			var mws []middleware.Middleware
			for _, name := range tt.layers {
				mws = append(mws, func(ctx context.Context, got *cluster.Context, _ *wire.Job, next middleware.Handler) error {
					if got != cc {
						t.Errorf("%s: cluster context not passed through", name)
					}
					order = append(order, name+">")
					err := next(ctx)
					order = append(order, "<"+name)
					return err
				})
			}

			err := middleware.Chain(mws...)(context.Background(), cc, reduceJob(nil), func(context.Context) error {
				order = append(order, "handler")
				return tt.handler
			})
			if !errors.Is(err, tt.handler) {
				t.Errorf("Chain error = %v, want %v", err, tt.handler)
			}
			if strings.Join(order, " ") != strings.Join(tt.wantOrder, " ") {
				t.Errorf("order = %v, want %v", order, tt.wantOrder)
			}
		})
	}
}

// ── Recover ─────────────────────────────────────────

func TestRecover(t *testing.T) {
	t.Parallel()

	buf, logger := bufferLogger()
	err := middleware.Recover(logger)(context.Background(), member(nil), reduceJob(nil), func(context.Context) error {
		panic("strand index out of range")
	})
	if got, want := errorString(err), "panic in job reduce-strand: strand index out of range"; got != want {
		t.Errorf("error = %q, want %q", got, want)
	}
	if out := buf.String(); !strings.Contains(out, "rank=3") || !strings.Contains(out, "stack=") {
		t.Errorf("log = %q, want rank and stack", out)
	}

	if err := middleware.Recover(discard())(context.Background(), nil, reduceJob(nil), succeed); err != nil {
		t.Errorf("error without panic = %v, want nil", err)
	}
}

func errorString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// ── Logging ─────────────────────────────────────────

func TestLogging(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cc      *cluster.Context
		err     error
		want    []string
		without []string
	}{
		{
			name: "registered worker",
			cc:   member(nil),
			want: []string{
				`msg="job started"`, `msg="job completed"`, "job_name=reduce-strand",
				"rank=3", "job_tag=tag_jobs", "coordinator=10.0.0.1:20000", "payload_bytes=12",
			},
		},
		{
			name:    "failure",
			cc:      member(nil),
			err:     errors.New("short read"),
			want:    []string{`msg="job failed"`, `error="short read"`, "rank=3"},
			without: []string{`msg="job completed"`},
		},
		{
			name:    "no cluster context",
			want:    []string{`msg="job completed"`, "job_name=reduce-strand"},
			without: []string{"rank=", "job_tag="},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			buf, logger := bufferLogger()
			err := middleware.Logging(logger)(context.Background(), tt.cc, reduceJob(nil), func(context.Context) error {
				return tt.err
			})
			if !errors.Is(err, tt.err) {
				t.Errorf("error = %v, want %v", err, tt.err)
			}
			out := buf.String()
			for _, s := range tt.want {
				if !strings.Contains(out, s) {
					t.Errorf("log missing %q:\n%s", s, out)
				}
			}
			for _, s := range tt.without {
				if strings.Contains(out, s) {
					t.Errorf("log contains %q:\n%s", s, out)
				}
			}
		})
	}
}

// ── Timeout ─────────────────────────────────────────

func TestTimeout(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		params map[string]string
		config map[string]string
		want   time.Duration // 0 means no deadline
	}{
		{"none", nil, nil, 0},
		{"param", map[string]string{middleware.ParamTimeout: "2m"}, nil, 2 * time.Minute},
		{"configured", nil, map[string]string{config.KeyJobTimeout: "3m"}, 3 * time.Minute},
		{"param beats config", map[string]string{middleware.ParamTimeout: "1m"}, map[string]string{config.KeyJobTimeout: "3m"}, time.Minute},
		{"unparsable", map[string]string{middleware.ParamTimeout: "soon"}, nil, 0},
		{"negative config", nil, map[string]string{config.KeyJobTimeout: "-1s"}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			start := time.Now()
			err := middleware.Timeout(discard())(context.Background(), member(tt.config), reduceJob(tt.params), func(ctx context.Context) error {
				deadline, has := ctx.Deadline()
				if has != (tt.want > 0) {
					t.Fatalf("deadline set = %v, want %v", has, tt.want > 0)
				}
				if has {
					if d := deadline.Sub(start); d > tt.want || d < tt.want-time.Second {
						t.Errorf("deadline in %v, want about %v", d, tt.want)
					}
				}
				return nil
			})
			if err != nil {
				t.Errorf("error = %v, want nil", err)
			}
		})
	}
}

func TestTimeoutCancelsSlowJob(t *testing.T) {
	t.Parallel()

	cc := member(map[string]string{config.KeyJobTimeout: "10ms"})
	err := middleware.Timeout(discard())(context.Background(), cc, reduceJob(nil), func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want DeadlineExceeded", err)
	}
}
