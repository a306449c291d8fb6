// Package commands implements caliper-demo's cobra subcommands: one
// NewXCommand constructor per subcommand, flags bound to local variables
// before Cobra parses them, RunE returning a plain error for main to
// report.
package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/phroun/calipergo/pkg/attribute"
	"github.com/phroun/calipergo/pkg/caliper"
	calipercfg "github.com/phroun/calipergo/pkg/config"
	"github.com/phroun/calipergo/pkg/observability"
	"github.com/phroun/calipergo/pkg/scope"
	"github.com/phroun/calipergo/pkg/services/deltaservice"
	"github.com/phroun/calipergo/pkg/services/otelservice"
	"github.com/phroun/calipergo/pkg/services/promservice"
	"github.com/phroun/calipergo/pkg/services/recorderservice"
	"github.com/phroun/calipergo/pkg/services/tableservice"
	"github.com/phroun/calipergo/pkg/snapshot"
	"github.com/phroun/calipergo/pkg/variant"
)

const (
	runCmdUse   = "run"
	runCmdShort = "Drive a scripted annotation sequence through every configured service"

	promReadHeaderTimeout = 5 * time.Second
)

// NewRunCommand builds the run subcommand.
func NewRunCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   runCmdUse,
		Short: runCmdShort,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runDemo(configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to a calipergo config file (optional)")

	return cmd
}

func runDemo(configPath string) error {
	cfg, err := calipercfg.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ac := observability.NewAnnotationContext()

	obsCfg := observability.DefaultConfig()
	obsCfg.ServiceName = cfg.OTel.ServiceName
	obsCfg.Annotations = ac

	if cfg.OTel.Enabled {
		obsCfg.OTLPEndpoint = cfg.OTel.Endpoint
		obsCfg.OTLPInsecure = cfg.OTel.Insecure
	}

	providers, err := observability.Init(obsCfg)
	if err != nil {
		return fmt.Errorf("init observability: %w", err)
	}

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(obsCfg.ShutdownTimeoutSec)*time.Second)
		defer cancel()

		_ = providers.Shutdown(shutdownCtx)
	}()

	redMetrics, err := observability.NewREDMetrics(providers.Meter)
	if err != nil {
		return fmt.Errorf("init RED metrics: %w", err)
	}

	stopServer, err := wireServices(cfg, providers, ac)
	if err != nil {
		return err
	}

	defer stopServer()

	rt := caliper.New(caliper.Config{
		Automerge: cfg.Caliper.Automerge,
		BlockSize: cfg.Caliper.BlockSize,
		Logger:    providers.Logger,
	})
	defer rt.Events().Finish()

	ac.Subscribe(rt.Events())

	return driveScript(rt, redMetrics)
}

// wireServices registers the demo's services with caliper.RegisterService
// and, if Prometheus is enabled, starts its /metrics HTTP endpoint. The
// returned func stops that server.
func wireServices(cfg *calipercfg.Config, providers observability.Providers, ac *observability.AnnotationContext) (func(), error) {
	caliper.RegisterService(tableserviceRegistration(cfg))

	if cfg.OTel.Enabled {
		svc := otelservice.New(providers.Tracer, otelservice.Config{AttributeAllow: cfg.OTel.AttributeAllow})
		caliper.RegisterService(svc.Register())
	}

	if cfg.Delta.Enabled {
		svc := deltaservice.New(func(changes []deltaservice.Change) {
			for _, c := range changes {
				sign := "-"
				if c.Added {
					sign = "+"
				}

				fmt.Fprintf(os.Stdout, "%s %s\n", sign, c.Line)
			}
		})
		caliper.RegisterService(svc.Register())
	}

	if cfg.Recorder.Enabled {
		svc := recorderservice.New(recorderservice.Config{
			Directory:   cfg.Recorder.Directory,
			FilePattern: cfg.Recorder.FilePattern,
		})
		caliper.RegisterService(svc.Register())
	}

	if !cfg.Prometheus.Enabled {
		return func() {}, nil
	}

	reg := prometheus.NewRegistry()
	promSvc := promservice.New(reg)
	caliper.RegisterService(promSvc.Register())

	mux := http.NewServeMux()
	mux.Handle(cfg.Prometheus.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Prometheus.Listen, cfg.Prometheus.Port),
		Handler:           observability.HTTPMiddleware(providers.Tracer, providers.Logger, ac, mux),
		ReadHeaderTimeout: promReadHeaderTimeout,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			providers.Logger.Error("prometheus server failed", "error", err)
		}
	}()

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), promReadHeaderTimeout)
		defer cancel()

		_ = server.Shutdown(shutdownCtx)
	}, nil
}

func tableserviceRegistration(cfg *calipercfg.Config) caliper.ServiceFunc {
	svc := tableservice.New(os.Stdout, tableservice.Config{Color: cfg.Table.Color})

	return svc.Register()
}

// driveScript runs a small nested-region sequence and pushes a snapshot
// after each step, timing each operation through redMetrics.
func driveScript(rt *caliper.Runtime, redMetrics *observability.REDMetrics) error {
	ctx := context.Background()

	region := rt.CreateAttribute("region", variant.TypeString, attribute.Default)
	phase := rt.CreateAttribute("phase", variant.TypeString, attribute.Default)
	iter := rt.CreateAttribute("iter", variant.TypeInt, attribute.AsValue|attribute.ScopeProcess)
	step := rt.CreateAttribute("demo.step", variant.TypeInt, attribute.AsValue|attribute.SkipEvents)

	timed(ctx, redMetrics, "begin", func() error { return rt.Begin(region, variant.String("checkout")) })
	timed(ctx, redMetrics, "begin", func() error { return rt.Begin(phase, variant.String("validate")) })
	timed(ctx, redMetrics, "set", func() error { return rt.Set(iter, variant.Int(1)) })

	rt.PushSnapshot(scope.MaskAll, snapshot.MakeEntry(step.ID(), variant.Int(1)))

	timed(ctx, redMetrics, "end", func() error { return rt.End(phase) })
	timed(ctx, redMetrics, "begin", func() error { return rt.Begin(phase, variant.String("charge")) })
	timed(ctx, redMetrics, "set", func() error { return rt.Set(iter, variant.Int(2)) })

	rt.PushSnapshot(scope.MaskAll, snapshot.MakeEntry(step.ID(), variant.Int(2)))

	timed(ctx, redMetrics, "end", func() error { return rt.End(phase) })
	timed(ctx, redMetrics, "end", func() error { return rt.End(region) })

	rt.PushSnapshot(scope.MaskAll, snapshot.MakeEntry(step.ID(), variant.Int(3)))

	return nil
}

func timed(ctx context.Context, redMetrics *observability.REDMetrics, op string, fn func() error) {
	done := redMetrics.TrackInflight(ctx, op)
	defer done()

	start := time.Now()
	status := "ok"

	if err := fn(); err != nil {
		status = "error"
	}

	redMetrics.RecordRequest(ctx, op, status, time.Since(start))
}
