package main

import (
	"context"
	"flag"
	"os"
	"time"

	"k8s.io/apimachinery/pkg/runtime"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/healthz"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"
	metricsserver "sigs.k8s.io/controller-runtime/pkg/metrics/server"

	storagev1alpha1 "github.com/bayleafwalker/bindery-capabilities/api/v1alpha1"
	"github.com/bayleafwalker/bindery-capabilities/controllers"
	"github.com/bayleafwalker/bindery-capabilities/internal/aggregator"
	"github.com/bayleafwalker/bindery-capabilities/internal/config"
	"github.com/bayleafwalker/bindery-capabilities/internal/grpcapi"
	"github.com/bayleafwalker/bindery-capabilities/internal/otel"
	"github.com/bayleafwalker/bindery-capabilities/internal/server"
	"github.com/bayleafwalker/bindery-capabilities/internal/source"
)

var (
	scheme   = runtime.NewScheme()
	setupLog = ctrl.Log.WithName("setup")
)

func init() {
	utilruntime.Must(clientgoscheme.AddToScheme(scheme))
	utilruntime.Must(storagev1alpha1.AddToScheme(scheme))
}

func main() {
	var metricsAddr string
	var probeAddr string
	var enableLeaderElection bool

	flag.StringVar(&metricsAddr, "metrics-bind-address", ":8080", "The address the metric endpoint binds to.")
	flag.StringVar(&probeAddr, "health-probe-bind-address", ":8081", "The address the probe endpoint binds to.")
	flag.BoolVar(&enableLeaderElection, "leader-elect", false, "Enable leader election for controller manager.")

	opts := zap.Options{Development: true}
	opts.BindFlags(flag.CommandLine)
	flag.Parse()

	ctrl.SetLogger(zap.New(zap.UseFlagOptions(&opts)))

	cfg, err := config.Load()
	if err != nil {
		setupLog.Error(err, "unable to load configuration")
		os.Exit(1)
	}

	shutdownTracing, err := otel.Setup(context.Background(), cfg.ServiceName, cfg.OTelEndpoint)
	if err != nil {
		setupLog.Error(err, "unable to set up tracing")
		os.Exit(1)
	}

	mgr, err := ctrl.NewManager(ctrl.GetConfigOrDie(), ctrl.Options{
		Scheme:                 scheme,
		Metrics:                metricsserver.Options{BindAddress: metricsAddr},
		HealthProbeBindAddress: probeAddr,
		LeaderElection:         enableLeaderElection,
		LeaderElectionID:       "storagebackend.storage.bindery.platform",
	})
	if err != nil {
		setupLog.Error(err, "unable to start manager")
		os.Exit(1)
	}

	if err := (&controllers.StorageBackendReconciler{
		Client:   mgr.GetClient(),
		Scheme:   mgr.GetScheme(),
		Recorder: mgr.GetEventRecorderFor("StorageBackend"),
	}).SetupWithManager(mgr); err != nil {
		setupLog.Error(err, "unable to create controller", "controller", "StorageBackend")
		os.Exit(1)
	}

	reader := mgr.GetClient()
	agg := aggregator.New(
		newSource(reader, cfg.Namespace, "primary", cfg.Primary),
		newSource(reader, cfg.Namespace, "alarm", cfg.Alarm),
		newSource(reader, cfg.Namespace, "event", cfg.Event),
	)

	httpLog := ctrl.Log.WithName("http")
	if err := mgr.Add(&server.HTTPServer{
		Addr:            cfg.HTTPAddr,
		Handler:         server.NewHandlers(agg, httpLog).Router(),
		ShutdownTimeout: 5 * time.Second,
	}); err != nil {
		setupLog.Error(err, "unable to add http server")
		os.Exit(1)
	}

	grpcLog := ctrl.Log.WithName("grpc")
	if err := mgr.Add(&grpcapi.Server{
		Addr:    cfg.GRPCAddr,
		Service: grpcapi.NewService(agg, grpcLog),
	}); err != nil {
		setupLog.Error(err, "unable to add grpc server")
		os.Exit(1)
	}

	if err := mgr.AddHealthzCheck("healthz", healthz.Ping); err != nil {
		setupLog.Error(err, "unable to set up health check")
		os.Exit(1)
	}
	if err := mgr.AddReadyzCheck("readyz", healthz.Ping); err != nil {
		setupLog.Error(err, "unable to set up ready check")
		os.Exit(1)
	}

	setupLog.Info("starting manager",
		"namespace", cfg.Namespace,
		"http", cfg.HTTPAddr,
		"grpc", cfg.GRPCAddr,
	)
	runErr := mgr.Start(ctrl.SetupSignalHandler())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdownTracing(ctx); err != nil {
		setupLog.Error(err, "tracing shutdown failed")
	}
	if runErr != nil {
		setupLog.Error(runErr, "problem running manager")
		os.Exit(1)
	}
}

// newSource serves a role from a YAML file when one is configured and from
// the role's StorageBackend object otherwise.
func newSource(reader client.Reader, namespace, role string, b config.Backend) source.Source {
	if b.File != "" {
		setupLog.Info("using file capability source", "role", role, "path", b.File)
		return source.NewFile(b.File)
	}
	setupLog.Info("using StorageBackend capability source", "role", role, "namespace", namespace, "name", b.Name)
	return source.NewKube(reader, namespace, b.Name)
}
