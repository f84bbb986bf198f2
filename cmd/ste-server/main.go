package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/mundrapranay/silhouette-ste/internal/logging"
	"github.com/mundrapranay/silhouette-ste/internal/server"
	"github.com/mundrapranay/silhouette-ste/internal/store"
)

var (
	nodeID      = flag.String("node-id", "", "Unique ID for this node")
	listenAddr  = flag.String("listen-addr", "127.0.0.1:8080", "Address to listen for Raft communication")
	grpcAddr    = flag.String("grpc-addr", "127.0.0.1:9090", "Address to serve gRPC health checks")
	metricsAddr = flag.String("metrics-addr", "127.0.0.1:9100", "Address to serve Prometheus metrics")
	dataDir     = flag.String("data-dir", "./data", "Directory to store Raft logs and snapshots")
	bootstrap   = flag.Bool("bootstrap", false, "Bootstrap a new cluster (first node)")
	logLevel    = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
)

// serviceName is the health-checked service.
const serviceName = "ste.Server"

func main() {
	flag.Parse()

	log, err := logging.New(*logLevel)
	if err != nil {
		logrus.Fatalf("invalid log level: %v", err)
	}
	if *nodeID == "" {
		log.Fatal("node-id is required")
	}

	s, err := store.NewStore(store.Config{
		NodeID:           *nodeID,
		ListenAddr:       *listenAddr,
		DataDir:          *dataDir,
		Bootstrap:        *bootstrap,
		HeartbeatTimeout: 1000 * time.Millisecond,
		ElectionTimeout:  1000 * time.Millisecond,
		CommitTimeout:    50 * time.Millisecond,
		Log:              log,
	})
	if err != nil {
		log.Fatalf("failed to create store: %v", err)
	}
	defer s.Shutdown()

	reg := prometheus.NewRegistry()
	srv := server.NewServer(s, server.NewMetrics(reg), log)

	healthSrv := health.NewServer()
	healthSrv.SetServingStatus(serviceName, healthpb.HealthCheckResponse_NOT_SERVING)

	lis, err := net.Listen("tcp", *grpcAddr)
	if err != nil {
		log.Fatalf("failed to listen: %v", err)
	}
	grpcSrv := grpc.NewServer()
	healthpb.RegisterHealthServer(grpcSrv, healthSrv)
	go func() {
		if err := grpcSrv.Serve(lis); err != nil {
			log.Fatalf("failed to serve gRPC: %v", err)
		}
	}()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/indexes", func(w http.ResponseWriter, r *http.Request) {
		names, err := srv.Indexes(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(names)
	})
	httpSrv := &http.Server{Addr: *metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("failed to serve metrics: %v", err)
		}
	}()

	if err := s.WaitForLeader(30 * time.Second); err != nil {
		log.WithError(err).Warn("no leader yet")
	} else {
		healthSrv.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)
	}

	log.WithFields(logrus.Fields{
		"node":    *nodeID,
		"raft":    s.Addr(),
		"grpc":    *grpcAddr,
		"metrics": *metricsAddr,
		"leader":  s.IsLeader(),
	}).Info("node is ready")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info("shutting down")
	healthSrv.Shutdown()
	grpcSrv.GracefulStop()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	httpSrv.Shutdown(ctx)
}
