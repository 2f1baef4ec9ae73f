package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/bayleafwalker/bindery-capabilities/internal/grpcapi"
)

func main() {
	var target string
	var timeout time.Duration
	var checkHealth bool
	flag.StringVar(&target, "target", "127.0.0.1:50061", "gRPC server address")
	flag.DurationVar(&timeout, "timeout", 3*time.Second, "request timeout")
	flag.BoolVar(&checkHealth, "health", false, "query the health service before fetching capabilities")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	conn, err := grpc.NewClient(target, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		panic(fmt.Errorf("dial %s: %w", target, err))
	}
	defer conn.Close()

	if checkHealth {
		resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: grpcapi.ServiceName})
		if err != nil {
			fmt.Printf("Health check error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("health: %s\n", resp.GetStatus())
	}

	caps, err := grpcapi.NewClient(conn).GetCapabilities(ctx)
	if err != nil {
		fmt.Printf("GetCapabilities error: %v\n", err)
		os.Exit(1)
	}

	printSection("api", caps.API)
	printSection("storage", caps.Storage)
	printSection("alarm_storage", caps.AlarmStorage)
	printSection("event_storage", caps.EventStorage)
}

func printSection(name string, m map[string]bool) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Printf("%s (%d):\n", name, len(keys))
	for _, k := range keys {
		fmt.Printf("  %s=%t\n", k, m[k])
	}
}
