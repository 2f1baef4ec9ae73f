package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/util/homedir"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"

	storagev1alpha1 "github.com/bayleafwalker/bindery-capabilities/api/v1alpha1"
	"github.com/bayleafwalker/bindery-capabilities/internal/aggregator"
	"github.com/bayleafwalker/bindery-capabilities/internal/capability"
	"github.com/bayleafwalker/bindery-capabilities/internal/response"
)

var (
	scheme = runtime.NewScheme()
)

func init() {
	utilruntime.Must(clientgoscheme.AddToScheme(scheme))
	utilruntime.Must(storagev1alpha1.AddToScheme(scheme))
}

func main() {
	var kubeconfig string
	if home := homedir.HomeDir(); home != "" {
		kubeconfig = filepath.Join(home, ".kube", "config")
	} else {
		kubeconfig = os.Getenv("KUBECONFIG")
	}
	flag.StringVar(&kubeconfig, "kubeconfig", kubeconfig, "absolute path to the kubeconfig file")

	var namespace string
	var driver string
	var version string
	var wait time.Duration

	flag.StringVar(&namespace, "namespace", "default", "Namespace to create StorageBackends in")
	flag.StringVar(&driver, "driver", "mongodb", "Driver name recorded on every backend")
	flag.StringVar(&version, "driver-version", "1.0.0", "Driver version recorded on every backend")
	flag.DurationVar(&wait, "wait", time.Minute, "How long to wait for backends to become Ready (0 disables)")
	flag.Parse()

	config, err := clientcmd.BuildConfigFromFlags("", kubeconfig)
	if err != nil {
		log.Fatalf("Error building kubeconfig: %v", err)
	}

	k8sClient, err := client.New(config, client.Options{Scheme: scheme})
	if err != nil {
		log.Fatalf("Error creating client: %v", err)
	}

	specs, err := seedSpecs(storagev1alpha1.DriverRef{Name: driver, Version: version})
	if err != nil {
		log.Fatalf("Error building backend specs: %v", err)
	}

	ctx := context.Background()
	for _, role := range storagev1alpha1.Roles {
		backend := &storagev1alpha1.StorageBackend{
			ObjectMeta: metav1.ObjectMeta{Name: string(role), Namespace: namespace},
		}
		op, err := controllerutil.CreateOrUpdate(ctx, k8sClient, backend, func() error {
			backend.Spec = specs[role]
			return nil
		})
		if err != nil {
			log.Fatalf("Error applying StorageBackend %s: %v", role, err)
		}
		fmt.Printf("StorageBackend %s/%s %s\n", namespace, role, op)
	}

	if wait <= 0 {
		return
	}

	var wg sync.WaitGroup
	failed := make(chan string, len(storagev1alpha1.Roles))
	for _, role := range storagev1alpha1.Roles {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), wait)
			defer cancel()

			for {
				select {
				case <-ctx.Done():
					fmt.Printf("Timeout waiting for StorageBackend %s\n", name)
					failed <- name
					return
				case <-time.After(1 * time.Second):
					var current storagev1alpha1.StorageBackend
					if err := k8sClient.Get(ctx, client.ObjectKey{Name: name, Namespace: namespace}, &current); err != nil {
						continue
					}
					switch current.Status.Phase {
					case "Ready":
						fmt.Printf("StorageBackend %s ready: %s\n", name, current.Status.Message)
						return
					case "Invalid":
						fmt.Printf("StorageBackend %s invalid: %s\n", name, current.Status.Message)
						failed <- name
						return
					}
				}
			}
		}(string(role))
	}
	wg.Wait()
	close(failed)

	if len(failed) > 0 {
		os.Exit(1)
	}
}

// seedSpecs builds one spec per role from the documentation sample. The alarm
// and event backends only declare their own domain.
func seedSpecs(driver storagev1alpha1.DriverRef) (map[storagev1alpha1.BackendRole]storagev1alpha1.StorageBackendSpec, error) {
	features := response.SampleFeatures()
	storage := capability.MustFromMap(map[string]any{
		"storage": map[string]any{"production_ready": true},
	})

	alarms, _ := features.Child(aggregator.AlarmsKey)
	events, _ := features.Child(aggregator.EventsKey)
	byRole := map[storagev1alpha1.BackendRole]capability.Tree{
		storagev1alpha1.BackendRolePrimary: features,
		storagev1alpha1.BackendRoleAlarm:   capability.Branch(map[string]capability.Tree{aggregator.AlarmsKey: alarms}),
		storagev1alpha1.BackendRoleEvent:   capability.Branch(map[string]capability.Tree{aggregator.EventsKey: events}),
	}

	storageRaw, err := json.Marshal(storage)
	if err != nil {
		return nil, err
	}
	out := make(map[storagev1alpha1.BackendRole]storagev1alpha1.StorageBackendSpec, len(byRole))
	for role, tree := range byRole {
		raw, err := json.Marshal(tree)
		if err != nil {
			return nil, fmt.Errorf("%s features: %w", role, err)
		}
		out[role] = storagev1alpha1.StorageBackendSpec{
			Role:     role,
			Driver:   driver,
			Features: runtime.RawExtension{Raw: raw},
			Storage:  runtime.RawExtension{Raw: storageRaw},
		}
	}
	return out, nil
}
