package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

func TestE2ESmoke_Capabilities(t *testing.T) {
	if os.Getenv("BINDERY_E2E") == "" {
		t.Skip("set BINDERY_E2E=1 to run Kind-based smoke test")
	}

	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("docker not found in PATH")
	}
	if _, err := exec.LookPath("kubectl"); err != nil {
		t.Skip("kubectl not found in PATH")
	}

	repoRoot := findRepoRoot(t)
	kindBin := "kind"
	if _, err := exec.LookPath("kind"); err != nil {
		fallback := filepath.Join(repoRoot, ".tools", "kind")
		if info, statErr := os.Stat(fallback); statErr == nil && info.Mode()&0o111 != 0 {
			kindBin = fallback
		} else {
			t.Skip("kind not found in PATH (and .tools/kind not usable)")
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 8*time.Minute)
	defer cancel()

	clusterName := fmt.Sprintf("bindery-e2e-%d", time.Now().UnixNano())
	t.Logf("cluster=%s", clusterName)

	// Always attempt cleanup.
	t.Cleanup(func() {
		_ = runAllow(ctx, repoRoot, nil, kindBin, "delete", "cluster", "--name", clusterName)
	})

	runOrFail(t, ctx, repoRoot, nil, kindBin, "create", "cluster", "--name", clusterName, "--wait", "60s")

	kubeconfigPath := filepath.Join(t.TempDir(), "kubeconfig")
	kubeconfig := runOrFail(t, ctx, repoRoot, nil, kindBin, "get", "kubeconfig", "--name", clusterName)
	if err := os.WriteFile(kubeconfigPath, []byte(kubeconfig), 0o600); err != nil {
		t.Fatalf("write kubeconfig: %v", err)
	}
	kubeEnv := append(os.Environ(), "KUBECONFIG="+kubeconfigPath)

	runOrFail(t, ctx, repoRoot, kubeEnv, "kubectl", "apply", "-f", "k8s/crds/")
	runOrFail(t, ctx, repoRoot, kubeEnv,
		"kubectl", "wait", "--for=condition=Established",
		"crd/storagebackends.storage.bindery.platform", "--timeout=60s",
	)

	// Start controller manager and capability server out-of-cluster.
	httpPort := pickFreePort(t)
	grpcPort := pickFreePort(t)
	managerEnv := append(kubeEnv,
		fmt.Sprintf("CAPABILITIES_HTTP_ADDR=127.0.0.1:%d", httpPort),
		fmt.Sprintf("CAPABILITIES_GRPC_ADDR=127.0.0.1:%d", grpcPort),
		"CAPABILITIES_NAMESPACE=default",
	)

	managerCtx, managerCancel := context.WithCancel(ctx)
	defer managerCancel()

	managerCmd := exec.CommandContext(managerCtx, "go", "run", ".", "--metrics-bind-address=0", "--health-probe-bind-address=0")
	managerCmd.Dir = repoRoot
	managerCmd.Env = managerEnv
	var managerOut bytes.Buffer
	managerCmd.Stdout = &managerOut
	managerCmd.Stderr = &managerOut
	if err := managerCmd.Start(); err != nil {
		t.Fatalf("start manager: %v", err)
	}
	t.Cleanup(func() {
		managerCancel()
		_ = managerCmd.Wait()
	})

	// Seed the three role backends and wait for the reconciler to accept them.
	runOrFail(t, ctx, repoRoot, kubeEnv,
		"go", "run", "./cmd/backend-seed",
		"-kubeconfig", kubeconfigPath,
		"-namespace", "default",
		"-wait", "3m",
	)

	httpClient := &http.Client{Timeout: 2 * time.Second}
	url := fmt.Sprintf("http://127.0.0.1:%d/v2/capabilities", httpPort)

	deadline := time.Now().Add(2 * time.Minute)
	for {
		if time.Now().After(deadline) {
			t.Logf("manager output:\n%s", managerOut.String())
			_ = runAllow(ctx, repoRoot, kubeEnv, "kubectl", "get", "storagebackends", "-o", "wide")
			t.Fatalf("timeout waiting for %s to serve capabilities", url)
		}

		resp, err := httpClient.Get(url)
		if err == nil {
			body, _ := io.ReadAll(resp.Body)
			_ = resp.Body.Close()

			var caps capabilitiesDoc
			if resp.StatusCode == http.StatusOK && json.Unmarshal(body, &caps) == nil {
				if caps.API["alarms.history.query.simple"] &&
					caps.API["statistics.aggregation.selectable.stddev"] &&
					caps.Storage["storage.production_ready"] &&
					caps.AlarmStorage["storage.production_ready"] &&
					caps.EventStorage["storage.production_ready"] {
					return
				}
			}
		}

		time.Sleep(3 * time.Second)
	}
}

type capabilitiesDoc struct {
	API          map[string]bool `json:"api"`
	Storage      map[string]bool `json:"storage"`
	AlarmStorage map[string]bool `json:"alarm_storage"`
	EventStorage map[string]bool `json:"event_storage"`
}

func pickFreePort(t *testing.T) int {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen free port: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func findRepoRoot(t *testing.T) string {
	t.Helper()

	_, file, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("runtime.Caller failed")
	}
	// e2e/smoke_test.go -> repo root
	return filepath.Clean(filepath.Join(filepath.Dir(file), ".."))
}

func runOrFail(t *testing.T, ctx context.Context, dir string, env []string, name string, args ...string) string {
	t.Helper()

	out, err := runOut(ctx, dir, env, name, args...)
	if err != nil {
		t.Fatalf("%s %s failed: %v\n%s", name, strings.Join(args, " "), err, out)
	}
	return out
}

func runAllow(ctx context.Context, dir string, env []string, name string, args ...string) error {
	_, err := runOut(ctx, dir, env, name, args...)
	return err
}

func runOut(ctx context.Context, dir string, env []string, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	if env != nil {
		cmd.Env = env
	}
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	err := cmd.Run()
	return buf.String(), err
}
