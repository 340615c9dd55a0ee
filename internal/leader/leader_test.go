package leader

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/jensholdgaard/tradewatch/internal/config"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestIdentity_FromPodName(t *testing.T) {
	t.Setenv("POD_NAME", "tradewatch-abc123")
	if got := identity(); got != "tradewatch-abc123" {
		t.Errorf("identity() = %q, want %q", got, "tradewatch-abc123")
	}
}

func TestIdentity_Hostname(t *testing.T) {
	t.Setenv("POD_NAME", "")
	host, err := os.Hostname()
	if err != nil {
		t.Skip("cannot get hostname")
	}
	if got := identity(); got != host {
		t.Errorf("identity() = %q, want %q", got, host)
	}
}

func useClient(t *testing.T, client kubernetes.Interface, err error) {
	t.Helper()
	orig := ClientFactory
	ClientFactory = func() (kubernetes.Interface, error) { return client, err }
	t.Cleanup(func() { ClientFactory = orig })
}

func testConfig() config.LeaderElectionConfig {
	return config.LeaderElectionConfig{
		Enabled:        true,
		LeaseName:      "tradewatch-test",
		LeaseNamespace: "default",
		LeaseDuration:  2 * time.Second,
		RenewDeadline:  1 * time.Second,
		RetryPeriod:    100 * time.Millisecond,
	}
}

func TestLead_Disabled(t *testing.T) {
	useClient(t, nil, errors.New("must not be called"))

	var ran bool
	err := Lead(context.Background(), config.LeaderElectionConfig{}, discardLogger(), func(context.Context) {
		ran = true
	})
	if err != nil {
		t.Fatalf("Lead() error = %v", err)
	}
	if !ran {
		t.Error("work did not run")
	}
}

func TestRun_ClientError(t *testing.T) {
	useClient(t, nil, errors.New("no cluster"))
	err := Run(context.Background(), testConfig(), discardLogger(), func(context.Context) {}, func() {})
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestRun_InvalidTimings(t *testing.T) {
	useClient(t, fake.NewSimpleClientset(), nil)
	cfg := testConfig()
	cfg.RenewDeadline = cfg.LeaseDuration * 2
	err := Run(context.Background(), cfg, discardLogger(), func(context.Context) {}, func() {})
	if err == nil {
		t.Fatal("expected error for renew deadline beyond lease duration")
	}
}

func TestLead_AcquiresLease(t *testing.T) {
	useClient(t, fake.NewSimpleClientset(), nil)
	t.Setenv("POD_NAME", "replica-1")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var leading atomic.Bool
	done := make(chan error, 1)
	go func() {
		done <- Lead(ctx, testConfig(), discardLogger(), func(ctx context.Context) {
			leading.Store(true)
			<-ctx.Done()
		})
	}()

	for !leading.Load() {
		select {
		case <-ctx.Done():
			t.Fatal("timed out waiting for leadership")
		case <-time.After(20 * time.Millisecond):
		}
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Lead() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Lead did not return after cancel")
	}
}
