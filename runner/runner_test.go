package runner

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddielth/msghub-e2e/api"
	"github.com/eddielth/msghub-e2e/barrier"
	"github.com/eddielth/msghub-e2e/config"
	errs "github.com/eddielth/msghub-e2e/errors"
	"github.com/eddielth/msghub-e2e/hub"
	"github.com/eddielth/msghub-e2e/interfaces"
	"github.com/eddielth/msghub-e2e/metrics"
	"github.com/eddielth/msghub-e2e/mqtt"
	"github.com/eddielth/msghub-e2e/simulator"
	"github.com/eddielth/msghub-e2e/store"
)

const deviceID = "rMeNrhlMSUKPM59xlinjFg"

type subscription struct {
	filter  string
	handler mqtt.MessageHandler
}

// memoryBroker delivers every publish synchronously to the matching
// subscribers
type memoryBroker struct {
	mu   sync.Mutex
	subs []subscription
}

func matches(filter, topic string) bool {
	if prefix, ok := strings.CutSuffix(filter, "#"); ok {
		return strings.HasPrefix(topic, prefix) || topic == strings.TrimSuffix(prefix, "/")
	}
	return filter == topic
}

func (b *memoryBroker) Publish(_ context.Context, topic string, _ byte, _ bool, payload []byte) error {
	b.mu.Lock()
	subs := append([]subscription(nil), b.subs...)
	b.mu.Unlock()

	for _, s := range subs {
		if matches(s.filter, topic) {
			s.handler(topic, append([]byte(nil), payload...))
		}
	}
	return nil
}

func (b *memoryBroker) IsConnected() bool { return true }

func (b *memoryBroker) Subscribe(_ context.Context, topic string, _ byte, handler mqtt.MessageHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, subscription{filter: topic, handler: handler})
	return nil
}

type fixture struct {
	hub       *hub.Hub
	catalog   *interfaces.Catalog
	inspector *api.Client
	barrier   *barrier.Barrier
	metrics   *metrics.Metrics
}

// setup wires a hub and a server simulator of simRealm through an
// in-memory broker
func setup(t *testing.T, simRealm string) *fixture {
	t.Helper()

	catalog, err := interfaces.Default()
	require.NoError(t, err)
	st, err := store.NewFileStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	broker := &memoryBroker{}
	sim := simulator.New(broker, catalog, simRealm, "token")
	require.NoError(t, sim.Start(context.Background()))
	srv := httptest.NewServer(sim.Handler())
	t.Cleanup(srv.Close)

	inspector, err := api.New(config.APIConfig{URL: srv.URL, Token: "token", Timeout: 2 * time.Second}, "test", deviceID)
	require.NoError(t, err)

	m := metrics.New()
	b := barrier.New()
	b.OnCrossing(m.BarrierCrossing)
	h, err := hub.New(broker, hub.Options{
		Listen:   "127.0.0.1:0",
		Realm:    "test",
		DeviceID: deviceID,
		Barrier:  b,
		Store:    st,
		Metrics:  m,
	})
	require.NoError(t, err)

	return &fixture{hub: h, catalog: catalog, inspector: inspector, barrier: b, metrics: m}
}

func (fx *fixture) run(ctx context.Context, budgets config.RetryConfig) error {
	return run(ctx, fx.hub, fx.catalog, fx.inspector, fx.barrier, fx.metrics, budgets)
}

func TestRunAgainstSimulator(t *testing.T) {
	fx := setup(t, "test")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	require.NoError(t, fx.run(ctx, config.RetryConfig{Discovery: 50, Check: 10}))

	path := filepath.Join(t.TempDir(), "run.prom")
	require.NoError(t, fx.metrics.WriteTextfile(path))
	exported, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(exported), "msghub_e2e_barrier_crossings_total")
	assert.Contains(t, string(exported), `msghub_e2e_hub_messages_total{direction="downstream"}`)
}

func TestRunFailsWhenServerSeesNothing(t *testing.T) {
	// the simulator listens to another realm and never sees the device
	fx := setup(t, "elsewhere")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err := fx.run(ctx, config.RetryConfig{Discovery: 3, Check: 3})
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindExhaustedRetries))
	assert.Contains(t, err.Error(), "phase discovery")
}

func TestRunInterrupted(t *testing.T) {
	fx := setup(t, "test")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := fx.run(ctx, config.RetryConfig{Discovery: 3, Check: 3})
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindTask))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTaskKeepsClassification(t *testing.T) {
	assert.NoError(t, task("hub", nil))

	classified := errs.New(errs.KindAssertion, "boom")
	assert.Equal(t, classified, task("hub", classified))

	err := task("hub", context.DeadlineExceeded)
	assert.True(t, errs.IsKind(err, errs.KindTask))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
