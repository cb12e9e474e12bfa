// Package runner wires one conformance run: the broker link, the message
// hub, the device node and the inspection client, all driven by the
// sequencer.
package runner

import (
	"context"
	"os"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/eddielth/msghub-e2e/api"
	"github.com/eddielth/msghub-e2e/barrier"
	"github.com/eddielth/msghub-e2e/config"
	"github.com/eddielth/msghub-e2e/device"
	errs "github.com/eddielth/msghub-e2e/errors"
	"github.com/eddielth/msghub-e2e/hub"
	"github.com/eddielth/msghub-e2e/interfaces"
	"github.com/eddielth/msghub-e2e/logger"
	"github.com/eddielth/msghub-e2e/metrics"
	"github.com/eddielth/msghub-e2e/mqtt"
	"github.com/eddielth/msghub-e2e/sequencer"
	"github.com/eddielth/msghub-e2e/store"
)

// Run executes a full conformance run and returns the first failure
func Run(ctx context.Context, cfg *config.Config) error {
	catalog, err := interfaces.Load(cfg.Interfaces.Dir)
	if err != nil {
		return err
	}
	deviceID, err := cfg.Device.DeviceID()
	if err != nil {
		return err
	}
	logger.Info("device %s in realm %s", deviceID, cfg.Device.Realm)

	dir := cfg.Hub.StoreDir
	if dir == "" {
		if dir, err = os.MkdirTemp("", "msghub-e2e-"); err != nil {
			return errs.Wrap(errs.KindConfiguration, err, "create store directory")
		}
		defer os.RemoveAll(dir)
	}
	st, err := store.New(cfg.Store, dir, deviceID)
	if err != nil {
		return err
	}
	defer st.Close()

	m := metrics.New()
	if cfg.Metrics.Textfile != "" {
		defer func() {
			if err := m.WriteTextfile(cfg.Metrics.Textfile); err != nil {
				logger.Warn("failed to write metrics: %v", err)
			}
		}()
	}

	broker, err := mqtt.NewClient(cfg.MQTT, "msghub-e2e")
	if err != nil {
		return err
	}
	if err := broker.Connect(ctx); err != nil {
		return err
	}
	defer broker.Disconnect()

	inspector, err := api.New(cfg.API, cfg.Device.Realm, deviceID)
	if err != nil {
		return err
	}

	b := barrier.New()
	b.OnCrossing(m.BarrierCrossing)

	h, err := hub.New(broker, hub.Options{
		Listen:   cfg.Hub.Listen,
		Realm:    cfg.Device.Realm,
		DeviceID: deviceID,
		Barrier:  b,
		Store:    st,
		Metrics:  m,
	})
	if err != nil {
		return err
	}

	return run(ctx, h, catalog, inspector, b, m, cfg.Retry)
}

func run(ctx context.Context, h *hub.Hub, catalog *interfaces.Catalog, inspector sequencer.Inspector,
	b *barrier.Barrier, m *metrics.Metrics, budgets config.RetryConfig) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return task("message hub", h.Run(gctx))
	})

	select {
	case <-h.Ready():
	case <-gctx.Done():
		h.Close()
		return failure(ctx, g.Wait())
	}

	node := uuid.NewString()
	dev, err := device.Dial(gctx, h.Addr(), node, catalog.Primary(), device.WithMetrics(m))
	if err != nil {
		h.Close()
		if werr := g.Wait(); werr != nil {
			logger.Warn("message hub: %v", werr)
		}
		return failure(ctx, err)
	}

	g.Go(func() error {
		return task("device", dev.Run(gctx))
	})

	seq := sequencer.New(dev, inspector, h, b, sequencer.Options{
		Expected:          catalog.Names(),
		DiscoveryAttempts: budgets.Discovery,
		CheckAttempts:     budgets.Check,
		Metrics:           m,
	})
	g.Go(func() error {
		return seq.Run(gctx)
	})

	err = failure(ctx, g.Wait())
	logger.Info("node %s finished in state %s", dev.Node(), seq.State())
	return err
}

// task classifies the error of a unit of work that is not already
// classified
func task(name string, err error) error {
	if err == nil || errs.KindOf(err) != errs.KindUnknown {
		return err
	}
	return errs.Wrap(errs.KindTask, err, "%s", name)
}

// failure prefers reporting an interrupted run over whichever task noticed
// the cancellation first
func failure(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return errs.Wrap(errs.KindTask, ctx.Err(), "run interrupted")
	}
	return err
}
