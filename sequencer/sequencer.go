// Package sequencer drives the conformance run: it verifies interface
// discovery, publishes every data shape from the device and checks what
// the server sees, then injects every shape from the server and checks
// what the device receives.
package sequencer

import (
	"context"
	"slices"
	"time"

	"github.com/eddielth/msghub-e2e/data"
	"github.com/eddielth/msghub-e2e/device"
	errs "github.com/eddielth/msghub-e2e/errors"
	"github.com/eddielth/msghub-e2e/interfaces"
	"github.com/eddielth/msghub-e2e/logger"
	"github.com/eddielth/msghub-e2e/metrics"
	"github.com/eddielth/msghub-e2e/retry"
	"github.com/eddielth/msghub-e2e/value"
)

// Device is the node the run publishes from and receives on
type Device interface {
	SendObject(ctx context.Context, iface, path string, obj *value.Object) error
	Send(ctx context.Context, iface, path string, v value.Value) error
	Unset(ctx context.Context, iface, path string) error
	Recv(ctx context.Context) (device.Event, error)
	Close() error
}

// Inspector reads and injects server side state
type Inspector interface {
	Interfaces(ctx context.Context) ([]string, error)
	AggregateValue(ctx context.Context, iface, path string) (data.Data, error)
	IndividualValues(ctx context.Context, iface string) (*value.Object, error)
	Property(ctx context.Context, iface string) (*value.Object, error)
	SendObject(ctx context.Context, iface, path string, obj *value.Object) error
	SendIndividual(ctx context.Context, iface, path string, v value.Value) error
	Unset(ctx context.Context, iface, path string) error
}

// Shutdowner stops the message hub
type Shutdowner interface {
	Close()
}

// Barrier paces the publisher against the hub
type Barrier interface {
	Wait(ctx context.Context) error
}

// Options configures a Sequencer
type Options struct {
	// Expected is the interface catalog discovery must converge to
	Expected          []string
	DiscoveryAttempts int
	CheckAttempts     int
	Metrics           *metrics.Metrics
}

// Sequencer runs the phases in order and stops at the first failure
type Sequencer struct {
	dev     Device
	api     Inspector
	hub     Shutdowner
	barrier Barrier
	opts    Options
	state   State
}

// New creates a sequencer in the Init state
func New(dev Device, api Inspector, hub Shutdowner, b Barrier, opts Options) *Sequencer {
	expected := slices.Clone(opts.Expected)
	slices.Sort(expected)
	opts.Expected = expected

	return &Sequencer{
		dev:     dev,
		api:     api,
		hub:     hub,
		barrier: b,
		opts:    opts,
	}
}

// State returns the last state reached
func (s *Sequencer) State() State {
	return s.state
}

type phase struct {
	name string
	next State
	run  func(ctx context.Context) error
}

func (s *Sequencer) phases() []phase {
	return []phase{
		{"discovery", DiscoveryVerified, s.discovery},
		{"device aggregate", DeviceAggregateSent, s.deviceAggregate},
		{"device datastream", DeviceDatastreamSent, func(ctx context.Context) error {
			return s.deviceIndividual(ctx, interfaces.DeviceDatastream)
		}},
		{"device property", DevicePropertySent, func(ctx context.Context) error {
			return s.deviceIndividual(ctx, interfaces.DeviceProperty)
		}},
		{"device property unset", DevicePropertyUnset, s.deviceUnset},
		{"server aggregate", ServerAggregateVerified, s.serverAggregate},
		{"server datastream", ServerDatastreamVerified, func(ctx context.Context) error {
			return s.serverIndividual(ctx, interfaces.ServerDatastream)
		}},
		{"server property", ServerPropertyVerified, func(ctx context.Context) error {
			return s.serverIndividual(ctx, interfaces.ServerProperty)
		}},
		{"server property unset", ServerPropertyUnsetVerified, s.serverUnset},
	}
}

func (s *Sequencer) advance(next State) {
	logger.Info("state %s -> %s", s.state, next)
	s.state = next
	s.opts.Metrics.SetState(int(next))
}

// Run executes every phase and then tears down the device and the hub.
// A phase failure aborts the run; teardown is still attempted but its
// error is only logged. A teardown failure after passing phases is
// returned as a teardown error.
func (s *Sequencer) Run(ctx context.Context) error {
	for _, p := range s.phases() {
		logger.Info("phase=%s starting", p.name)
		start := time.Now()
		err := p.run(ctx)
		s.opts.Metrics.ObservePhase(p.name, time.Since(start), err)

		if err != nil {
			err = errs.WithPhase(err, p.name)
			logger.Error("phase=%s failed in state %s: %v", p.name, s.state, err)
			if tdErr := s.teardown(); tdErr != nil {
				logger.Warn("teardown after failure: %v", tdErr)
			}
			return err
		}
		s.advance(p.next)
	}

	if err := s.teardown(); err != nil {
		logger.Error("teardown failed: %v", err)
		return err
	}
	s.advance(Done)
	return nil
}

func (s *Sequencer) teardown() error {
	err := s.dev.Close()
	s.hub.Close()
	if err != nil {
		if !errs.IsKind(err, errs.KindTeardown) {
			err = errs.Wrap(errs.KindTeardown, err, "close device")
		}
		return errs.WithPhase(err, "teardown")
	}
	return nil
}

func (s *Sequencer) check(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	return retry.Run(ctx, s.opts.CheckAttempts, fn,
		retry.WithName(name), retry.WithObserver(s.opts.Metrics))
}

func (s *Sequencer) discovery(ctx context.Context) error {
	return retry.Run(ctx, s.opts.DiscoveryAttempts, func(ctx context.Context) error {
		names, err := s.api.Interfaces(ctx)
		if err != nil {
			return err
		}
		names = slices.Clone(names)
		slices.Sort(names)
		logger.Debug("interfaces: %v", names)

		if !slices.Equal(names, s.opts.Expected) {
			return errs.Mismatch("interfaces", s.opts.Expected, names)
		}
		return nil
	}, retry.WithName("discovery"), retry.WithObserver(s.opts.Metrics))
}

func fixture() (*value.Object, error) {
	return data.Default().ToObject()
}

func (s *Sequencer) deviceAggregate(ctx context.Context) error {
	obj, err := fixture()
	if err != nil {
		return err
	}

	logger.Debug("sending %s", interfaces.DeviceAggregate)
	if err := s.dev.SendObject(ctx, interfaces.DeviceAggregate, interfaces.AggregatePath, obj); err != nil {
		return err
	}
	if err := s.barrier.Wait(ctx); err != nil {
		return err
	}

	want := data.Default()
	return s.check(ctx, "device aggregate", func(ctx context.Context) error {
		got, err := s.api.AggregateValue(ctx, interfaces.DeviceAggregate, interfaces.AggregatePath)
		if err != nil {
			return err
		}
		if !got.Equal(want) {
			return errs.Mismatch(interfaces.DeviceAggregate, want, got)
		}
		return nil
	})
}

func (s *Sequencer) deviceIndividual(ctx context.Context, iface string) error {
	obj, err := fixture()
	if err != nil {
		return err
	}

	logger.Debug("sending %s", iface)
	for _, e := range data.Endpoints {
		v, _ := obj.Get(e.Name)
		if err := s.dev.Send(ctx, iface, e.Path(), v); err != nil {
			return errs.WithEndpoint(err, e.Name)
		}
		if err := s.barrier.Wait(ctx); err != nil {
			return errs.WithEndpoint(err, e.Name)
		}
	}

	return s.check(ctx, iface, func(ctx context.Context) error {
		got, err := s.api.IndividualValues(ctx, iface)
		if err != nil {
			return err
		}
		return compareIndividuals(obj, got)
	})
}

// compareIndividuals checks every endpoint of want against got
func compareIndividuals(want, got *value.Object) error {
	for _, e := range data.Endpoints {
		w, _ := want.Get(e.Name)
		g, ok := got.Get(e.Name)
		if !ok {
			return errs.WithEndpoint(errs.New(errs.KindAssertion, "missing value, expected %v", w), e.Name)
		}
		if !w.Equal(g) {
			return errs.WithEndpoint(errs.Mismatch("value", w, g), e.Name)
		}
	}
	return nil
}

func (s *Sequencer) deviceUnset(ctx context.Context) error {
	logger.Debug("unsetting %s", interfaces.DeviceProperty)
	for _, e := range data.Endpoints {
		if err := s.dev.Unset(ctx, interfaces.DeviceProperty, e.Path()); err != nil {
			return errs.WithEndpoint(err, e.Name)
		}
		if err := s.barrier.Wait(ctx); err != nil {
			return errs.WithEndpoint(err, e.Name)
		}
	}

	return s.check(ctx, "device property unset", func(ctx context.Context) error {
		got, err := s.api.Property(ctx, interfaces.DeviceProperty)
		if err != nil {
			return err
		}
		if got.Len() != 0 {
			return errs.New(errs.KindAssertion, "property not unset: %v", got)
		}
		return nil
	})
}

// expectEvent receives exactly one event and checks where it was sent
func (s *Sequencer) expectEvent(ctx context.Context, iface, path string) (device.Event, error) {
	ev, err := s.dev.Recv(ctx)
	if err != nil {
		return device.Event{}, err
	}
	if ev.Interface != iface {
		return ev, errs.Mismatch("event interface", iface, ev.Interface)
	}
	if ev.Path != path {
		return ev, errs.Mismatch("event path", path, ev.Path)
	}
	return ev, nil
}

func (s *Sequencer) serverAggregate(ctx context.Context) error {
	obj, err := fixture()
	if err != nil {
		return err
	}

	logger.Debug("checking %s", interfaces.ServerAggregate)
	if err := s.api.SendObject(ctx, interfaces.ServerAggregate, interfaces.AggregatePath, obj); err != nil {
		return err
	}

	ev, err := s.expectEvent(ctx, interfaces.ServerAggregate, interfaces.AggregatePath)
	if err != nil {
		return err
	}
	got, ok := ev.Data.AsObject()
	if !ok {
		return errs.Mismatch("event payload", "object", ev.Data.Shape())
	}
	if !obj.Equal(got) {
		return errs.Mismatch(interfaces.ServerAggregate, obj, got)
	}
	return nil
}

func (s *Sequencer) serverIndividual(ctx context.Context, iface string) error {
	obj, err := fixture()
	if err != nil {
		return err
	}

	logger.Debug("checking %s", iface)
	for _, e := range data.Endpoints {
		v, _ := obj.Get(e.Name)
		if err := s.api.SendIndividual(ctx, iface, e.Path(), v); err != nil {
			return errs.WithEndpoint(err, e.Name)
		}

		ev, err := s.expectEvent(ctx, iface, e.Path())
		if err != nil {
			return errs.WithEndpoint(err, e.Name)
		}
		got, ok := ev.Data.AsIndividual()
		if !ok {
			return errs.WithEndpoint(errs.Mismatch("event payload", "individual", ev.Data.Shape()), e.Name)
		}
		if !v.Equal(got) {
			return errs.WithEndpoint(errs.Mismatch("value", v, got), e.Name)
		}
	}
	return nil
}

func (s *Sequencer) serverUnset(ctx context.Context) error {
	logger.Debug("checking unset for %s", interfaces.ServerProperty)
	for _, e := range data.Endpoints {
		if err := s.api.Unset(ctx, interfaces.ServerProperty, e.Path()); err != nil {
			return errs.WithEndpoint(err, e.Name)
		}

		ev, err := s.expectEvent(ctx, interfaces.ServerProperty, e.Path())
		if err != nil {
			return errs.WithEndpoint(err, e.Name)
		}
		if !ev.Data.IsUnset() {
			return errs.WithEndpoint(errs.Mismatch("event payload", "unset", ev.Data), e.Name)
		}
	}
	return nil
}
