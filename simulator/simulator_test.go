package simulator

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddielth/msghub-e2e/api"
	"github.com/eddielth/msghub-e2e/config"
	"github.com/eddielth/msghub-e2e/data"
	"github.com/eddielth/msghub-e2e/interfaces"
	"github.com/eddielth/msghub-e2e/mqtt"
	"github.com/eddielth/msghub-e2e/value"
	"github.com/eddielth/msghub-e2e/wire"
)

const (
	realm    = "test"
	deviceID = "rMeNrhlMSUKPM59xlinjFg"
	base     = realm + "/" + deviceID
)

type published struct {
	topic   string
	qos     byte
	payload []byte
}

type fakeBroker struct {
	mu      sync.Mutex
	handler mqtt.MessageHandler
	topic   string
	out     []published
}

func (f *fakeBroker) Publish(_ context.Context, topic string, qos byte, _ bool, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.out = append(f.out, published{topic: topic, qos: qos, payload: payload})
	return nil
}

func (f *fakeBroker) Subscribe(_ context.Context, topic string, _ byte, handler mqtt.MessageHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.topic = topic
	f.handler = handler
	return nil
}

func (f *fakeBroker) deliver(topic string, payload []byte) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	h(topic, payload)
}

func (f *fakeBroker) last() published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.out[len(f.out)-1]
}

type fixture struct {
	broker *fakeBroker
	sim    *Server
	client *api.Client
	url    string
}

func start(t *testing.T) *fixture {
	t.Helper()
	catalog, err := interfaces.Default()
	require.NoError(t, err)

	broker := &fakeBroker{}
	sim := New(broker, catalog, realm, "secret")
	require.NoError(t, sim.Start(context.Background()))
	assert.Equal(t, "test/#", broker.topic)

	srv := httptest.NewServer(sim.Handler())
	t.Cleanup(srv.Close)

	client, err := api.New(config.APIConfig{URL: srv.URL, Token: "secret", Timeout: time.Second}, realm, deviceID)
	require.NoError(t, err)
	return &fixture{broker: broker, sim: sim, client: client, url: srv.URL}
}

func (fx *fixture) publish(t *testing.T, iface, path string, p wire.Payload) {
	t.Helper()
	raw, err := wire.Encode(p)
	require.NoError(t, err)
	fx.broker.deliver(mqtt.DataTopic(base, iface, path), raw)
}

func fixtureObject(t *testing.T) *value.Object {
	obj, err := data.Default().ToObject()
	require.NoError(t, err)
	return obj
}

func TestIntrospection(t *testing.T) {
	fx := start(t)
	ctx := context.Background()

	_, err := fx.client.Interfaces(ctx)
	var status *api.StatusError
	require.ErrorAs(t, err, &status)
	assert.Equal(t, http.StatusNotFound, status.Code)

	fx.broker.deliver(base, []byte(interfaces.DeviceAggregate+":0:1;"+interfaces.ServerProperty+":0:1"))
	names, err := fx.client.Interfaces(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{interfaces.DeviceAggregate, interfaces.ServerProperty}, names)

	// a malformed introspection keeps the previous one
	fx.broker.deliver(base, []byte("org.broken:1"))
	names, err = fx.client.Interfaces(ctx)
	require.NoError(t, err)
	assert.Len(t, names, 2)
}

func TestAggregateLatestSample(t *testing.T) {
	fx := start(t)

	older := fixtureObject(t)
	older.Insert(data.IntegerEndpoint, value.Integer(1))
	fx.publish(t, interfaces.DeviceAggregate, interfaces.AggregatePath, wire.Object(older))
	fx.publish(t, interfaces.DeviceAggregate, interfaces.AggregatePath, wire.Object(fixtureObject(t)))

	got, err := fx.client.AggregateValue(context.Background(), interfaces.DeviceAggregate, interfaces.AggregatePath)
	require.NoError(t, err)
	assert.True(t, got.Equal(data.Default()), "got %s", got)
}

func TestDatastreamValues(t *testing.T) {
	fx := start(t)
	obj := fixtureObject(t)

	for _, e := range data.Endpoints {
		v, _ := obj.Get(e.Name)
		fx.publish(t, interfaces.DeviceDatastream, e.Path(), wire.Individual(v))
	}
	// wrong kind for the mapping is dropped
	fx.publish(t, interfaces.DeviceDatastream, "/integer_endpoint", wire.Individual(value.LongInteger(7)))

	got, err := fx.client.IndividualValues(context.Background(), interfaces.DeviceDatastream)
	require.NoError(t, err)
	assert.True(t, obj.Equal(got), "got %s", got)
}

func TestPropertyUnsetAndPurge(t *testing.T) {
	fx := start(t)
	ctx := context.Background()

	fx.publish(t, interfaces.DeviceProperty, "/double_endpoint", wire.Individual(value.Double(4.5)))
	fx.publish(t, interfaces.DeviceProperty, "/boolean_endpoint", wire.Individual(value.Boolean(true)))
	fx.publish(t, interfaces.DeviceProperty, "/string_endpoint", wire.Individual(value.String("x")))

	fx.broker.deliver(mqtt.DataTopic(base, interfaces.DeviceProperty, "/double_endpoint"), nil)
	got, err := fx.client.Property(ctx, interfaces.DeviceProperty)
	require.NoError(t, err)
	assert.Equal(t, []string{data.BooleanEndpoint, data.StringEndpoint}, got.Names())

	fx.broker.deliver(base+"/"+producerProperties, []byte(interfaces.DeviceProperty+"/string_endpoint"))
	got, err = fx.client.Property(ctx, interfaces.DeviceProperty)
	require.NoError(t, err)
	assert.Equal(t, []string{data.StringEndpoint}, got.Names())
}

func TestInjectIndividual(t *testing.T) {
	fx := start(t)
	ctx := context.Background()

	require.NoError(t, fx.client.SendIndividual(ctx, interfaces.ServerDatastream, "/longinteger_endpoint", value.LongInteger(45543543534)))
	msg := fx.broker.last()
	assert.Equal(t, base+"/"+interfaces.ServerDatastream+"/longinteger_endpoint", msg.topic)

	p, err := wire.Decode(msg.payload)
	require.NoError(t, err)
	assert.True(t, p.Equal(wire.Individual(value.LongInteger(45543543534))), "got %s", p)

	// the echo of our own publish is not device data
	fx.broker.deliver(msg.topic, msg.payload)
	_, err = fx.client.IndividualValues(ctx, interfaces.DeviceDatastream)
	require.NoError(t, err)
}

func TestInjectObject(t *testing.T) {
	fx := start(t)
	obj := fixtureObject(t)

	require.NoError(t, fx.client.SendObject(context.Background(), interfaces.ServerAggregate, interfaces.AggregatePath, obj))
	msg := fx.broker.last()
	assert.Equal(t, base+"/"+interfaces.ServerAggregate+interfaces.AggregatePath, msg.topic)

	p, err := wire.Decode(msg.payload)
	require.NoError(t, err)
	assert.True(t, p.Equal(wire.Object(obj)))
}

func TestInjectUnset(t *testing.T) {
	fx := start(t)
	ctx := context.Background()

	require.NoError(t, fx.client.SendIndividual(ctx, interfaces.ServerProperty, "/boolean_endpoint", value.Boolean(false)))
	got, err := fx.client.Property(ctx, interfaces.ServerProperty)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Len())

	require.NoError(t, fx.client.Unset(ctx, interfaces.ServerProperty, "/boolean_endpoint"))
	msg := fx.broker.last()
	assert.Equal(t, base+"/"+interfaces.ServerProperty+"/boolean_endpoint", msg.topic)
	assert.Empty(t, msg.payload)
	assert.Equal(t, byte(2), msg.qos)

	got, err = fx.client.Property(ctx, interfaces.ServerProperty)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Len())
}

func TestInjectRejected(t *testing.T) {
	fx := start(t)
	ctx := context.Background()

	cases := []struct {
		name string
		call func() error
		code int
	}{
		{"datastream unset", func() error {
			return fx.client.Unset(ctx, interfaces.ServerDatastream, "/boolean_endpoint")
		}, http.StatusNotFound},
		{"device owned", func() error {
			return fx.client.SendIndividual(ctx, interfaces.DeviceDatastream, "/boolean_endpoint", value.Boolean(true))
		}, http.StatusNotFound},
		{"wrong kind", func() error {
			return fx.client.SendIndividual(ctx, interfaces.ServerDatastream, "/boolean_endpoint", value.Integer(1))
		}, http.StatusUnprocessableEntity},
		{"unknown path", func() error {
			return fx.client.SendIndividual(ctx, interfaces.ServerDatastream, "/nope", value.Integer(1))
		}, http.StatusUnprocessableEntity},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var status *api.StatusError
			require.ErrorAs(t, tc.call(), &status)
			assert.Equal(t, tc.code, status.Code)
		})
	}
}

func TestRequiresToken(t *testing.T) {
	fx := start(t)
	fx.broker.deliver(base, []byte(interfaces.DeviceAggregate+":0:1"))

	client, err := api.New(config.APIConfig{URL: fx.url, Token: "wrong"}, realm, deviceID)
	require.NoError(t, err)

	_, err = client.Interfaces(context.Background())
	var status *api.StatusError
	require.ErrorAs(t, err, &status)
	assert.Equal(t, http.StatusUnauthorized, status.Code)
}
