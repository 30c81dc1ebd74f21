package reconciler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"smarthome/internal/device"
	"smarthome/internal/events"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeAPI serves a fixed device list. beforeCmd runs before a command is
// applied so tests can interleave broadcasts or inspect the optimistic view.
// afterCmd runs once the command has been applied but before its response
// is returned, with the 1-based command number, so tests can hold responses.
type fakeAPI struct {
	mu        sync.Mutex
	devices   []device.Device
	listErr   error
	cmdErr    error
	listCalls int
	cmdCalls  int
	beforeCmd func()
	afterCmd  func(call int)
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{devices: device.DefaultSeed()}
}

func (f *fakeAPI) List(context.Context) ([]device.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]device.Device, len(f.devices))
	for i, d := range f.devices {
		out[i] = d.Clone()
	}
	return out, nil
}

func (f *fakeAPI) Toggle(ctx context.Context, id int) (device.Device, error) {
	return f.apply(id, func(d device.Device) device.Device {
		d.IsOn = !d.IsOn
		return d
	})
}

func (f *fakeAPI) Update(ctx context.Context, id int, p device.Patch) (device.Device, error) {
	return f.apply(id, func(d device.Device) device.Device {
		return p.ApplyTo(d)
	})
}

func (f *fakeAPI) apply(id int, fn func(device.Device) device.Device) (device.Device, error) {
	if f.beforeCmd != nil {
		f.beforeCmd()
	}

	f.mu.Lock()
	f.cmdCalls++
	call := f.cmdCalls
	d, err := f.applyLocked(id, fn)
	f.mu.Unlock()

	if f.afterCmd != nil {
		f.afterCmd(call)
	}
	return d, err
}

func (f *fakeAPI) applyLocked(id int, fn func(device.Device) device.Device) (device.Device, error) {
	if f.cmdErr != nil {
		return device.Device{}, f.cmdErr
	}
	for i, d := range f.devices {
		if d.ID == id {
			f.devices[i] = fn(d)
			return f.devices[i].Clone(), nil
		}
	}
	return device.Device{}, device.ErrNotFound
}

func (f *fakeAPI) serverDevice(id int) device.Device {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range f.devices {
		if d.ID == id {
			return d.Clone()
		}
	}
	return device.Device{}
}

type emitted struct {
	kind    events.Kind
	payload any
}

type fakeEmitter struct {
	mu   sync.Mutex
	sent []emitted
	err  error
}

func (f *fakeEmitter) Emit(kind events.Kind, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, emitted{kind: kind, payload: payload})
	return nil
}

func newReconciler(t *testing.T) (*Reconciler, *fakeAPI, *fakeEmitter) {
	t.Helper()
	api := newFakeAPI()
	em := &fakeEmitter{}
	r := New(api, em, zap.NewNop())
	require.NoError(t, r.Load(context.Background()))
	return r, api, em
}

func event(t *testing.T, kind events.Kind, payload any) events.Message {
	t.Helper()
	msg, err := events.NewMessage(kind, payload)
	require.NoError(t, err)
	return msg
}

func mustDevice(t *testing.T, r *Reconciler, id int) device.Device {
	t.Helper()
	d, ok := r.Device(id)
	require.True(t, ok, "device %d", id)
	return d
}

func TestLoad(t *testing.T) {
	r, _, _ := newReconciler(t)
	assert.Equal(t, device.DefaultSeed(), r.Devices())
	assert.NoError(t, r.Err())
}

func TestLoad_FailureKeepsBaseline(t *testing.T) {
	r, api, _ := newReconciler(t)
	api.listErr = errors.New("connection refused")

	err := r.Load(context.Background())
	assert.Error(t, err)
	assert.Equal(t, err, r.Err())
	assert.Len(t, r.Devices(), 6)
}

func TestToggle_OptimisticThenConfirmed(t *testing.T) {
	r, api, _ := newReconciler(t)

	api.beforeCmd = func() {
		// The optimistic value is visible before the server answers.
		assert.True(t, mustDevice(t, r, 1).IsOn)
		assert.True(t, r.Pending(1))
	}

	require.NoError(t, r.Toggle(context.Background(), 1))
	assert.True(t, mustDevice(t, r, 1).IsOn)
	assert.False(t, r.Pending(1))
}

// heldToggles issues two toggles of device 1 whose responses are held until
// release is called with the toggle's number. It returns once the server has
// applied both.
func heldToggles(t *testing.T, r *Reconciler, api *fakeAPI) (release func(call int) error) {
	t.Helper()
	gates := map[int]chan struct{}{1: make(chan struct{}), 2: make(chan struct{})}
	applied := make(chan int, 2)
	api.afterCmd = func(call int) {
		applied <- call
		<-gates[call]
	}

	results := map[int]chan error{1: make(chan error, 1), 2: make(chan error, 1)}
	for call := 1; call <= 2; call++ {
		done := results[call]
		go func() { done <- r.Toggle(context.Background(), 1) }()
		require.Equal(t, call, <-applied)
	}

	return func(call int) error {
		close(gates[call])
		select {
		case err := <-results[call]:
			return err
		case <-time.After(time.Second):
			t.Fatalf("toggle %d never settled", call)
			return nil
		}
	}
}

func TestToggle_ResponsesSettleInArrivalOrder(t *testing.T) {
	t.Run("newer response arrives first", func(t *testing.T) {
		r, api, _ := newReconciler(t)
		release := heldToggles(t, r, api)

		// Off -> on -> off, both still in flight.
		assert.False(t, mustDevice(t, r, 1).IsOn)
		assert.True(t, r.Pending(1))
		assert.False(t, api.serverDevice(1).IsOn)

		require.NoError(t, release(2))
		assert.False(t, mustDevice(t, r, 1).IsOn)
		assert.False(t, r.Pending(1))

		// The slow response lands last and wins, even though the server has
		// since moved on.
		require.NoError(t, release(1))
		assert.True(t, mustDevice(t, r, 1).IsOn)
		assert.False(t, r.Pending(1))
		assert.False(t, api.serverDevice(1).IsOn)
	})

	t.Run("responses arrive in issue order", func(t *testing.T) {
		r, api, _ := newReconciler(t)
		release := heldToggles(t, r, api)

		// The first response must not clear the second toggle's pending value.
		require.NoError(t, release(1))
		assert.False(t, mustDevice(t, r, 1).IsOn)
		assert.True(t, r.Pending(1))

		require.NoError(t, release(2))
		assert.False(t, mustDevice(t, r, 1).IsOn)
		assert.False(t, r.Pending(1))
	})
}

func TestToggle_FailureRollsBack(t *testing.T) {
	r, api, _ := newReconciler(t)
	api.cmdErr = errors.New("server returned 500")
	loadsBefore := api.listCalls

	err := r.Toggle(context.Background(), 1)
	require.Error(t, err)

	assert.False(t, mustDevice(t, r, 1).IsOn)
	assert.False(t, r.Pending(1))
	assert.Equal(t, loadsBefore+1, api.listCalls)
	assert.NoError(t, r.Err())
}

func TestToggle_FailureAndRefetchFailure(t *testing.T) {
	r, api, _ := newReconciler(t)
	api.cmdErr = errors.New("server returned 500")
	api.listErr = errors.New("connection refused")

	require.Error(t, r.Toggle(context.Background(), 1))
	assert.False(t, mustDevice(t, r, 1).IsOn)
	assert.EqualError(t, r.Err(), "connection refused")
}

func TestCommands_UnknownDevice(t *testing.T) {
	r, _, em := newReconciler(t)
	ctx := context.Background()

	assert.ErrorIs(t, r.Toggle(ctx, 99), device.ErrNotFound)
	assert.ErrorIs(t, r.SetPower(ctx, 99, true), device.ErrNotFound)
	assert.ErrorIs(t, r.SetTemperature(ctx, 99, 20), device.ErrNotFound)
	assert.ErrorIs(t, r.SetColor(ctx, 99, "#000000"), device.ErrNotFound)
	assert.ErrorIs(t, r.AdjustBrightness(ctx, 99, 50), device.ErrNotFound)
	assert.Empty(t, em.sent)
}

func TestSetTemperature(t *testing.T) {
	r, api, _ := newReconciler(t)
	ctx := context.Background()

	api.beforeCmd = func() {
		assert.Equal(t, 25.0, mustDevice(t, r, 2).Thermostat.Temperature)
	}
	require.NoError(t, r.SetTemperature(ctx, 2, 25))
	assert.Equal(t, 25.0, mustDevice(t, r, 2).Thermostat.Temperature)
	assert.False(t, r.Pending(2))

	assert.ErrorIs(t, r.SetTemperature(ctx, 1, 25), device.ErrInvalidType)
}

func TestSetPower(t *testing.T) {
	r, _, _ := newReconciler(t)
	require.NoError(t, r.SetPower(context.Background(), 3, false))
	assert.False(t, mustDevice(t, r, 3).IsOn)
}

func TestSetColor(t *testing.T) {
	r, _, em := newReconciler(t)
	ctx := context.Background()

	require.NoError(t, r.SetColor(ctx, 6, "#00FF00"))
	assert.Equal(t, "#00FF00", mustDevice(t, r, 6).LED.Color)
	assert.False(t, r.Pending(6))

	require.Len(t, em.sent, 1)
	assert.Equal(t, events.KindChangeLEDColor, em.sent[0].kind)
	assert.Equal(t, events.ColorPayload{DeviceID: 6, ID: 6, Color: "#00FF00"}, em.sent[0].payload)

	assert.ErrorIs(t, r.SetColor(ctx, 6, "green"), device.ErrInvalidInput)
	assert.ErrorIs(t, r.SetColor(ctx, 1, "#00FF00"), device.ErrInvalidType)
	assert.Len(t, em.sent, 1)
}

func TestSetColor_SendFailureRollsBack(t *testing.T) {
	r, api, em := newReconciler(t)
	em.err = errors.New("event stream not connected")
	loadsBefore := api.listCalls

	require.Error(t, r.SetColor(context.Background(), 6, "#00FF00"))
	assert.Equal(t, "#FF8800", mustDevice(t, r, 6).LED.Color)
	assert.Equal(t, loadsBefore+1, api.listCalls)
}

func TestAdjustBrightness(t *testing.T) {
	r, _, em := newReconciler(t)
	before := r.Devices()

	require.NoError(t, r.AdjustBrightness(context.Background(), 1, 40))
	assert.Equal(t, before, r.Devices())

	require.Len(t, em.sent, 1)
	assert.Equal(t, events.KindAdjustLampBrightness, em.sent[0].kind)
	assert.Equal(t, map[string]any{"deviceId": 1, "id": 1, "brightness": 40.0}, em.sent[0].payload)
}

func TestHandleEvent(t *testing.T) {
	tests := []struct {
		name  string
		msg   events.Message
		id    int
		check func(t *testing.T, d device.Device)
	}{
		{
			name: "update",
			msg:  events.Message{Event: events.KindUpdate, Data: []byte(`{"deviceId":4,"isOn":true}`)},
			id:   4,
			check: func(t *testing.T, d device.Device) {
				assert.True(t, d.IsOn)
			},
		},
		{
			name: "thermostat_update",
			msg: events.Message{Event: events.KindThermostatUpdate,
				Data: []byte(`{"deviceId":2,"id":2,"temperature":22,"currentTemperature":20.1}`)},
			id: 2,
			check: func(t *testing.T, d device.Device) {
				assert.Equal(t, 20.1, d.Thermostat.CurrentTemperature)
				assert.Equal(t, 22.0, d.Thermostat.Temperature)
			},
		},
		{
			name: "room_led",
			msg:  events.Message{Event: events.KindRoomLED, Data: []byte(`{"deviceId":6,"color":"#0000FF"}`)},
			id:   6,
			check: func(t *testing.T, d device.Device) {
				assert.Equal(t, "#0000FF", d.LED.Color)
			},
		},
		{
			name: "lock_update carries the whole device",
			msg: events.Message{Event: events.KindLockUpdate,
				Data: []byte(`{"id":3,"name":"Front Door Lock","type":"lock","isOn":false,"room":"Entrance"}`)},
			id: 3,
			check: func(t *testing.T, d device.Device) {
				assert.False(t, d.IsOn)
				assert.Equal(t, "Front Door Lock", d.Name)
			},
		},
		{
			name: "device_update",
			msg:  events.Message{Event: events.KindDeviceUpdate, Data: []byte(`{"deviceId":2,"isOn":false}`)},
			id:   2,
			check: func(t *testing.T, d device.Device) {
				assert.False(t, d.IsOn)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _, _ := newReconciler(t)
			r.HandleEvent(tt.msg)
			tt.check(t, mustDevice(t, r, tt.id))
		})
	}
}

func TestHandleEvent_Ignored(t *testing.T) {
	r, _, _ := newReconciler(t)
	before := r.Devices()

	for _, msg := range []events.Message{
		{Event: events.KindUpdate, Data: []byte(`{"deviceId":99,"isOn":true}`)},
		{Event: events.KindUpdate, Data: []byte(`{"isOn":true}`)},
		{Event: events.KindUpdate, Data: []byte(`[1,2]`)},
		{Event: events.KindLampToggle, Data: []byte(`{"deviceId":1,"isOn":true}`)},
		{Event: "something_else", Data: []byte(`{"deviceId":1,"isOn":true}`)},
	} {
		r.HandleEvent(msg)
	}
	assert.Equal(t, before, r.Devices())
}

func TestHandleEvent_ClearsOnlyMatchingPendingFields(t *testing.T) {
	r, api, _ := newReconciler(t)
	ctx := context.Background()

	// Hold the setpoint change in flight while a tick arrives for the same
	// thermostat.
	api.beforeCmd = func() {
		r.HandleEvent(event(t, events.KindThermostatUpdate,
			events.ThermostatPayload{DeviceID: 2, ID: 2, Temperature: 22, CurrentTemperature: 20.1}))

		d := mustDevice(t, r, 2)
		assert.Equal(t, 20.1, d.Thermostat.CurrentTemperature)
		// temperature was pending and the tick carried it, so the
		// broadcast value wins until the server answers.
		assert.Equal(t, 22.0, d.Thermostat.Temperature)
	}
	require.NoError(t, r.SetTemperature(ctx, 2, 26))

	d := mustDevice(t, r, 2)
	assert.Equal(t, 26.0, d.Thermostat.Temperature)
	assert.False(t, r.Pending(2))
}

func TestHandleEvent_OtherFieldKeepsPending(t *testing.T) {
	r, api, _ := newReconciler(t)

	api.beforeCmd = func() {
		r.HandleEvent(event(t, events.KindUpdate, map[string]any{"deviceId": 2, "currentTemperature": 21.0}))
		assert.True(t, r.Pending(2))
		assert.False(t, mustDevice(t, r, 2).IsOn)
	}
	require.NoError(t, r.SetPower(context.Background(), 2, false))
	assert.False(t, mustDevice(t, r, 2).IsOn)
}

func TestOnChange(t *testing.T) {
	r, _, _ := newReconciler(t)

	var calls int
	var last []device.Device
	unsubscribe := r.OnChange(func(devices []device.Device) {
		calls++
		last = devices
	})

	r.HandleEvent(event(t, events.KindUpdate, map[string]any{"deviceId": 5, "isOn": true}))
	assert.Equal(t, 1, calls)
	assert.True(t, last[4].IsOn)

	unsubscribe()
	r.HandleEvent(event(t, events.KindUpdate, map[string]any{"deviceId": 5, "isOn": false}))
	assert.Equal(t, 1, calls)
}

func TestByRoom(t *testing.T) {
	devices := append(device.DefaultSeed(), device.Device{ID: 7, Name: "Porch Light", Type: device.TypeLight})

	groups := ByRoom(devices)
	require.Len(t, groups, 5)

	names := make([]string, len(groups))
	for i, g := range groups {
		names[i] = g.Room
	}
	assert.Equal(t, []string{"Living Room", "Entrance", "Bedroom", "Kitchen", UnassignedRoom}, names)
	assert.Len(t, groups[0].Devices, 2)
	assert.Equal(t, []int{4, 6}, []int{groups[2].Devices[0].ID, groups[2].Devices[1].ID})
	assert.Empty(t, ByRoom(nil))
}
