package store

import (
	"errors"
	"sync"
	"testing"
	"time"

	"smarthome/internal/device"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(device.DefaultSeed(), zap.NewNop())
	require.NoError(t, err)
	return s
}

func TestNew(t *testing.T) {
	t.Run("keeps seed order", func(t *testing.T) {
		seed := []device.Device{
			{ID: 5, Type: device.TypeLight},
			{ID: 2, Type: device.TypeLock},
		}
		s, err := New(seed, zap.NewNop())
		require.NoError(t, err)

		all := s.All()
		require.Len(t, all, 2)
		assert.Equal(t, 5, all[0].ID)
		assert.Equal(t, 2, all[1].ID)
	})

	t.Run("rejects duplicate ids", func(t *testing.T) {
		seed := []device.Device{
			{ID: 1, Type: device.TypeLight},
			{ID: 1, Type: device.TypeLock},
		}
		_, err := New(seed, zap.NewNop())
		assert.ErrorIs(t, err, device.ErrInvalidInput)
	})

	t.Run("rejects invalid variant", func(t *testing.T) {
		_, err := New([]device.Device{{ID: 2, Type: device.TypeThermostat}}, zap.NewNop())
		assert.Error(t, err)
	})
}

func TestStore_Get(t *testing.T) {
	s := newTestStore(t)

	d, err := s.Get(2)
	require.NoError(t, err)
	assert.Equal(t, "Thermostat", d.Name)

	_, err = s.Get(99)
	assert.ErrorIs(t, err, device.ErrNotFound)
}

func TestStore_ReturnsCopies(t *testing.T) {
	s := newTestStore(t)

	d, err := s.Get(2)
	require.NoError(t, err)
	d.Thermostat.Temperature = 40
	d.IsOn = !d.IsOn

	all := s.All()
	all[1].Thermostat.CurrentTemperature = -5

	fresh, err := s.Get(2)
	require.NoError(t, err)
	assert.Equal(t, 22.0, fresh.Thermostat.Temperature)
	assert.Equal(t, 20.0, fresh.Thermostat.CurrentTemperature)
	assert.True(t, fresh.IsOn)
}

func TestStore_Toggle(t *testing.T) {
	s := newTestStore(t)

	for _, d := range s.All() {
		first, err := s.Toggle(d.ID)
		require.NoError(t, err)
		assert.Equal(t, !d.IsOn, first.IsOn)

		second, err := s.Toggle(d.ID)
		require.NoError(t, err)
		assert.Equal(t, d.IsOn, second.IsOn, "toggle twice must restore device %d", d.ID)
	}

	_, err := s.Toggle(99)
	assert.ErrorIs(t, err, device.ErrNotFound)
}

func TestStore_SetIsOn(t *testing.T) {
	s := newTestStore(t)

	d, err := s.SetIsOn(1, true)
	require.NoError(t, err)
	assert.True(t, d.IsOn)

	got, _ := s.Get(1)
	assert.True(t, got.IsOn, "mutation must be visible immediately")

	before := s.All()
	_, err = s.SetIsOn(99, true)
	assert.ErrorIs(t, err, device.ErrNotFound)
	assert.Equal(t, before, s.All())
}

func TestStore_SetThermostat(t *testing.T) {
	s := newTestStore(t)

	t.Run("partial update", func(t *testing.T) {
		d, err := s.SetThermostat(2, ThermostatPatch{Temperature: device.Float(24)})
		require.NoError(t, err)
		assert.Equal(t, 24.0, d.Thermostat.Temperature)
		assert.Equal(t, 20.0, d.Thermostat.CurrentTemperature)
	})

	t.Run("all fields", func(t *testing.T) {
		d, err := s.SetThermostat(2, ThermostatPatch{
			Temperature:        device.Float(18),
			CurrentTemperature: device.Float(19.5),
			IsOn:               device.Bool(true),
		})
		require.NoError(t, err)
		assert.Equal(t, 18.0, d.Thermostat.Temperature)
		assert.Equal(t, 19.5, d.Thermostat.CurrentTemperature)
		assert.True(t, d.IsOn)
	})

	t.Run("temperature on a light is rejected", func(t *testing.T) {
		before, _ := s.Get(1)
		_, err := s.SetThermostat(1, ThermostatPatch{Temperature: device.Float(30), IsOn: device.Bool(true)})
		assert.ErrorIs(t, err, device.ErrInvalidType)

		after, _ := s.Get(1)
		assert.Equal(t, before, after, "rejected write must not partially apply")
	})

	t.Run("isOn alone accepted for any type", func(t *testing.T) {
		d, err := s.SetThermostat(3, ThermostatPatch{IsOn: device.Bool(false)})
		require.NoError(t, err)
		assert.False(t, d.IsOn)
	})

	t.Run("unknown id", func(t *testing.T) {
		_, err := s.SetThermostat(99, ThermostatPatch{Temperature: device.Float(20)})
		assert.ErrorIs(t, err, device.ErrNotFound)
	})
}

func TestStore_SetColor(t *testing.T) {
	s := newTestStore(t)

	d, err := s.SetColor(6, "#112233")
	require.NoError(t, err)
	assert.Equal(t, "#112233", d.LED.Color)

	_, err = s.SetColor(6, "green")
	assert.ErrorIs(t, err, device.ErrInvalidInput)

	_, err = s.SetColor(1, "#112233")
	assert.ErrorIs(t, err, device.ErrInvalidType)
}

func TestStore_Mutate(t *testing.T) {
	s := newTestStore(t)

	t.Run("error discards the copy", func(t *testing.T) {
		boom := errors.New("boom")
		_, changed, err := s.Mutate(1, func(d *device.Device) error {
			d.IsOn = true
			return boom
		})
		assert.ErrorIs(t, err, boom)
		assert.False(t, changed)

		d, _ := s.Get(1)
		assert.False(t, d.IsOn)
	})

	t.Run("id and type are immutable", func(t *testing.T) {
		d, _, err := s.Mutate(1, func(d *device.Device) error {
			d.ID = 42
			d.Type = device.TypeLock
			d.Name = "Renamed"
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 1, d.ID)
		assert.Equal(t, device.TypeLight, d.Type)
		assert.Equal(t, "Renamed", d.Name)
	})

	t.Run("invalid variant is rejected", func(t *testing.T) {
		_, _, err := s.Mutate(1, func(d *device.Device) error {
			d.LED = &device.LEDState{Color: "#FFFFFF"}
			return nil
		})
		assert.ErrorIs(t, err, device.ErrInvalidType)
	})

	t.Run("no-op reports unchanged", func(t *testing.T) {
		current, _ := s.Get(3)
		_, changed, err := s.Mutate(3, func(d *device.Device) error {
			d.IsOn = current.IsOn
			return nil
		})
		require.NoError(t, err)
		assert.False(t, changed)
	})
}

func TestStore_Subscribe(t *testing.T) {
	s := newTestStore(t)

	var mu sync.Mutex
	var changes []Change
	sub := s.Subscribe(func(c Change) {
		mu.Lock()
		changes = append(changes, c)
		mu.Unlock()
	})

	_, err := s.Toggle(1)
	require.NoError(t, err)
	_, err = s.SetIsOn(1, true) // already on: no change
	require.NoError(t, err)
	_, err = s.SetThermostat(2, ThermostatPatch{Temperature: device.Float(25)})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(changes) == 2
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	seqs := map[uint64]Change{}
	for _, c := range changes {
		seqs[c.Seq] = c
	}
	mu.Unlock()

	require.Contains(t, seqs, uint64(1))
	require.Contains(t, seqs, uint64(2))
	assert.False(t, seqs[1].Old.IsOn)
	assert.True(t, seqs[1].New.IsOn)
	assert.Equal(t, 25.0, seqs[2].New.Thermostat.Temperature)

	sub.Unsubscribe()
	_, err = s.Toggle(1)
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	assert.Len(t, changes, 2, "no delivery after unsubscribe")
	mu.Unlock()
}

func TestStore_ConcurrentToggles(t *testing.T) {
	s := newTestStore(t)

	const workers = 50
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = s.Toggle(1)
		}()
		go func() {
			defer wg.Done()
			_, _ = s.Toggle(4)
		}()
	}
	wg.Wait()

	// An even number of serialized toggles lands back on the seed value.
	light, _ := s.Get(1)
	bedroom, _ := s.Get(4)
	assert.False(t, light.IsOn)
	assert.False(t, bedroom.IsOn)
}

func TestStore_CommitAnnouncesInCommitOrder(t *testing.T) {
	s := newTestStore(t)

	var mu sync.Mutex
	var seqs []uint64
	var temps []float64
	announce := func(c Change) {
		mu.Lock()
		defer mu.Unlock()
		seqs = append(seqs, c.Seq)
		temps = append(temps, c.New.Thermostat.Temperature)
	}

	const writers = 50
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(target float64) {
			defer wg.Done()
			_, _, err := s.Commit(2, ThermostatPatch{Temperature: &target}.Apply, announce)
			assert.NoError(t, err)
		}(30 + float64(i))
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seqs, writers)
	for i := 1; i < len(seqs); i++ {
		assert.Equal(t, seqs[i-1]+1, seqs[i], "announcement %d out of order", i)
	}

	// The last announcement describes the state that stuck.
	final, _ := s.Get(2)
	assert.Equal(t, final.Thermostat.Temperature, temps[len(temps)-1])
}

func TestStore_CommitSkipsAnnounceWithoutChange(t *testing.T) {
	s := newTestStore(t)

	called := false
	_, changed, err := s.Commit(1, func(d *device.Device) error { return nil }, func(Change) { called = true })
	require.NoError(t, err)
	assert.False(t, changed)
	assert.False(t, called)

	_, _, err = s.Commit(99, func(d *device.Device) error { return nil }, func(Change) { called = true })
	assert.ErrorIs(t, err, device.ErrNotFound)
	assert.False(t, called)
}
