// Package mqttmirror publishes every device's state as a retained MQTT
// message so other home automation tools can follow the simulated house.
//
// The mirror is one-way: nothing received from the broker changes the store.
package mqttmirror

import (
	"encoding/json"
	"sync"

	"smarthome/internal/device"
	"smarthome/internal/metrics"
	"smarthome/internal/store"

	"go.uber.org/zap"
)

// Mirror copies store changes to per-device state topics.
//
// Store notifications run on their own goroutines and can arrive out of
// order, so the mirror keeps only the newest change per device (by Seq)
// and a single worker publishes it.
type Mirror struct {
	store     *store.Store
	publisher Publisher
	topics    Topics
	logger    *zap.Logger

	mu        sync.Mutex
	latest    map[int]store.Change
	published map[int]uint64
	queued    []int

	wake chan struct{}
	done chan struct{}
	wg   sync.WaitGroup
	sub  store.Subscription

	startOnce sync.Once
	stopOnce  sync.Once
}

// New creates a mirror. Start begins publishing.
func New(s *store.Store, publisher Publisher, topics Topics, logger *zap.Logger) *Mirror {
	return &Mirror{
		store:     s,
		publisher: publisher,
		topics:    topics,
		logger:    logger,
		latest:    make(map[int]store.Change),
		published: make(map[int]uint64),
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
}

// Start publishes the current state of every device, then follows changes.
func (m *Mirror) Start() {
	m.startOnce.Do(func() {
		m.sub = m.store.Subscribe(m.handleChange)

		m.wg.Add(1)
		go m.run()

		for _, d := range m.store.All() {
			m.enqueue(store.Change{New: d})
		}
		m.logger.Info("MQTT mirror started", zap.String("topics", m.topics.AllDeviceStates()))
	})
}

// Stop unsubscribes from the store and waits for the worker to finish the
// changes already queued.
func (m *Mirror) Stop() {
	m.stopOnce.Do(func() {
		if m.sub != nil {
			m.sub.Unsubscribe()
		}
		close(m.done)
		m.wg.Wait()
	})
}

func (m *Mirror) handleChange(change store.Change) {
	m.enqueue(change)
}

// enqueue records change unless a newer one for the same device is already
// known. Seq 0 marks the initial snapshot, which never replaces a change.
func (m *Mirror) enqueue(change store.Change) {
	id := change.New.ID

	m.mu.Lock()
	prev, pending := m.latest[id]
	var stale bool
	if change.Seq == 0 {
		stale = pending || m.published[id] > 0
	} else {
		stale = change.Seq <= m.published[id] || (pending && prev.Seq >= change.Seq)
	}
	if stale {
		m.mu.Unlock()
		return
	}
	if !pending {
		m.queued = append(m.queued, id)
	}
	m.latest[id] = change
	m.mu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *Mirror) run() {
	defer m.wg.Done()
	for {
		select {
		case <-m.wake:
			m.flush()
		case <-m.done:
			m.flush()
			return
		}
	}
}

// flush publishes every queued device state in arrival order.
func (m *Mirror) flush() {
	for {
		m.mu.Lock()
		if len(m.queued) == 0 {
			m.mu.Unlock()
			return
		}
		id := m.queued[0]
		m.queued = m.queued[1:]
		change := m.latest[id]
		delete(m.latest, id)
		// Claimed before publishing so a late, older change cannot follow it.
		if change.Seq > m.published[id] {
			m.published[id] = change.Seq
		}
		m.mu.Unlock()

		if err := m.publish(change.New); err != nil {
			metrics.MQTTPublishFailures.Inc()
			m.logger.Warn("Failed to publish device state",
				zap.Int("id", id),
				zap.Uint64("seq", change.Seq),
				zap.Error(err))
		}
	}
}

func (m *Mirror) publish(d device.Device) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return err
	}
	return m.publisher.Publish(m.topics.DeviceState(d.ID), payload, true)
}
