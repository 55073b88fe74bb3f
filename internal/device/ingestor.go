package device

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-sync/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-sync/internal/name"
	"github.com/nerrad567/gray-logic-sync/internal/namespace"
	"github.com/nerrad567/gray-logic-sync/internal/taskproc"
)

// discoveryTimeout bounds how long a newly seen device may wait for the
// worker to store it.
const discoveryTimeout = 10 * time.Second

// StateMessage is published by protocol bridges when device state changes.
// Topic: graylogic/state/{protocol}/{address}
//
// The descriptive fields are only used the first time a device is seen.
type StateMessage struct {
	DeviceID  string         `json:"device_id"`
	Timestamp time.Time      `json:"timestamp"`
	State     map[string]any `json:"state"`
	Protocol  string         `json:"protocol,omitempty"`
	Address   string         `json:"address,omitempty"`

	Name   string `json:"name,omitempty"`
	Type   string `json:"type,omitempty"`
	Domain string `json:"domain,omitempty"`
	RoomID string `json:"room_id,omitempty"`
}

// Scheduler applies device mutations through the task processor.
// *taskproc.Processor implements it.
type Scheduler interface {
	ScheduleSetAttribute(obj namespace.Object, attr string, value any) error
	StoreObject(ctx context.Context, obj namespace.Object) error
}

// Subscriber subscribes to MQTT topics. *mqtt.Client implements it.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// Ingestor turns bridge state messages into namespace mutations. Known
// devices get their state merged asynchronously; a device seen for the
// first time is stored synchronously so that its add is ordered before
// every later state update.
//
// The Ingestor learns which devices exist by observing the processor, so
// it must be registered with Processor.AddObserver.
//
// Thread Safety: HandleMessage and Observe may be called concurrently.
type Ingestor struct {
	sched  Scheduler
	logger Logger

	mu    sync.Mutex
	known map[string]*Device
}

// NewIngestor creates an ingestor that schedules mutations on sched.
func NewIngestor(sched Scheduler) *Ingestor {
	return &Ingestor{
		sched:  sched,
		logger: noopLogger{},
		known:  make(map[string]*Device),
	}
}

// SetLogger sets the logger for the ingestor.
func (i *Ingestor) SetLogger(logger Logger) {
	i.logger = logger
}

// Track marks dev as present in the namespace. Used for devices loaded
// before the processor started.
func (i *Ingestor) Track(dev *Device) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.known[dev.ID] = dev
}

// Known reports how many devices the ingestor is tracking.
func (i *Ingestor) Known() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.known)
}

// Start subscribes to every bridge state topic.
func (i *Ingestor) Start(sub Subscriber) error {
	topic := mqtt.Topics{}.AllBridgeStates()
	if err := sub.Subscribe(topic, 1, i.HandleMessage); err != nil {
		return fmt.Errorf("subscribing to %s: %w", topic, err)
	}
	i.logger.Info("device state ingestion started", "topic", topic)
	return nil
}

// HandleMessage processes one bridge state message.
func (i *Ingestor) HandleMessage(topic string, payload []byte) error {
	protocol, address, err := parseStateTopic(topic)
	if err != nil {
		return err
	}

	var msg StateMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidState, topic, err)
	}
	id := msg.DeviceID
	if id == "" {
		id = address
	}
	if err := name.New(TypeDevice, id).Validate(); err != nil {
		return fmt.Errorf("%w: device id %q: %w", ErrInvalidDevice, id, err)
	}
	if msg.State == nil {
		return fmt.Errorf("%w: %s: message has no state", ErrInvalidState, topic)
	}
	if err := ValidateState(msg.State); err != nil {
		return err
	}

	i.mu.Lock()
	dev, ok := i.known[id]
	i.mu.Unlock()

	if ok {
		return i.sched.ScheduleSetAttribute(dev, AttrState, map[string]any(msg.State))
	}
	return i.discover(id, protocol, &msg)
}

// discover stores a device seen for the first time.
func (i *Ingestor) discover(id string, protocol Protocol, msg *StateMessage) error {
	dev := New(id)
	dev.Protocol = protocol
	dev.Name = msg.Name
	if dev.Name == "" {
		dev.Name = id
	}
	if msg.Type != "" {
		dev.Type = DeviceType(msg.Type)
	}
	if msg.Domain != "" {
		dev.Domain = Domain(msg.Domain)
	}
	dev.Room = msg.RoomID
	if err := dev.mergeState(msg.State); err != nil {
		return err
	}
	if !msg.Timestamp.IsZero() {
		ts := msg.Timestamp.UTC()
		dev.StateUpdatedAt = &ts
	}
	if err := ValidateDevice(dev); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), discoveryTimeout)
	defer cancel()

	if err := i.sched.StoreObject(ctx, dev); err != nil {
		return fmt.Errorf("storing discovered device %s: %w", id, err)
	}
	i.logger.Info("device discovered", "device_id", id, "protocol", string(protocol))
	return nil
}

// Observe implements taskproc.Observer.
func (i *Ingestor) Observe(ev taskproc.Event) {
	if ev.Name.Type != TypeDevice {
		return
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	switch ev.Kind {
	case taskproc.KindAdded, taskproc.KindChanged:
		if dev, ok := ev.Object.(*Device); ok {
			i.known[dev.ID] = dev
		}
	case taskproc.KindRemoved:
		delete(i.known, ev.Name.Object)
	}
}

// parseStateTopic splits graylogic/state/{protocol}/{address}.
func parseStateTopic(topic string) (Protocol, string, error) {
	raw, address, ok := mqtt.ParseBridgeState(topic)
	if !ok {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidTopic, topic)
	}
	protocol := Protocol(raw)
	if err := ValidateProtocol(protocol); err != nil {
		return "", "", err
	}
	return protocol, address, nil
}
