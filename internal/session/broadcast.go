package session

import (
	"encoding/json"

	"go.uber.org/zap"
)

// Sender delivers an encoded event to one connection. Send must never
// block: delivery is best-effort and a slow connection is dropped, not
// waited on. Implemented by the realtime hub.
type Sender interface {
	Send(connID, event string, data []byte)
	Close(connID string)
}

// Broadcaster fans state-change events out to subsets of connections. It
// is stateless; membership is resolved from the registry at send time.
// Calls are made while the coordinator lock is held, which is what gives
// every recipient the same event order as the mutations that produced
// them.
type Broadcaster struct {
	sender Sender
	reg    *Registry
	logger *zap.Logger
}

// NewBroadcaster creates a broadcaster over sender using reg for
// membership resolution.
func NewBroadcaster(sender Sender, reg *Registry, logger *zap.Logger) *Broadcaster {
	return &Broadcaster{sender: sender, reg: reg, logger: logger}
}

func (b *Broadcaster) encode(event string, payload interface{}) []byte {
	data, err := json.Marshal(payload)
	if err != nil {
		b.logger.Error("encode event", zap.String("event", event), zap.Error(err))
		return nil
	}
	return data
}

// ToConnection delivers an event to a single connection.
func (b *Broadcaster) ToConnection(connID, event string, payload interface{}) {
	data := b.encode(event, payload)
	if data == nil {
		return
	}
	b.sender.Send(connID, event, data)
}

// ToTeacher delivers an event to the current teacher, if any.
func (b *Broadcaster) ToTeacher(event string, payload interface{}) {
	if t := b.reg.Teacher(); t != "" {
		b.ToConnection(t, event, payload)
	}
}

// ToStudents delivers an event to every connected student.
func (b *Broadcaster) ToStudents(event string, payload interface{}) {
	data := b.encode(event, payload)
	if data == nil {
		return
	}
	for _, connID := range b.reg.StudentConns() {
		b.sender.Send(connID, event, data)
	}
}

// ToAll delivers an event to every live connection, teacher included.
func (b *Broadcaster) ToAll(event string, payload interface{}) {
	data := b.encode(event, payload)
	if data == nil {
		return
	}
	for _, connID := range b.reg.AllConns() {
		b.sender.Send(connID, event, data)
	}
}

// CloseConnection asks the transport to close a connection after any
// already-queued events are flushed.
func (b *Broadcaster) CloseConnection(connID string) {
	b.sender.Close(connID)
}
