package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"
)

type memStore struct {
	data map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string][]byte)}
}

func (m *memStore) Set(key string, value interface{}) bool {
	raw, err := json.Marshal(value)
	if err != nil {
		return false
	}
	m.data[key] = raw
	return true
}

func (m *memStore) Get(key string, out interface{}) bool {
	raw, ok := m.data[key]
	if !ok {
		return false
	}
	return json.Unmarshal(raw, out) == nil
}

func (m *memStore) Remove(key string) bool {
	delete(m.data, key)
	return true
}

type capturingSink struct {
	events []Event
	fail   bool
}

func (s *capturingSink) Name() string { return "capturing" }

func (s *capturingSink) Emit(_ context.Context, event Event) error {
	if s.fail {
		return errors.New("sink down")
	}
	s.events = append(s.events, event)
	return nil
}

func TestRecordFillsIdentity(t *testing.T) {
	r := NewRecorder(newMemStore())
	r.SetClock(func() time.Time { return time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC) })

	event := r.Record(EventLoginSuccess, Event{UserID: "ahmed", SessionID: "s1"})
	if event.ID == "" {
		t.Error("event ID not assigned")
	}
	if event.Type != EventLoginSuccess {
		t.Errorf("Type = %s", event.Type)
	}
	if event.Timestamp == 0 {
		t.Error("timestamp not assigned")
	}

	trail := r.Trail()
	if len(trail) != 1 || trail[0].ID != event.ID {
		t.Errorf("trail = %+v", trail)
	}
}

func TestTrailIsCapped(t *testing.T) {
	r := NewRecorder(newMemStore())

	for i := 0; i < maxTrailEvents+50; i++ {
		r.Record(EventLoginFailure, Event{UserID: fmt.Sprintf("u%d", i)})
	}

	trail := r.Trail()
	if len(trail) != maxTrailEvents {
		t.Fatalf("trail length = %d, want %d", len(trail), maxTrailEvents)
	}
	// The oldest events fell off the front.
	if trail[0].UserID != "u50" {
		t.Errorf("oldest retained event = %s, want u50", trail[0].UserID)
	}
}

func TestSinksReceiveEvents(t *testing.T) {
	sink := &capturingSink{}
	r := NewRecorder(newMemStore(), sink)

	r.Record(EventSessionCreated, Event{SessionID: "s1"})
	if len(sink.events) != 1 || sink.events[0].SessionID != "s1" {
		t.Errorf("sink received %+v", sink.events)
	}
}

func TestSinkFailureDoesNotPropagate(t *testing.T) {
	broken := &capturingSink{fail: true}
	healthy := &capturingSink{}
	r := NewRecorder(newMemStore(), broken, healthy)

	event := r.Record(EventSessionCreated, Event{SessionID: "s1"})
	if event.ID == "" {
		t.Error("recording failed because of a sink error")
	}
	if len(healthy.events) != 1 {
		t.Error("healthy sink starved by the broken one")
	}
	if len(r.Trail()) != 1 {
		t.Error("local trail not written despite sink failure")
	}
}

func TestClear(t *testing.T) {
	r := NewRecorder(newMemStore())
	r.Record(EventLoginSuccess, Event{UserID: "ahmed"})
	r.Clear()
	if len(r.Trail()) != 0 {
		t.Error("trail survived Clear")
	}
}
