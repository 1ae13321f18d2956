package fieldsync

import (
	"testing"
	"time"
)

func TestManualMonitorOnline(t *testing.T) {
	m := NewManualMonitor(false)
	if m.Online() {
		t.Error("expected offline")
	}
	m.SetOnline(true)
	if !m.Online() {
		t.Error("expected online")
	}
}

func TestManualMonitorNotifiesOnTransition(t *testing.T) {
	m := NewManualMonitor(false)
	ch, unsubscribe := m.Subscribe()
	defer unsubscribe()

	m.SetOnline(true)
	select {
	case online := <-ch:
		if !online {
			t.Error("expected online notification")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for notification")
	}

	m.SetOnline(false)
	select {
	case online := <-ch:
		if online {
			t.Error("expected offline notification")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for notification")
	}
}

func TestManualMonitorSquashesNoOpTransitions(t *testing.T) {
	m := NewManualMonitor(true)
	ch, unsubscribe := m.Subscribe()
	defer unsubscribe()

	// Already online; setting online again is not a transition.
	m.SetOnline(true)
	select {
	case online := <-ch:
		t.Errorf("unexpected notification %v for no-op transition", online)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestManualMonitorMultipleSubscribers(t *testing.T) {
	m := NewManualMonitor(false)
	ch1, unsub1 := m.Subscribe()
	ch2, unsub2 := m.Subscribe()
	defer unsub1()
	defer unsub2()

	m.SetOnline(true)
	for i, ch := range []<-chan bool{ch1, ch2} {
		select {
		case online := <-ch:
			if !online {
				t.Errorf("subscriber %d: expected online", i)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d: timed out", i)
		}
	}
}

func TestManualMonitorUnsubscribeStopsDelivery(t *testing.T) {
	m := NewManualMonitor(false)
	ch, unsubscribe := m.Subscribe()
	unsubscribe()

	m.SetOnline(true)
	select {
	case _, ok := <-ch:
		if ok {
			t.Error("expected no delivery after unsubscribe")
		}
	case <-time.After(50 * time.Millisecond):
	}
}
