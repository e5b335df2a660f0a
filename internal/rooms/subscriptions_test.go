package rooms

import "testing"

func TestNotifyDeliversToEveryUserConnection(t *testing.T) {
	subscriptions := NewListSubscriptions("rooms", nil)
	laptop := &recordingConn{}
	phone := &recordingConn{}
	stranger := &recordingConn{}

	subscriptions.Connect(laptop, "alice")
	subscriptions.Connect(phone, "alice")
	subscriptions.Connect(stranger, "bob")

	subscriptions.Notify("alice", nil)

	if len(laptop.sent()) != 1 || len(phone.sent()) != 1 {
		t.Fatalf("expected both of alice's connections to be notified")
	}
	if len(stranger.sent()) != 0 {
		t.Fatalf("expected bob's connection to receive nothing")
	}
}

func TestNotifyDefaultsToUpdateEvent(t *testing.T) {
	subscriptions := NewListSubscriptions("rooms", nil)
	conn := &recordingConn{}
	subscriptions.Connect(conn, "alice")

	subscriptions.Notify("alice", nil)

	events := conn.sent()
	if len(events) != 1 {
		t.Fatalf("expected one event, got %d", len(events))
	}
	event, ok := events[0].(UpdateEvent)
	if !ok || event.Type != "update" {
		t.Fatalf("expected the default update event, got %#v", events[0])
	}
}

func TestNotifyPrunesFailedConnections(t *testing.T) {
	subscriptions := NewListSubscriptions("rooms", nil)
	healthy := &recordingConn{}
	dead := &recordingConn{fail: true}

	subscriptions.Connect(healthy, "alice")
	subscriptions.Connect(dead, "alice")

	subscriptions.Notify("alice", nil)

	if subscriptions.SubscriberCount("alice") != 1 {
		t.Fatalf("expected the failed connection to be pruned, got %d", subscriptions.SubscriberCount("alice"))
	}
}

func TestNotifyAllReachesEverySubscribedUser(t *testing.T) {
	subscriptions := NewListSubscriptions("rooms", nil)
	alice := &recordingConn{}
	bob := &recordingConn{}

	subscriptions.Connect(alice, "alice")
	subscriptions.Connect(bob, "bob")

	subscriptions.NotifyAll(nil)

	if len(alice.sent()) != 1 || len(bob.sent()) != 1 {
		t.Fatalf("expected every subscribed user to be notified")
	}
}

func TestDisconnectDropsEmptyUserEntry(t *testing.T) {
	subscriptions := NewListSubscriptions("rooms", nil)
	conn := &recordingConn{}

	subscriptions.Connect(conn, "alice")
	subscriptions.Disconnect(conn, "alice")

	if subscriptions.SubscriberCount("alice") != 0 {
		t.Fatalf("expected alice's entry to be gone")
	}

	// A second disconnect of the same connection is harmless.
	subscriptions.Disconnect(conn, "alice")
}
