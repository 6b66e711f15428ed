package mqtt

import (
	"testing"

	"timekeeper-go/internal/config"
)

func TestEventTopic_SanitizesIdentityName(t *testing.T) {
	c := NewClient(config.MQTTConfig{TopicPrefix: "timekeeper"})

	tests := []struct {
		name string
		want string
	}{
		{"Alice", "timekeeper/attendance/Alice"},
		{"Alice Smith", "timekeeper/attendance/Alice Smith"},
		{"a/b", "timekeeper/attendance/a_b"},
		{"who+", "timekeeper/attendance/who_"},
		{"#all", "timekeeper/attendance/_all"},
		{"x/+/#", "timekeeper/attendance/x____"},
	}
	for _, tt := range tests {
		if got := c.eventTopic(tt.name); got != tt.want {
			t.Errorf("eventTopic(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestPublishEvent_NoopWhenDisconnected(t *testing.T) {
	c := NewClient(config.MQTTConfig{TopicPrefix: "timekeeper"})

	if c.IsConnected() {
		t.Fatal("client must not report connected before Start")
	}
	// Must not panic with a nil underlying client.
	c.PublishEvent(nil)
}
