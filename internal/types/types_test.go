package types

import "testing"

func TestValidTransition(t *testing.T) {
	tests := []struct {
		name string
		from Lifecycle
		to   Lifecycle
		want bool
	}{
		{"none to creating", LifecycleNoneValue(), LifecycleCreatingValue("c1"), true},
		{"creating to same active", LifecycleCreatingValue("c1"), LifecycleActiveValue("c1"), true},
		{"creating to different active", LifecycleCreatingValue("c1"), LifecycleActiveValue("c2"), false},
		{"none to active", LifecycleNoneValue(), LifecycleActiveValue("c1"), true},
		{"active to active", LifecycleActiveValue("c1"), LifecycleActiveValue("c2"), true},
		{"anything to none", LifecycleActiveValue("c1"), LifecycleNoneValue(), true},
		{"active to creating", LifecycleActiveValue("c1"), LifecycleCreatingValue("c2"), false},
		{"creating idempotent", LifecycleCreatingValue("c1"), LifecycleCreatingValue("c1"), true},
		{"creating with empty id", LifecycleNoneValue(), Lifecycle{State: LifecycleCreating}, false},
		{"active with empty id", LifecycleNoneValue(), Lifecycle{State: LifecycleActive}, false},
		{"none with id", LifecycleNoneValue(), Lifecycle{State: LifecycleNone, ConversationID: "c1"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("ValidTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestLifecycleString(t *testing.T) {
	if got := LifecycleNoneValue().String(); got != "none" {
		t.Errorf("None string = %q", got)
	}
	if got := LifecycleActiveValue("c1").String(); got != "active{c1}" {
		t.Errorf("Active string = %q", got)
	}
	if got := LifecycleCreatingValue("c1").String(); got != "creating{c1}" {
		t.Errorf("Creating string = %q", got)
	}
}

func TestMessageTargetAgent(t *testing.T) {
	msg := Message{}
	if got := msg.TargetAgent(); got != "" {
		t.Errorf("Untagged message target = %q, want empty", got)
	}

	msg.Metadata = map[string]string{MetadataTargetAgent: "agent-1"}
	if got := msg.TargetAgent(); got != "agent-1" {
		t.Errorf("Tagged message target = %q", got)
	}
}
