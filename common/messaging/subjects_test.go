package messaging

import "testing"

func TestSubjectForChannel(t *testing.T) {
	tests := []struct {
		channel string
		want    string
	}{
		{"/data/LeadChangeEvent", "cdc.data.LeadChangeEvent"},
		{"/data/TaskChangeEvent", "cdc.data.TaskChangeEvent"},
		{"data/EmailMessageChangeEvent/", "cdc.data.EmailMessageChangeEvent"},
		{"/", "cdc"},
	}

	for _, tt := range tests {
		if got := SubjectForChannel(tt.channel); got != tt.want {
			t.Errorf("SubjectForChannel(%q) = %q, want %q", tt.channel, got, tt.want)
		}
	}
}

func TestChannelForSubject_RoundTrip(t *testing.T) {
	for _, ch := range []string{"/data/LeadChangeEvent", "/data/TaskChangeEvent", "/data/EmailMessageChangeEvent"} {
		if got := ChannelForSubject(SubjectForChannel(ch)); got != ch {
			t.Errorf("round trip of %q gave %q", ch, got)
		}
	}
}

func TestDLQSubject(t *testing.T) {
	tests := []struct {
		reason string
		want   string
	}{
		{"handler_error", "cdc.dlq.handler_error"},
		{"handler panic", "cdc.dlq.handler_panic"},
		{"a.b>c*", "cdc.dlq.a_b_c_"},
		{"", "cdc.dlq.unknown"},
	}

	for _, tt := range tests {
		if got := DLQSubject(tt.reason); got != tt.want {
			t.Errorf("DLQSubject(%q) = %q, want %q", tt.reason, got, tt.want)
		}
	}
}
