package messaging

import (
	"context"
	"testing"
)

type fakeClient struct{ connected bool }

func (f *fakeClient) Publish(context.Context, string, []byte) error { return nil }
func (f *fakeClient) Close() error                                 { return nil }
func (f *fakeClient) IsConnected() bool                            { return f.connected }

func TestCheckClientHealth(t *testing.T) {
	tests := []struct {
		name      string
		client    Client
		connected bool
		errMsg    string
	}{
		{name: "nil client", client: nil, errMsg: "client is nil"},
		{name: "disconnected", client: &fakeClient{}, errMsg: "not connected to message broker"},
		{name: "connected", client: &fakeClient{connected: true}, connected: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status := CheckClientHealth(tt.client)
			if status.Connected != tt.connected {
				t.Errorf("Connected = %v, want %v", status.Connected, tt.connected)
			}
			if status.Error != tt.errMsg {
				t.Errorf("Error = %q, want %q", status.Error, tt.errMsg)
			}
		})
	}
}
