package messaging

// HealthStatus represents the health state of a messaging connection.
type HealthStatus struct {
	Connected bool   `json:"connected"`
	Error     string `json:"error,omitempty"`
}

// CheckClientHealth reports whether client is connected.
func CheckClientHealth(client Client) HealthStatus {
	if client == nil {
		return HealthStatus{Error: "client is nil"}
	}
	if !client.IsConnected() {
		return HealthStatus{Error: "not connected to message broker"}
	}
	return HealthStatus{Connected: true}
}
