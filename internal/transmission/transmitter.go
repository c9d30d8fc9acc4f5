package transmission

// Transmitter publishes the current state of a device to the host.
type Transmitter interface {
	Transmit(deviceID string) error
	IsConnected() bool
}

var _ Transmitter = (*Registrar)(nil)

// IsConnected checks if the MQTT client is connected
func (r *Registrar) IsConnected() bool {
	return r.client.IsConnected()
}
