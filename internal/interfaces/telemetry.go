package interfaces

// Telemetry is a fire-and-forget event sink. Implementations must never
// block the caller or surface errors.
type Telemetry interface {
	TrackEvent(name string, properties map[string]string)
	TrackException(err error, properties map[string]string)
}
