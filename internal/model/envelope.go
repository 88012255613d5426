package model

// Envelope is transport-agnostic framing for forwarded outcomes.
type Envelope struct {
	Type          OutcomeKind `json:"type"`
	InstanceID    string      `json:"instance_id"`
	TimestampUnix int64       `json:"timestamp_unix"`
	Payload       any         `json:"payload"`
}
