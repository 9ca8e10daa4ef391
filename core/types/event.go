package types

// Event is the flattened, broadcastable form of an audit record. Attribute
// values are strings so amounts keep their full uint256 precision on the wire.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}
