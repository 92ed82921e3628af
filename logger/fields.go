package logger

// Standard field names for structured logging across weave.
// Use these constants instead of raw strings to keep keys consistent.
const (
	// Identity
	FieldDID       = "did"
	FieldSender    = "sender"
	FieldRecipient = "recipient"

	// Graph and protocol
	FieldPerspective   = "perspective"
	FieldNeighbourhood = "neighbourhood"
	FieldLanguage      = "language"
	FieldGraph         = "graph"
	FieldEnvelopeID    = "envelope_id"
	FieldEnvelopeType  = "envelope_type"
	FieldPayloadType   = "payload_type"

	// Components
	FieldComponent = "component"
	FieldCarrier   = "carrier"
	FieldHandle    = "handle"
	FieldMethod    = "method"
	FieldPath      = "path"
	FieldQuery     = "query"

	// Counts
	FieldCount = "count"
	FieldSize  = "size"

	// Errors
	FieldError = "error"

	// Network
	FieldAddress = "address"
	FieldPeer    = "peer"
)
