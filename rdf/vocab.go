package rdf

// Weave vocabulary used to reify expression metadata.
const (
	WeaveNS = "https://weave.dev/ns#"

	PredAuthor    = WeaveNS + "author"
	PredTimestamp = WeaveNS + "timestamp"
	PredProof     = WeaveNS + "proof"
	PredLink      = WeaveNS + "link"

	// ExpressionGraphPrefix prefixes the proof identity to name an expression's graph.
	ExpressionGraphPrefix = "urn:weave:expression:"
)
