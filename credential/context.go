package credential

import (
	"fmt"

	"github.com/piprate/json-gold/ld"
)

// ContextV2 is the VC 2.0 context URL every credential declares.
const ContextV2 = "https://www.w3.org/ns/credentials/v2"

// contextV2 is the subset of the VC 2.0 context that credentials use.
// Served locally; remote context fetching is never performed.
var contextV2 = map[string]interface{}{
	"@context": map[string]interface{}{
		"id":   "@id",
		"type": "@type",
		"cred": "https://www.w3.org/ns/credentials#",
		"sec":  "https://w3id.org/security#",
		"xsd":  "http://www.w3.org/2001/XMLSchema#",

		"VerifiableCredential": "cred:VerifiableCredential",
		"issuer":               map[string]interface{}{"@id": "cred:issuer", "@type": "@id"},
		"credentialSubject":    map[string]interface{}{"@id": "cred:credentialSubject"},
		"validFrom":            map[string]interface{}{"@id": "cred:validFrom", "@type": "xsd:dateTime"},
		"validUntil":           map[string]interface{}{"@id": "cred:validUntil", "@type": "xsd:dateTime"},
		"proof":                "sec:proof",

		"Ed25519Signature2020": "sec:Ed25519Signature2020",
		"assertionMethod":      "sec:assertionMethod",
		"capabilityDelegation": "sec:capabilityDelegation",
		"proofPurpose":         map[string]interface{}{"@id": "sec:proofPurpose", "@type": "@vocab"},
		"verificationMethod":   map[string]interface{}{"@id": "sec:verificationMethod", "@type": "@id"},
		"created":              map[string]interface{}{"@id": "http://purl.org/dc/terms/created", "@type": "xsd:dateTime"},
	},
}

// offlineLoader resolves contexts from a fixed table.
type offlineLoader struct {
	contexts map[string]interface{}
}

var _ ld.DocumentLoader = (*offlineLoader)(nil)

func newOfflineLoader() *offlineLoader {
	return &offlineLoader{contexts: map[string]interface{}{ContextV2: contextV2}}
}

// LoadDocument implements ld.DocumentLoader.
func (l *offlineLoader) LoadDocument(u string) (*ld.RemoteDocument, error) {
	doc, ok := l.contexts[u]
	if !ok {
		return nil, ld.NewJsonLdError(ld.LoadingDocumentFailed, fmt.Sprintf("context %s is not available offline", u))
	}
	return &ld.RemoteDocument{DocumentURL: u, Document: doc}, nil
}
