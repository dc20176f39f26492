package model

import "time"

// Caller roles supplied by the identity context (certificate attribute).
const (
	RolePatient            = "patient"
	RoleDoctor             = "doctor"
	RoleHealthOrganization = "healthOrganization"
	RoleGateway            = "gateway"
)

// PrincipalRecord stores a registered principal's public key. The key
// bytes are opaque to the engine beyond a PEM sanity check; only the
// matching private-key holder can decrypt grants wrapped with it.
type PrincipalRecord struct {
	DocType       string    `json:"docType"` // Always "principal"
	PrincipalID   string    `json:"principalId"`
	PublicKey     []byte    `json:"publicKey"` // PEM-encoded public key
	RegisteredAt  time.Time `json:"registeredAt"`
	LastUpdatedAt time.Time `json:"lastUpdatedAt"`
}
