package model

import "time"

// RecordStatus defines the possible lifecycle states of a health record.
type RecordStatus string

const (
	StatusInitialised RecordStatus = "initialised" // Record written, tokens not yet attached
	StatusAvailable   RecordStatus = "available"   // Tokens attached, record readable and editable
	StatusInEditing   RecordStatus = "inEditing"   // Creator holds the edit token, content in flux
	// Deletion is terminal: the record is removed from state, there is no
	// "deleted" value persisted anywhere.
)

// DoctorGrant is a doctor-specific encrypted copy of the record's content
// key, valid for as long as its reason set is non-empty. An entry whose
// reason set becomes empty must be removed, never stored.
type DoctorGrant struct {
	Key     []byte   `json:"key"`     // Content key encrypted for the doctor
	Reasons []string `json:"reasons"` // Sorted, de-duplicated access reasons
}

// OrgGrant is an organization-specific encrypted copy of the record's
// content key, honored for reads only while the transaction time is before
// Expiry. Expired entries are not purged; expiry is evaluated lazily.
type OrgGrant struct {
	Key    []byte    `json:"key"`
	Expiry time.Time `json:"expiry"`
}

// HealthRecord is the central aggregate: lifecycle status, owner,
// per-recipient encrypted-key grants and the edit/delete tokens.
// The content key is never stored in the clear — every copy under
// PatientAccessKey, DoctorGrants and OrgGrants is wrapped with the
// recipient's public key.
type HealthRecord struct {
	DocType          string                 `json:"docType"` // Always "healthRecord", used by CouchDB selectors
	DocumentID       string                 `json:"documentId"`
	Status           RecordStatus           `json:"status"`
	TypeEHR          string                 `json:"typeEHR"`
	PatientID        string                 `json:"patientId"` // Owner
	ContentHash      []byte                 `json:"contentHash"`
	PatientAccessKey []byte                 `json:"patientAccessKey"` // Content key encrypted for the patient
	CreatorID        string                 `json:"creatorId"`        // Principal who added the record
	EditToken        []byte                 `json:"editToken,omitempty"`   // Encrypted for the creator; absent until tokens attached
	DeleteToken      []byte                 `json:"deleteToken,omitempty"` // Encrypted for the patient; absent until tokens attached
	DoctorGrants     map[string]DoctorGrant `json:"doctorGrants"`
	OrgGrants        map[string]OrgGrant    `json:"orgGrants"`
	CreatedAt        time.Time              `json:"createdAt"`
	LastUpdatedAt    time.Time              `json:"lastUpdatedAt"`
}

// HasUnexpiredOrgGrant reports whether any organization grant is still
// active at the given time. Deletion is blocked while this holds.
func (r *HealthRecord) HasUnexpiredOrgGrant(now time.Time) bool {
	for _, g := range r.OrgGrants {
		if now.Before(g.Expiry) {
			return true
		}
	}
	return false
}

// SharingRule is an organization-declared (recordType, duration) pair
// causing automatic, time-bounded grants at record creation and edit time.
type SharingRule struct {
	TypeEHR         string `json:"typeEHR"`
	DurationMinutes int    `json:"durationMinutes"`
}

// OrganizationPolicy is the declarative sharing policy of one health
// organization. Registration replaces it wholesale; rules are ordered and
// duplicate typeEHR entries are permitted.
type OrganizationPolicy struct {
	DocType        string        `json:"docType"` // Always "organizationPolicy"
	OrganizationID string        `json:"organizationId"`
	Rules          []SharingRule `json:"rules"`
	UpdatedAt      time.Time     `json:"updatedAt"`
}

// AccessRequest is a doctor-initiated request for access to a patient's
// records. Requests are append-only: they are never mutated and have no
// deletion path.
type AccessRequest struct {
	DocType        string    `json:"docType"` // Always "accessRequest"
	PatientID      string    `json:"patientId"`
	DoctorID       string    `json:"doctorId"`
	RequestedScope string    `json:"requestedScope"`
	RequestedAt    time.Time `json:"requestedAt"`
}

// AccessRequestEntry pairs a stored access request with its ledger key.
type AccessRequestEntry struct {
	Key    string        `json:"key"`
	Record AccessRequest `json:"record"`
}

// GatewayKeys carries the public keys a gateway needs to re-wrap record
// content for transport.
type GatewayKeys struct {
	PatientPublicKey []byte `json:"patientPublicKey"`
	CreatorPublicKey []byte `json:"creatorPublicKey"`
}

// HashCheckResult is the tagged result of a hash check. Valid is set for
// every successful check; GatewayKeys is populated only for gateway
// callers.
type HashCheckResult struct {
	Valid       bool         `json:"valid"`
	GatewayKeys *GatewayKeys `json:"gatewayKeys,omitempty"`
}
