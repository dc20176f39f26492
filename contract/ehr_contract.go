package contract

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"medvault/model"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
	"github.com/hyperledger/fabric/common/flogging"
)

var logger = flogging.MustGetLogger("medvault.ehrcontract")

// Ledger key layout. Records live under "ehr_<txID>", principals directly
// under their principal id, organization policies under the principal id
// plus a fixed suffix, and access requests under "req_<txID>".
const (
	recordKeyPrefix  = "ehr_"
	requestKeyPrefix = "req_"
	policyKeySuffix  = "#policy"

	recordDocType    = "healthRecord"
	principalDocType = "principal"
	policyDocType    = "organizationPolicy"
	requestDocType   = "accessRequest"

	roleAttribute = "role"

	maxStringInputLength = 256
	maxReasonEntries     = 32
	maxSharingRules      = 64
)

// EhrSmartContract manages encrypted health-record metadata and mediates
// who may decrypt each record's content key.
// @contract:EhrSmartContract
type EhrSmartContract struct {
	contractapi.Contract
}

// Instantiate is called during chaincode instantiation.
func (s *EhrSmartContract) Instantiate(ctx contractapi.TransactionContextInterface) {
	logger.Info("EhrSmartContract Instantiated/Upgraded")
}

// callerContext holds the identity and role of the transaction invoker, as
// attested by the client certificate. It is resolved once per operation and
// passed explicitly so the core logic never reaches for ambient identity.
type callerContext struct {
	id   string
	role string
}

func (c *callerContext) isGateway() bool { return c.role == model.RoleGateway }

// getCallerContext resolves the invoker's id and role from the client
// identity. The role attribute is optional: a caller without one can still
// act as a record's patient (ownership is checked by id, not role).
func (s *EhrSmartContract) getCallerContext(ctx contractapi.TransactionContextInterface) (*callerContext, error) {
	clientIdentity := ctx.GetClientIdentity()
	if clientIdentity == nil {
		return nil, fmt.Errorf("client identity is nil from context")
	}
	id, err := clientIdentity.GetID()
	if err != nil {
		return nil, fmt.Errorf("failed to get client identity ID: %w", err)
	}
	if id == "" {
		return nil, fmt.Errorf("client identity ID from context is empty")
	}
	role, found, err := clientIdentity.GetAttributeValue(roleAttribute)
	if err != nil {
		return nil, fmt.Errorf("failed to read '%s' attribute: %w", roleAttribute, err)
	}
	if !found {
		logger.Debugf("Caller '%s' has no '%s' attribute; proceeding role-less", id, roleAttribute)
		role = ""
	}
	return &callerContext{id: id, role: strings.TrimSpace(role)}, nil
}

// getCurrentTxTimestamp retrieves the transaction timestamp from the stub.
// All expiry arithmetic uses this value so endorsement stays deterministic.
func (s *EhrSmartContract) getCurrentTxTimestamp(ctx contractapi.TransactionContextInterface) (time.Time, error) {
	ts, err := ctx.GetStub().GetTxTimestamp()
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get transaction timestamp: %w", err)
	}
	return ts.AsTime(), nil
}

func recordKey(documentID string) string {
	return documentID
}

// getRecord loads and unmarshals a health record, returning NotFound when
// it is absent.
func (s *EhrSmartContract) getRecord(ctx contractapi.TransactionContextInterface, op, documentID string) (*model.HealthRecord, error) {
	if strings.TrimSpace(documentID) == "" {
		return nil, errNotFound(op, "documentId cannot be empty")
	}
	recordBytes, err := ctx.GetStub().GetState(recordKey(documentID))
	if err != nil {
		return nil, fmt.Errorf("%s: failed to read record '%s': %w", op, documentID, err)
	}
	if recordBytes == nil {
		return nil, errNotFound(op, "record '%s' does not exist", documentID)
	}
	var record model.HealthRecord
	if err := json.Unmarshal(recordBytes, &record); err != nil {
		return nil, fmt.Errorf("%s: failed to unmarshal record '%s': %w", op, documentID, err)
	}
	// Other document kinds (requests, principals, policies) share the same
	// state namespace and would unmarshal field-by-field into a record.
	if record.DocType != recordDocType {
		return nil, errNotFound(op, "record '%s' does not exist", documentID)
	}
	return &record, nil
}

// putRecord marshals and stores a health record.
func (s *EhrSmartContract) putRecord(ctx contractapi.TransactionContextInterface, op string, record *model.HealthRecord) error {
	ensureRecordSchemaCompliance(record)
	recordBytes, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("%s: failed to marshal record '%s': %w", op, record.DocumentID, err)
	}
	if err := ctx.GetStub().PutState(recordKey(record.DocumentID), recordBytes); err != nil {
		return fmt.Errorf("%s: failed to save record '%s': %w", op, record.DocumentID, err)
	}
	return nil
}

// ensureRecordSchemaCompliance initializes nil maps so stored JSON always
// carries {} instead of null for the grant maps.
func ensureRecordSchemaCompliance(record *model.HealthRecord) {
	if record == nil {
		return
	}
	if record.DoctorGrants == nil {
		record.DoctorGrants = map[string]model.DoctorGrant{}
	}
	if record.OrgGrants == nil {
		record.OrgGrants = map[string]model.OrgGrant{}
	}
}

// --- Validation helpers ---

func (s *EhrSmartContract) validateRequiredString(input, field string, max int) error {
	if strings.TrimSpace(input) == "" {
		return fmt.Errorf("%s cannot be empty", field)
	}
	if len(input) > max {
		return fmt.Errorf("%s exceeds max length %d", field, max)
	}
	return nil
}

// normalizeReasons trims, de-duplicates and sorts a reason list. The reason
// vocabulary is open; only emptiness and size are validated.
func normalizeReasons(reasons []string) ([]string, error) {
	if len(reasons) == 0 {
		return nil, fmt.Errorf("reasons cannot be empty")
	}
	if len(reasons) > maxReasonEntries {
		return nil, fmt.Errorf("reasons has %d entries, exceeding maximum of %d", len(reasons), maxReasonEntries)
	}
	seen := make(map[string]bool, len(reasons))
	out := make([]string, 0, len(reasons))
	for _, r := range reasons {
		r = strings.TrimSpace(r)
		if r == "" {
			return nil, fmt.Errorf("reasons must not contain empty entries")
		}
		if len(r) > maxStringInputLength {
			return nil, fmt.Errorf("reason '%s...' exceeds max length %d", r[:16], maxStringInputLength)
		}
		if !seen[r] {
			seen[r] = true
			out = append(out, r)
		}
	}
	sort.Strings(out)
	return out, nil
}

// emitRecordEvent sends a chaincode event. Event failures are logged and
// never fail the transaction.
func (s *EhrSmartContract) emitRecordEvent(ctx contractapi.TransactionContextInterface, eventName string, record *model.HealthRecord, caller *callerContext, additionalPayload map[string]interface{}) {
	if record == nil || caller == nil {
		logger.Errorf("emitRecordEvent: cannot emit event '%s', record or caller is nil", eventName)
		return
	}
	payload := map[string]interface{}{
		"documentId": record.DocumentID,
		"typeEHR":    record.TypeEHR,
		"status":     record.Status,
		"patientId":  record.PatientID,
		"callerId":   caller.id,
		"callerRole": caller.role,
	}
	for k, v := range additionalPayload {
		if t, ok := v.(time.Time); ok {
			payload[k] = t.Format(time.RFC3339)
		} else {
			payload[k] = v
		}
	}
	eventBytes, err := json.Marshal(payload)
	if err != nil {
		logger.Warningf("emitRecordEvent: failed to marshal payload for event '%s' on record '%s': %v", eventName, record.DocumentID, err)
		return
	}
	if err := ctx.GetStub().SetEvent(eventName, eventBytes); err != nil {
		logger.Warningf("emitRecordEvent: failed to set event '%s' for record '%s': %v", eventName, record.DocumentID, err)
	}
}
