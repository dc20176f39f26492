package contract

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"time"

	"medvault/model"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
)

// GetAccessKey returns the caller's encrypted copy of a record's content
// key, base64-encoded. Patients always read their own records; doctors read
// while they hold a grant with at least one reason; organizations read while
// their grant is unexpired. Everyone else is refused. Pure read, no state
// change.
func (s *EhrSmartContract) GetAccessKey(ctx contractapi.TransactionContextInterface, documentID string) (string, error) {
	const op = "GetAccessKey"
	caller, err := s.getCallerContext(ctx)
	if err != nil {
		return "", fmt.Errorf("%s: failed to get caller context: %w", op, err)
	}
	record, err := s.getRecord(ctx, op, documentID)
	if err != nil {
		return "", err
	}

	if caller.id == record.PatientID {
		return base64.StdEncoding.EncodeToString(record.PatientAccessKey), nil
	}

	switch caller.role {
	case model.RoleDoctor:
		grant, ok := record.DoctorGrants[caller.id]
		if !ok || len(grant.Reasons) == 0 {
			return "", errUnauthorized(op, "doctor '%s' has no grant on record '%s'", caller.id, documentID)
		}
		return base64.StdEncoding.EncodeToString(grant.Key), nil
	case model.RoleHealthOrganization:
		grant, ok := record.OrgGrants[caller.id]
		if !ok {
			return "", errUnauthorized(op, "organization '%s' has no grant on record '%s'", caller.id, documentID)
		}
		now, err := s.getCurrentTxTimestamp(ctx)
		if err != nil {
			return "", fmt.Errorf("%s: %w", op, err)
		}
		if !now.Before(grant.Expiry) {
			return "", errUnauthorized(op, "organization '%s' grant on record '%s' expired at %s", caller.id, documentID, grant.Expiry.Format(time.RFC3339))
		}
		return base64.StdEncoding.EncodeToString(grant.Key), nil
	default:
		return "", errUnauthorized(op, "caller '%s' (role '%s') may not read record '%s'", caller.id, caller.role, documentID)
	}
}

// CheckHash verifies a claimed content hash (base64) against the stored one.
// A missing record and a mismatching hash are indistinguishable to the
// caller. Gateway callers additionally receive the patient's and creator's
// public keys, which they need to re-wrap content in transit; both
// principals must still be registered.
func (s *EhrSmartContract) CheckHash(ctx contractapi.TransactionContextInterface, documentID, claimedHashB64 string) (*model.HashCheckResult, error) {
	const op = "CheckHash"
	caller, err := s.getCallerContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to get caller context: %w", op, err)
	}
	claimedHash, err := base64.StdEncoding.DecodeString(claimedHashB64)
	if err != nil || len(claimedHash) == 0 {
		return nil, fmt.Errorf("%s: claimedHash must be non-empty base64: %v", op, err)
	}

	record, err := s.getRecord(ctx, op, documentID)
	if err != nil {
		if KindOf(err) == KindNotFound {
			return nil, errUnauthorized(op, "hash check failed for record '%s'", documentID)
		}
		return nil, err
	}
	if !bytes.Equal(record.ContentHash, claimedHash) {
		return nil, errUnauthorized(op, "hash check failed for record '%s'", documentID)
	}

	result := &model.HashCheckResult{Valid: true}
	if caller.isGateway() {
		directory := NewPrincipalDirectory(ctx)
		patientKey, err := directory.GetPublicKey(op, record.PatientID)
		if err != nil {
			return nil, err
		}
		creatorKey, err := directory.GetPublicKey(op, record.CreatorID)
		if err != nil {
			return nil, err
		}
		result.GatewayKeys = &model.GatewayKeys{
			PatientPublicKey: patientKey,
			CreatorPublicKey: creatorKey,
		}
	}
	logger.Debugf("%s: record '%s' hash verified for '%s' (role '%s')", op, documentID, caller.id, caller.role)
	return result, nil
}
