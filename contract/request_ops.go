package contract

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"medvault/model"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
)

// Access request / grant / revoke operations. Requests are an append-only
// audit trail; grants and revocations mutate the per-doctor reason sets on
// the record itself.

// RequestAccess records a doctor's request for access to a patient's data.
// The request is stored under the transaction ID and never mutated or
// deleted afterwards.
func (s *EhrSmartContract) RequestAccess(ctx contractapi.TransactionContextInterface, patientID, requestedScope string) error {
	const op = "RequestAccess"
	caller, err := s.getCallerContext(ctx)
	if err != nil {
		return fmt.Errorf("%s: failed to get caller context: %w", op, err)
	}
	if caller.role != model.RoleDoctor {
		return errUnauthorized(op, "caller '%s' does not hold the '%s' role", caller.id, model.RoleDoctor)
	}
	if err := s.validateRequiredString(patientID, "patientId", maxStringInputLength); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := s.validateRequiredString(requestedScope, "requestedScope", maxStringInputLength); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	request := model.AccessRequest{
		DocType:        requestDocType,
		PatientID:      patientID,
		DoctorID:       caller.id,
		RequestedScope: requestedScope,
		RequestedAt:    now,
	}
	requestBytes, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("%s: failed to marshal request: %w", op, err)
	}
	requestKey := requestKeyPrefix + ctx.GetStub().GetTxID()
	if err := ctx.GetStub().PutState(requestKey, requestBytes); err != nil {
		return fmt.Errorf("%s: failed to save request: %w", op, err)
	}
	logger.Infof("%s: doctor '%s' requested access to patient '%s' (scope '%s')", op, caller.id, patientID, requestedScope)

	eventPayload, err := json.Marshal(map[string]interface{}{
		"requestKey":     requestKey,
		"patientId":      patientID,
		"doctorId":       caller.id,
		"requestedScope": requestedScope,
	})
	if err != nil {
		logger.Warningf("%s: failed to marshal payload for event 'RequestCreated': %v", op, err)
		return nil
	}
	if err := ctx.GetStub().SetEvent("RequestCreated", eventPayload); err != nil {
		logger.Warningf("%s: failed to set event 'RequestCreated' for '%s': %v", op, requestKey, err)
	}
	return nil
}

// ListRequests returns every access request addressed to the calling
// patient, keyed by the transaction that created it, in store-defined order.
func (s *EhrSmartContract) ListRequests(ctx contractapi.TransactionContextInterface) ([]model.AccessRequestEntry, error) {
	const op = "ListRequests"
	caller, err := s.getCallerContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to get caller context: %w", op, err)
	}
	if caller.role != model.RolePatient {
		return nil, errUnauthorized(op, "caller '%s' does not hold the '%s' role", caller.id, model.RolePatient)
	}

	queryString := fmt.Sprintf(`{"selector":{"docType":"%s","patientId":"%s"}}`, requestDocType, caller.id)
	resultsIterator, err := ctx.GetStub().GetQueryResult(queryString)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to query access requests: %w", op, err)
	}
	defer resultsIterator.Close()

	entries := []model.AccessRequestEntry{}
	for resultsIterator.HasNext() {
		queryResponse, iterErr := resultsIterator.Next()
		if iterErr != nil {
			return nil, fmt.Errorf("%s: failed to advance request iterator: %w", op, iterErr)
		}
		var request model.AccessRequest
		if err := json.Unmarshal(queryResponse.Value, &request); err != nil {
			logger.Warningf("%s: failed to unmarshal request at key '%s': %v. Skipping.", op, queryResponse.Key, err)
			continue
		}
		entries = append(entries, model.AccessRequestEntry{Key: queryResponse.Key, Record: request})
	}
	return entries, nil
}

// GrantAccess stores a doctor's encrypted copy of a record's content key
// under the given reasons. The key arrives already wrapped for the doctor by
// the patient (base64); no wrapping happens here. An existing grant for the
// doctor is overwritten. Only the record's patient may grant.
func (s *EhrSmartContract) GrantAccess(ctx contractapi.TransactionContextInterface, documentID, doctorID, reasonsJSON, doctorEncryptedKeyB64 string) error {
	const op = "GrantAccess"
	caller, err := s.getCallerContext(ctx)
	if err != nil {
		return fmt.Errorf("%s: failed to get caller context: %w", op, err)
	}
	if err := s.validateRequiredString(doctorID, "doctorId", maxStringInputLength); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	var rawReasons []string
	if err := json.Unmarshal([]byte(reasonsJSON), &rawReasons); err != nil {
		return fmt.Errorf("%s: invalid reasonsJSON: %w", op, err)
	}
	reasons, err := normalizeReasons(rawReasons)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	doctorEncryptedKey, err := base64.StdEncoding.DecodeString(doctorEncryptedKeyB64)
	if err != nil || len(doctorEncryptedKey) == 0 {
		return fmt.Errorf("%s: doctorEncryptedKey must be non-empty base64: %v", op, err)
	}

	record, err := s.getRecord(ctx, op, documentID)
	if err != nil {
		return err
	}
	if caller.id != record.PatientID {
		return errUnauthorized(op, "caller '%s' is not the patient of record '%s'", caller.id, documentID)
	}
	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if record.DoctorGrants == nil {
		record.DoctorGrants = map[string]model.DoctorGrant{}
	}
	record.DoctorGrants[doctorID] = model.DoctorGrant{
		Key:     doctorEncryptedKey,
		Reasons: reasons,
	}
	record.LastUpdatedAt = now
	if err := s.putRecord(ctx, op, record); err != nil {
		return err
	}
	logger.Infof("%s: patient '%s' granted doctor '%s' access to record '%s' for %d reason(s)", op, caller.id, doctorID, documentID, len(reasons))
	s.emitRecordEvent(ctx, "AccessGranted", record, caller, map[string]interface{}{"doctorId": doctorID})
	return nil
}

// RevokeAccess removes the named reasons from a doctor's grant on a record.
// When the reason set becomes empty the grant entry itself is removed, and
// with it the doctor's encrypted key copy. Revoking a grant that does not
// exist is NotFound, not a fault. Only the record's patient may revoke.
func (s *EhrSmartContract) RevokeAccess(ctx contractapi.TransactionContextInterface, documentID, doctorID, reasonsJSON string) error {
	const op = "RevokeAccess"
	caller, err := s.getCallerContext(ctx)
	if err != nil {
		return fmt.Errorf("%s: failed to get caller context: %w", op, err)
	}
	if err := s.validateRequiredString(doctorID, "doctorId", maxStringInputLength); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	var rawReasons []string
	if err := json.Unmarshal([]byte(reasonsJSON), &rawReasons); err != nil {
		return fmt.Errorf("%s: invalid reasonsJSON: %w", op, err)
	}
	revoked, err := normalizeReasons(rawReasons)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	record, err := s.getRecord(ctx, op, documentID)
	if err != nil {
		return err
	}
	if caller.id != record.PatientID {
		return errUnauthorized(op, "caller '%s' is not the patient of record '%s'", caller.id, documentID)
	}
	grant, ok := record.DoctorGrants[doctorID]
	if !ok {
		return errNotFound(op, "doctor '%s' has no grant on record '%s'", doctorID, documentID)
	}
	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	revokedSet := make(map[string]bool, len(revoked))
	for _, r := range revoked {
		revokedSet[r] = true
	}
	remaining := make([]string, 0, len(grant.Reasons))
	for _, r := range grant.Reasons {
		if !revokedSet[r] {
			remaining = append(remaining, r)
		}
	}

	if len(remaining) == 0 {
		delete(record.DoctorGrants, doctorID)
		logger.Infof("%s: patient '%s' fully revoked doctor '%s' on record '%s'", op, caller.id, doctorID, documentID)
	} else {
		grant.Reasons = remaining
		record.DoctorGrants[doctorID] = grant
		logger.Infof("%s: patient '%s' revoked %d reason(s) for doctor '%s' on record '%s', %d remain",
			op, caller.id, len(revoked), doctorID, documentID, len(remaining))
	}
	record.LastUpdatedAt = now
	if err := s.putRecord(ctx, op, record); err != nil {
		return err
	}
	s.emitRecordEvent(ctx, "AccessRevoked", record, caller, map[string]interface{}{"doctorId": doctorID})
	return nil
}
