package contract

import (
	"encoding/base64"
	"fmt"

	"medvault/model"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
)

// Lifecycle operations. A record moves initialised -> available ->
// inEditing -> available (loop) and disappears on deletion; there is no
// persisted "deleted" status.

// AddRecord stores a new health record under "ehr_<txID>". The symmetric
// content key arrives base64-encoded, is wrapped for the patient (always)
// and for the creator under the "dataAdding" reason when the creator is not
// the patient, and is distributed to organizations per their policies. The
// record starts in status "initialised" and becomes usable once tokens are
// attached.
func (s *EhrSmartContract) AddRecord(ctx contractapi.TransactionContextInterface, patientID, typeEHR, contentKeyB64, contentHashB64 string) (string, error) {
	const op = "AddRecord"
	caller, err := s.getCallerContext(ctx)
	if err != nil {
		return "", fmt.Errorf("%s: failed to get caller context: %w", op, err)
	}
	if err := s.validateRequiredString(patientID, "patientId", maxStringInputLength); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if err := s.validateRequiredString(typeEHR, "typeEHR", maxStringInputLength); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	contentKey, err := base64.StdEncoding.DecodeString(contentKeyB64)
	if err != nil || len(contentKey) == 0 {
		return "", fmt.Errorf("%s: contentKey must be non-empty base64: %v", op, err)
	}
	contentHash, err := base64.StdEncoding.DecodeString(contentHashB64)
	if err != nil || len(contentHash) == 0 {
		return "", fmt.Errorf("%s: contentHash must be non-empty base64: %v", op, err)
	}
	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	documentID := recordKeyPrefix + ctx.GetStub().GetTxID()
	existing, err := ctx.GetStub().GetState(recordKey(documentID))
	if err != nil {
		return "", fmt.Errorf("%s: failed to check record '%s': %w", op, documentID, err)
	}
	if existing != nil {
		return "", errConflict(op, "record '%s' already exists", documentID)
	}

	directory := NewPrincipalDirectory(ctx)
	patientKey, err := directory.GetPublicKey(op, patientID)
	if err != nil {
		return "", err
	}
	patientAccessKey, err := wrapContentKey(patientKey, contentKey)
	if err != nil {
		return "", fmt.Errorf("%s: failed to wrap content key for patient '%s': %w", op, patientID, err)
	}

	doctorGrants := map[string]model.DoctorGrant{}
	if caller.id != patientID {
		creatorKey, err := directory.GetPublicKey(op, caller.id)
		if err != nil {
			return "", err
		}
		creatorWrapped, err := wrapContentKey(creatorKey, contentKey)
		if err != nil {
			return "", fmt.Errorf("%s: failed to wrap content key for creator '%s': %w", op, caller.id, err)
		}
		doctorGrants[caller.id] = model.DoctorGrant{
			Key:     creatorWrapped,
			Reasons: []string{"dataAdding"},
		}
	}

	orgGrants, err := s.computeOrgGrants(ctx, typeEHR, contentKey, now)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	record := &model.HealthRecord{
		DocType:          recordDocType,
		DocumentID:       documentID,
		Status:           model.StatusInitialised,
		TypeEHR:          typeEHR,
		PatientID:        patientID,
		ContentHash:      contentHash,
		PatientAccessKey: patientAccessKey,
		CreatorID:        caller.id,
		DoctorGrants:     doctorGrants,
		OrgGrants:        orgGrants,
		CreatedAt:        now,
		LastUpdatedAt:    now,
	}
	if err := s.putRecord(ctx, op, record); err != nil {
		return "", err
	}
	logger.Infof("%s: record '%s' (type '%s') added by '%s' for patient '%s', %d org grant(s)",
		op, documentID, typeEHR, caller.id, patientID, len(orgGrants))
	s.emitRecordEvent(ctx, "RecordAdded", record, caller, nil)
	return documentID, nil
}

// AttachTokens moves a record from "initialised" to "available" by storing
// its edit token (wrapped for the creator) and delete token (wrapped for the
// patient). Gateways are refused.
func (s *EhrSmartContract) AttachTokens(ctx contractapi.TransactionContextInterface, documentID, editTokenB64, deleteTokenB64 string) error {
	const op = "AttachTokens"
	caller, err := s.getCallerContext(ctx)
	if err != nil {
		return fmt.Errorf("%s: failed to get caller context: %w", op, err)
	}
	if caller.isGateway() {
		return errUnauthorized(op, "gateways may not attach tokens")
	}
	editToken, err := base64.StdEncoding.DecodeString(editTokenB64)
	if err != nil || len(editToken) == 0 {
		return fmt.Errorf("%s: editToken must be non-empty base64: %v", op, err)
	}
	deleteToken, err := base64.StdEncoding.DecodeString(deleteTokenB64)
	if err != nil || len(deleteToken) == 0 {
		return fmt.Errorf("%s: deleteToken must be non-empty base64: %v", op, err)
	}

	record, err := s.getRecord(ctx, op, documentID)
	if err != nil {
		return err
	}
	if record.Status != model.StatusInitialised {
		return errInvalidState(op, "record '%s' is '%s', expected '%s'", documentID, record.Status, model.StatusInitialised)
	}
	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	directory := NewPrincipalDirectory(ctx)
	creatorKey, err := directory.GetPublicKey(op, record.CreatorID)
	if err != nil {
		return err
	}
	wrappedEditToken, err := wrapContentKey(creatorKey, editToken)
	if err != nil {
		return fmt.Errorf("%s: failed to wrap edit token for creator '%s': %w", op, record.CreatorID, err)
	}
	patientKey, err := directory.GetPublicKey(op, record.PatientID)
	if err != nil {
		return err
	}
	wrappedDeleteToken, err := wrapContentKey(patientKey, deleteToken)
	if err != nil {
		return fmt.Errorf("%s: failed to wrap delete token for patient '%s': %w", op, record.PatientID, err)
	}

	record.EditToken = wrappedEditToken
	record.DeleteToken = wrappedDeleteToken
	record.Status = model.StatusAvailable
	record.LastUpdatedAt = now
	if err := s.putRecord(ctx, op, record); err != nil {
		return err
	}
	logger.Infof("%s: record '%s' is now available", op, documentID)
	s.emitRecordEvent(ctx, "TokensAttached", record, caller, nil)
	return nil
}

// OpenForEdit moves a record from "available" to "inEditing" and returns the
// previously stored (creator-wrapped) edit token, base64-encoded. Only the
// creator may edit. The record type and content hash are replaced and the
// organization grants recomputed for the new type; the patient access key
// and doctor grants are left untouched.
func (s *EhrSmartContract) OpenForEdit(ctx contractapi.TransactionContextInterface, documentID, typeEHR, contentHashB64, contentKeyB64 string) (string, error) {
	const op = "OpenForEdit"
	caller, err := s.getCallerContext(ctx)
	if err != nil {
		return "", fmt.Errorf("%s: failed to get caller context: %w", op, err)
	}
	if err := s.validateRequiredString(typeEHR, "typeEHR", maxStringInputLength); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	contentHash, err := base64.StdEncoding.DecodeString(contentHashB64)
	if err != nil || len(contentHash) == 0 {
		return "", fmt.Errorf("%s: contentHash must be non-empty base64: %v", op, err)
	}
	contentKey, err := base64.StdEncoding.DecodeString(contentKeyB64)
	if err != nil || len(contentKey) == 0 {
		return "", fmt.Errorf("%s: contentKey must be non-empty base64: %v", op, err)
	}

	record, err := s.getRecord(ctx, op, documentID)
	if err != nil {
		return "", err
	}
	if caller.id != record.CreatorID {
		return "", errUnauthorized(op, "caller '%s' is not the creator of record '%s'", caller.id, documentID)
	}
	if record.Status != model.StatusAvailable {
		return "", errInvalidState(op, "record '%s' is '%s', expected '%s'", documentID, record.Status, model.StatusAvailable)
	}
	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	orgGrants, err := s.computeOrgGrants(ctx, typeEHR, contentKey, now)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	previousEditToken := record.EditToken
	record.TypeEHR = typeEHR
	record.ContentHash = contentHash
	record.OrgGrants = orgGrants
	record.Status = model.StatusInEditing
	record.LastUpdatedAt = now
	if err := s.putRecord(ctx, op, record); err != nil {
		return "", err
	}
	logger.Infof("%s: record '%s' opened for edit by creator '%s'", op, documentID, caller.id)
	s.emitRecordEvent(ctx, "RecordOpenedForEdit", record, caller, nil)
	return base64.StdEncoding.EncodeToString(previousEditToken), nil
}

// CloseEdit finishes an edit: the record returns from "inEditing" to
// "available" and a fresh edit token, wrapped for the creator, replaces the
// spent one. Gateways are refused.
func (s *EhrSmartContract) CloseEdit(ctx contractapi.TransactionContextInterface, documentID, newEditTokenB64 string) error {
	const op = "CloseEdit"
	caller, err := s.getCallerContext(ctx)
	if err != nil {
		return fmt.Errorf("%s: failed to get caller context: %w", op, err)
	}
	if caller.isGateway() {
		return errUnauthorized(op, "gateways may not close edits")
	}
	newEditToken, err := base64.StdEncoding.DecodeString(newEditTokenB64)
	if err != nil || len(newEditToken) == 0 {
		return fmt.Errorf("%s: editToken must be non-empty base64: %v", op, err)
	}

	record, err := s.getRecord(ctx, op, documentID)
	if err != nil {
		return err
	}
	if record.Status != model.StatusInEditing {
		return errInvalidState(op, "record '%s' is '%s', expected '%s'", documentID, record.Status, model.StatusInEditing)
	}
	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	creatorKey, err := NewPrincipalDirectory(ctx).GetPublicKey(op, record.CreatorID)
	if err != nil {
		return err
	}
	wrappedEditToken, err := wrapContentKey(creatorKey, newEditToken)
	if err != nil {
		return fmt.Errorf("%s: failed to wrap edit token for creator '%s': %w", op, record.CreatorID, err)
	}

	record.EditToken = wrappedEditToken
	record.Status = model.StatusAvailable
	record.LastUpdatedAt = now
	if err := s.putRecord(ctx, op, record); err != nil {
		return err
	}
	logger.Infof("%s: record '%s' is available again", op, documentID)
	s.emitRecordEvent(ctx, "EditClosed", record, caller, nil)
	return nil
}

// DeleteRecord removes a record from state and returns its stored
// (patient-wrapped) delete token, base64-encoded. Only the record's patient
// may delete, and only once every organization grant has expired.
func (s *EhrSmartContract) DeleteRecord(ctx contractapi.TransactionContextInterface, documentID string) (string, error) {
	const op = "DeleteRecord"
	caller, err := s.getCallerContext(ctx)
	if err != nil {
		return "", fmt.Errorf("%s: failed to get caller context: %w", op, err)
	}

	record, err := s.getRecord(ctx, op, documentID)
	if err != nil {
		return "", err
	}
	if caller.id != record.PatientID {
		return "", errUnauthorized(op, "caller '%s' is not the patient of record '%s'", caller.id, documentID)
	}
	if record.Status == model.StatusInitialised {
		return "", errInvalidState(op, "record '%s' is '%s', tokens were never attached", documentID, record.Status)
	}
	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if record.HasUnexpiredOrgGrant(now) {
		return "", errUnauthorized(op, "record '%s' still has unexpired organization grants", documentID)
	}

	if err := ctx.GetStub().DelState(recordKey(documentID)); err != nil {
		return "", fmt.Errorf("%s: failed to delete record '%s': %w", op, documentID, err)
	}
	logger.Infof("%s: record '%s' deleted by patient '%s'", op, documentID, caller.id)
	s.emitRecordEvent(ctx, "RecordDeleted", record, caller, nil)
	return base64.StdEncoding.EncodeToString(record.DeleteToken), nil
}
