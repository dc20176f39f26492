package contract

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"medvault/model"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
	"github.com/hyperledger/fabric/common/flogging"
)

var dirLogger = flogging.MustGetLogger("medvault.principaldirectory")

// PrincipalDirectory stores each principal's public key and, for health
// organizations, their declarative sharing policy.
type PrincipalDirectory struct {
	Ctx contractapi.TransactionContextInterface
}

// NewPrincipalDirectory creates a new instance of PrincipalDirectory.
func NewPrincipalDirectory(ctx contractapi.TransactionContextInterface) *PrincipalDirectory {
	return &PrincipalDirectory{Ctx: ctx}
}

func principalKey(principalID string) string {
	return principalID
}

func organizationPolicyKey(organizationID string) string {
	return organizationID + policyKeySuffix
}

func (pd *PrincipalDirectory) getCurrentTxTimestamp() (time.Time, error) {
	ts, err := pd.Ctx.GetStub().GetTxTimestamp()
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get transaction timestamp: %w", err)
	}
	return ts.AsTime(), nil
}

// RegisterPrincipal upserts a principal's public key. Registration is
// idempotent: re-registering overwrites the stored key and keeps the
// original RegisteredAt.
func (pd *PrincipalDirectory) RegisterPrincipal(principalID string, publicKeyPEM []byte) error {
	const op = "RegisterPrincipal"
	if strings.TrimSpace(principalID) == "" {
		return fmt.Errorf("%s: principalId cannot be empty", op)
	}
	if err := validatePublicKeyPEM(publicKeyPEM); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	now, err := pd.getCurrentTxTimestamp()
	if err != nil {
		return err
	}

	key := principalKey(principalID)
	existingBytes, err := pd.Ctx.GetStub().GetState(key)
	if err != nil {
		return fmt.Errorf("%s: failed to read principal '%s': %w", op, principalID, err)
	}

	record := model.PrincipalRecord{
		DocType:       principalDocType,
		PrincipalID:   principalID,
		PublicKey:     publicKeyPEM,
		RegisteredAt:  now,
		LastUpdatedAt: now,
	}
	if existingBytes != nil {
		var existing model.PrincipalRecord
		if err := json.Unmarshal(existingBytes, &existing); err != nil {
			return fmt.Errorf("%s: failed to unmarshal existing principal '%s': %w", op, principalID, err)
		}
		record.RegisteredAt = existing.RegisteredAt
		dirLogger.Infof("Re-registering principal '%s' (key replaced)", principalID)
	} else {
		dirLogger.Infof("Registering new principal '%s'", principalID)
	}

	recordBytes, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("%s: failed to marshal principal '%s': %w", op, principalID, err)
	}
	if err := pd.Ctx.GetStub().PutState(key, recordBytes); err != nil {
		return fmt.Errorf("%s: failed to save principal '%s': %w", op, principalID, err)
	}
	return nil
}

// GetPublicKey returns the registered public key for a principal, or a
// NotFound error when the principal is unregistered.
func (pd *PrincipalDirectory) GetPublicKey(op, principalID string) ([]byte, error) {
	if strings.TrimSpace(principalID) == "" {
		return nil, errNotFound(op, "principalId cannot be empty")
	}
	recordBytes, err := pd.Ctx.GetStub().GetState(principalKey(principalID))
	if err != nil {
		return nil, fmt.Errorf("%s: failed to read principal '%s': %w", op, principalID, err)
	}
	if recordBytes == nil {
		return nil, errNotFound(op, "principal '%s' is not registered", principalID)
	}
	var record model.PrincipalRecord
	if err := json.Unmarshal(recordBytes, &record); err != nil {
		return nil, fmt.Errorf("%s: failed to unmarshal principal '%s': %w", op, principalID, err)
	}
	return record.PublicKey, nil
}

// RegisterOrganizationPolicy replaces an organization's sharing policy
// wholesale. Rules are kept in submission order; duplicate typeEHR entries
// are allowed and every matching rule is evaluated at distribution time.
func (pd *PrincipalDirectory) RegisterOrganizationPolicy(organizationID string, rules []model.SharingRule) error {
	const op = "RegisterOrganizationPolicy"
	if strings.TrimSpace(organizationID) == "" {
		return fmt.Errorf("%s: organizationId cannot be empty", op)
	}
	if len(rules) > maxSharingRules {
		return fmt.Errorf("%s: policy has %d rules, exceeding maximum of %d", op, len(rules), maxSharingRules)
	}
	for i, rule := range rules {
		if strings.TrimSpace(rule.TypeEHR) == "" {
			return fmt.Errorf("%s: rules[%d].typeEHR cannot be empty", op, i)
		}
		if rule.DurationMinutes <= 0 {
			return fmt.Errorf("%s: rules[%d].durationMinutes must be positive", op, i)
		}
	}
	now, err := pd.getCurrentTxTimestamp()
	if err != nil {
		return err
	}

	policy := model.OrganizationPolicy{
		DocType:        policyDocType,
		OrganizationID: organizationID,
		Rules:          rules,
		UpdatedAt:      now,
	}
	policyBytes, err := json.Marshal(policy)
	if err != nil {
		return fmt.Errorf("%s: failed to marshal policy for '%s': %w", op, organizationID, err)
	}
	if err := pd.Ctx.GetStub().PutState(organizationPolicyKey(organizationID), policyBytes); err != nil {
		return fmt.Errorf("%s: failed to save policy for '%s': %w", op, organizationID, err)
	}
	dirLogger.Infof("Organization '%s' registered sharing policy with %d rule(s)", organizationID, len(rules))
	return nil
}

// ListOrganizationPolicies enumerates every registered sharing policy via a
// rich query on the docType discriminator. The iterator is fully drained
// and closed on every exit path.
func (pd *PrincipalDirectory) ListOrganizationPolicies() ([]model.OrganizationPolicy, error) {
	const op = "ListOrganizationPolicies"
	queryString := fmt.Sprintf(`{"selector":{"docType":"%s"}}`, policyDocType)
	resultsIterator, err := pd.Ctx.GetStub().GetQueryResult(queryString)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to query organization policies: %w", op, err)
	}
	defer resultsIterator.Close()

	policies := []model.OrganizationPolicy{}
	for resultsIterator.HasNext() {
		queryResponse, iterErr := resultsIterator.Next()
		if iterErr != nil {
			return nil, fmt.Errorf("%s: failed to advance policy iterator: %w", op, iterErr)
		}
		var policy model.OrganizationPolicy
		if err := json.Unmarshal(queryResponse.Value, &policy); err != nil {
			dirLogger.Warningf("%s: failed to unmarshal policy at key '%s': %v. Skipping.", op, queryResponse.Key, err)
			continue
		}
		policies = append(policies, policy)
	}
	return policies, nil
}
