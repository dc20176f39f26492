package contract

import (
	"fmt"
	"time"

	"medvault/model"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
)

// computeOrgGrants evaluates every registered organization policy against a
// record type and wraps the content key for each matching organization.
//
// Every rule of a policy is evaluated in submission order; when several rules
// of one organization match the same typeEHR the last one wins. Organizations
// whose public key is missing or unusable are skipped with a warning so one
// broken registration never blocks record creation.
func (s *EhrSmartContract) computeOrgGrants(ctx contractapi.TransactionContextInterface, typeEHR string, contentKey []byte, now time.Time) (map[string]model.OrgGrant, error) {
	const op = "computeOrgGrants"
	directory := NewPrincipalDirectory(ctx)
	policies, err := directory.ListOrganizationPolicies()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	grants := map[string]model.OrgGrant{}
	for _, policy := range policies {
		var matched *model.SharingRule
		for i := range policy.Rules {
			if policy.Rules[i].TypeEHR == typeEHR {
				matched = &policy.Rules[i]
			}
		}
		if matched == nil {
			continue
		}

		publicKey, err := directory.GetPublicKey(op, policy.OrganizationID)
		if err != nil {
			logger.Warningf("%s: no usable public key for organization '%s': %v. Skipping.", op, policy.OrganizationID, err)
			continue
		}
		wrappedKey, err := wrapContentKey(publicKey, contentKey)
		if err != nil {
			logger.Warningf("%s: failed to wrap content key for organization '%s': %v. Skipping.", op, policy.OrganizationID, err)
			continue
		}

		grants[policy.OrganizationID] = model.OrgGrant{
			Key:    wrappedKey,
			Expiry: now.Add(time.Duration(matched.DurationMinutes) * time.Minute),
		}
	}
	logger.Debugf("%s: distributed content key for type '%s' to %d organization(s)", op, typeEHR, len(grants))
	return grants, nil
}
