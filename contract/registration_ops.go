package contract

import (
	"encoding/json"
	"fmt"

	"medvault/model"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
)

// --- Principal registration operations ---

// RegisterPrincipal registers (or re-registers) the caller's public key in
// the principal directory. The key is opaque PEM; no role is required, as
// patients, doctors, organizations and gateways all register the same way.
func (s *EhrSmartContract) RegisterPrincipal(ctx contractapi.TransactionContextInterface, publicKeyPEM string) error {
	const op = "RegisterPrincipal"
	caller, err := s.getCallerContext(ctx)
	if err != nil {
		return fmt.Errorf("%s: failed to get caller context: %w", op, err)
	}
	logger.Infof("%s: caller '%s' (role '%s')", op, caller.id, caller.role)
	return NewPrincipalDirectory(ctx).RegisterPrincipal(caller.id, []byte(publicKeyPEM))
}

// RegisterOrganizationPolicy replaces the caller organization's declarative
// sharing policy wholesale. rulesJSON is an ordered array of
// {"typeEHR": string, "durationMinutes": int} objects; duplicate typeEHR
// entries are allowed.
func (s *EhrSmartContract) RegisterOrganizationPolicy(ctx contractapi.TransactionContextInterface, rulesJSON string) error {
	const op = "RegisterOrganizationPolicy"
	caller, err := s.getCallerContext(ctx)
	if err != nil {
		return fmt.Errorf("%s: failed to get caller context: %w", op, err)
	}
	if caller.role != model.RoleHealthOrganization {
		return errUnauthorized(op, "caller '%s' does not hold the '%s' role", caller.id, model.RoleHealthOrganization)
	}

	var rules []model.SharingRule
	if err := json.Unmarshal([]byte(rulesJSON), &rules); err != nil {
		return fmt.Errorf("%s: invalid rulesJSON: %w", op, err)
	}
	return NewPrincipalDirectory(ctx).RegisterOrganizationPolicy(caller.id, rules)
}
