package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHasUnexpiredOrgGrant(t *testing.T) {
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	record := &HealthRecord{
		OrgGrants: map[string]OrgGrant{
			"clinic":   {Expiry: now.Add(-time.Minute)},
			"hospital": {Expiry: now.Add(time.Minute)},
		},
	}
	assert.True(t, record.HasUnexpiredOrgGrant(now))

	// Expiry instant itself no longer counts as active.
	record.OrgGrants = map[string]OrgGrant{"clinic": {Expiry: now}}
	assert.False(t, record.HasUnexpiredOrgGrant(now))

	record.OrgGrants = nil
	assert.False(t, record.HasUnexpiredOrgGrant(now))
}
