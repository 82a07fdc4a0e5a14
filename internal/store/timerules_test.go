package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plexguard/internal/models"
)

func TestCreateAndListTimeRule(t *testing.T) {
	s := newTestStoreWithMigrations(t)
	r := &models.TimeRule{
		UserID: "1", DayOfWeek: 1, StartTime: "22:00", EndTime: "23:59",
		Enabled: true, RuleName: "school night",
	}
	require.NoError(t, s.CreateTimeRule(r))
	assert.NotZero(t, r.ID)

	rules, err := s.ListTimeRulesForUser("1")
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "school night", rules[0].RuleName)
	assert.Equal(t, "", rules[0].DeviceIdentifier)
}

func TestCreateTimeRuleInvalid(t *testing.T) {
	s := newTestStoreWithMigrations(t)
	r := &models.TimeRule{UserID: "", DayOfWeek: 1, StartTime: "22:00", EndTime: "23:59"}
	assert.Error(t, s.CreateTimeRule(r))
}

func TestListTimeRulesForUserExcludesDisabled(t *testing.T) {
	s := newTestStoreWithMigrations(t)
	require.NoError(t, s.CreateTimeRule(&models.TimeRule{
		UserID: "1", DayOfWeek: 1, StartTime: "22:00", EndTime: "23:00", Enabled: true, RuleName: "on",
	}))
	require.NoError(t, s.CreateTimeRule(&models.TimeRule{
		UserID: "1", DayOfWeek: 2, StartTime: "22:00", EndTime: "23:00", Enabled: false, RuleName: "off",
	}))

	rules, err := s.ListTimeRulesForUser("1")
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "on", rules[0].RuleName)
}

func TestUpdateTimeRule(t *testing.T) {
	s := newTestStoreWithMigrations(t)
	r := &models.TimeRule{UserID: "1", DayOfWeek: 1, StartTime: "22:00", EndTime: "23:00", Enabled: true, RuleName: "original"}
	require.NoError(t, s.CreateTimeRule(r))

	r.RuleName = "renamed"
	r.DeviceIdentifier = "dev-1"
	require.NoError(t, s.UpdateTimeRule(r))

	rules, err := s.ListTimeRulesForUser("1")
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "renamed", rules[0].RuleName)
	assert.Equal(t, "dev-1", rules[0].DeviceIdentifier)
}

func TestUpdateTimeRuleNotFound(t *testing.T) {
	s := newTestStoreWithMigrations(t)
	r := &models.TimeRule{ID: 999, UserID: "1", DayOfWeek: 1, StartTime: "22:00", EndTime: "23:00"}
	assert.ErrorIs(t, s.UpdateTimeRule(r), models.ErrNotFound)
}

func TestDeleteTimeRule(t *testing.T) {
	s := newTestStoreWithMigrations(t)
	r := &models.TimeRule{UserID: "1", DayOfWeek: 1, StartTime: "22:00", EndTime: "23:00", Enabled: true}
	require.NoError(t, s.CreateTimeRule(r))

	require.NoError(t, s.DeleteTimeRule(r.ID))
	rules, err := s.ListTimeRulesForUser("1")
	require.NoError(t, err)
	assert.Empty(t, rules)
}

func TestDeleteTimeRuleNotFound(t *testing.T) {
	s := newTestStoreWithMigrations(t)
	assert.ErrorIs(t, s.DeleteTimeRule(999), models.ErrNotFound)
}

func TestListTimeRulesAll(t *testing.T) {
	s := newTestStoreWithMigrations(t)
	require.NoError(t, s.CreateTimeRule(&models.TimeRule{UserID: "1", DayOfWeek: 1, StartTime: "22:00", EndTime: "23:00", Enabled: true}))
	require.NoError(t, s.CreateTimeRule(&models.TimeRule{UserID: "2", DayOfWeek: 2, StartTime: "21:00", EndTime: "22:00", Enabled: false}))

	rules, err := s.ListTimeRules()
	require.NoError(t, err)
	assert.Len(t, rules, 2)
}
