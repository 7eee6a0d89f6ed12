package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRiskLevel_Ordering(t *testing.T) {
	assert.Greater(t, RiskHigh.Rank(), RiskMedium.Rank())
	assert.Greater(t, RiskMedium.Rank(), RiskLow.Rank())
	assert.Greater(t, RiskLow.Rank(), RiskUnknown.Rank())
	assert.Equal(t, RiskUnknown.Rank(), RiskLevel("CATASTROPHIC").Rank())
}

func TestNormalizeRisk(t *testing.T) {
	assert.Equal(t, RiskHigh, NormalizeRisk(" high "))
	assert.Equal(t, RiskLow, NormalizeRisk("LOW"))
	assert.Equal(t, RiskUnknown, NormalizeRisk(""))
	assert.Equal(t, RiskUnknown, NormalizeRisk("severe"))
}

func TestRollbackStep_HasInverse(t *testing.T) {
	sql := "DROP TABLE t"
	blank := "   "
	assert.True(t, RollbackStep{InverseSQL: &sql}.HasInverse())
	assert.False(t, RollbackStep{InverseSQL: &blank}.HasInverse())
	assert.False(t, RollbackStep{}.HasInverse())
}

func TestRollbackPlan_ExecutionOrder(t *testing.T) {
	plan := RollbackPlan{Steps: []RollbackStep{
		{StepIndex: 1, Description: "a"},
		{StepIndex: 3, Description: "c"},
		{StepIndex: 2, Description: "b"},
	}}

	got := plan.ExecutionOrder()
	assert.Equal(t, []int{3, 2, 1}, []int{got[0].StepIndex, got[1].StepIndex, got[2].StepIndex})
	// The plan itself is untouched.
	assert.Equal(t, 1, plan.Steps[0].StepIndex)
}
