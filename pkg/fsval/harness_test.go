package fsval

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStandardScenariosAllPass(t *testing.T) {
	h := NewHarness(t.TempDir())
	report, err := h.Run(context.Background())
	require.NoError(t, err)

	for _, res := range report.Results {
		assert.Truef(t, res.Passed, "%s (%s) failed: %s", res.Name, res.Description, res.Error)
	}
	assert.Equal(t, len(StandardScenarios()), report.TotalCount)
	assert.Equal(t, report.TotalCount, report.PassedCount)
	assert.Zero(t, report.FailedCount)
}

func TestScenarioS1Individually(t *testing.T) {
	require.NoError(t, scenarioS1(t.TempDir()))
}

func TestScenarioS2Individually(t *testing.T) {
	require.NoError(t, scenarioS2(t.TempDir()))
}

func TestScenarioS3Individually(t *testing.T) {
	require.NoError(t, scenarioS3(t.TempDir()))
}

func TestScenarioS4Individually(t *testing.T) {
	require.NoError(t, scenarioS4(t.TempDir()))
}

func TestScenarioS5Individually(t *testing.T) {
	require.NoError(t, scenarioS5(t.TempDir()))
}

func TestScenarioS6Individually(t *testing.T) {
	require.NoError(t, scenarioS6(t.TempDir()))
}

func TestHarnessRunRequiresScenarios(t *testing.T) {
	h := &Harness{root: t.TempDir()}
	_, err := h.Run(context.Background())
	assert.Error(t, err)
}
