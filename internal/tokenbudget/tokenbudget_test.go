package tokenbudget

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestForModelOrderedMatching(t *testing.T) {
	cases := []struct {
		model string
		want  uint64
	}{
		{"claude-4-5-sonnet-20260219", 200_000},
		{"claude-4-sonnet", 200_000},
		{"gpt-4.1-mini", 1_047_576},
		{"gpt-4o-2024-08-06", 128_000},
		{"gpt-4-0613", 8_192},
		{"gemini-2.5-pro", 1_048_576},
		{"totally-unknown-model", DefaultMaxContextTokens},
	}
	for _, tc := range cases {
		cfg := ForModel(tc.model)
		require.Equalf(t, tc.want, cfg.MaxContextTokens, "model %q", tc.model)
	}
}

func TestAvailableTokensReservesSystemAndResponse(t *testing.T) {
	cfg := ForModel("claude-4-5-sonnet")
	require.Equal(t, uint64(200_000-4000-8192), cfg.AvailableTokens())
}

func TestLevelThresholds(t *testing.T) {
	cfg := Config{MaxContextTokens: 100_000, ReservedSystemTokens: 0, ReservedResponseTokens: 0, WarningThreshold: 0.75, AlertThreshold: 0.85}
	require.Equal(t, AlertNormal, cfg.Level(10_000))
	require.Equal(t, AlertWarning, cfg.Level(80_000))
	require.Equal(t, AlertCritical, cfg.Level(90_000))
}

func TestUsageAdd(t *testing.T) {
	var u Usage
	u.Add(Usage{InputTokens: 10, OutputTokens: 5})
	u.Add(Usage{InputTokens: 3, OutputTokens: 1})
	require.Equal(t, uint64(13), u.InputTokens)
	require.Equal(t, uint64(6), u.OutputTokens)
	require.Equal(t, uint64(19), u.Total())
}

func TestEstimateTokens(t *testing.T) {
	require.Equal(t, 0, EstimateTokens(""))
	require.Equal(t, 1, EstimateTokens("abc"))
	require.Equal(t, 1, EstimateTokens("abcd"))
	require.Equal(t, 2, EstimateTokens("abcde"))
}
