package pricing

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestProductCredits(t *testing.T) {
	table := DefaultTable()

	credits, ok := table.ProductCredits(ProductCredits10)
	require.True(t, ok)
	require.Equal(t, 10.0, credits)

	credits, ok = table.ProductCredits(ProductProYear)
	require.True(t, ok)
	require.Equal(t, 120.0, credits)

	// Unknown identifiers grant nothing; client amounts are never trusted.
	credits, ok = table.ProductCredits("credits.9001")
	require.False(t, ok)
	require.Zero(t, credits)

	credits, ok = table.ProductCredits("  credits.25  ")
	require.True(t, ok)
	require.Equal(t, 25.0, credits)
}

func TestVoiceCost(t *testing.T) {
	table := DefaultTable()

	require.InDelta(t, 0.50, table.VoiceCost(10), 1e-9)
	require.Zero(t, table.VoiceCost(0))
	require.Zero(t, table.VoiceCost(-3))
}

func TestLLMCost(t *testing.T) {
	table := DefaultTable()

	// 1M text input at $2/M.
	require.InDelta(t, 2.0, table.LLMCost(LLMUsage{TextInputTokens: 1_000_000}), 1e-9)

	cost := table.LLMCost(LLMUsage{
		TextInputTokens:   500_000,
		TextOutputTokens:  100_000,
		AudioInputTokens:  200_000,
		AudioOutputTokens: 50_000,
		CachedInputTokens: 1_000_000,
	})
	// 1 + 1 + 2 + 1 + 0.5
	require.InDelta(t, 5.5, cost, 1e-9)

	require.Zero(t, table.LLMCost(LLMUsage{}))
}

func TestSocialCost(t *testing.T) {
	table := DefaultTable()

	require.InDelta(t, 0.001, table.SocialCost(1, 0), 1e-9)
	require.InDelta(t, 0.004, table.SocialCost(0, 1), 1e-9)
	require.InDelta(t, 0.30, table.SocialCost(100, 50), 1e-9)
	require.Zero(t, table.SocialCost(-5, -5))
}

func TestStaticHolder(t *testing.T) {
	table := DefaultTable()
	table.Voice.PerMinute = 0.10

	holder := NewStaticHolder(table)
	require.InDelta(t, 0.10, holder.Get().Voice.PerMinute, 1e-9)
}
