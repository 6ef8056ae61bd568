package prompt

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCompose_OrdersByPriorityAndSkipsEmpty(t *testing.T) {
	r := NewRegistry()
	r.Register(CustomContributor(func(ctx Context) string { return "custom fragment" }))
	r.Register(ProviderContributor(func(ctx Context) string { return "provider fragment" }))
	r.Register(ToolsContributor(func(ctx Context) string { return "tools fragment" }))
	r.Register(ContributorFunc{Pri: PriorityCustom, Fn: func(Context) string { return "" }})

	out := r.Compose(Context{Provider: "anthropic"})

	toolsIdx := indexOf(out, "tools fragment")
	providerIdx := indexOf(out, "provider fragment")
	customIdx := indexOf(out, "custom fragment")

	require.True(t, toolsIdx < providerIdx)
	require.True(t, providerIdx < customIdx)
	require.Contains(t, out, baseSystemPrompt)
}

func TestSubAgentDocsContributor_EmptyWhenNoSubAgents(t *testing.T) {
	r := NewRegistry()
	r.Register(SubAgentDocsContributor(func(ctx Context) string { return "sub-agent docs" }))

	out := r.Compose(Context{HasSubAgents: false})
	require.NotContains(t, out, "sub-agent docs")

	out = r.Compose(Context{HasSubAgents: true})
	require.Contains(t, out, "sub-agent docs")
}

func indexOf(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}
