package engine

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/becomeliminal/yieldmind/core"
)

// DefaultThreshold is the minimum risk-adjusted improvement, in percent, worth a rebalance.
const DefaultThreshold = 2.0

// DefaultSystemPrompt frames the oracle's role for every negotiation.
const DefaultSystemPrompt = `You are an AI DeFi optimizer for YieldMind on BNB Chain.

GUIDELINES:
- Compare protocols by risk-adjusted return, never by raw APY alone
- Use calculate_risk_adjusted_return for every protocol you compare
- Finish by calling recommend_rebalance exactly once with your final answer
- You may call recommend_rebalance again to revise an earlier recommendation; the last valid call wins

REASONING PATTERN:
Include a "thought" field in tool calls explaining what you have verified and what you expect.`

// BuildUserPrompt renders the per-cycle facts for the first user turn.
func BuildUserPrompt(facts *Facts) string {
	protocols := make([]map[string]interface{}, 0, len(facts.Protocols))
	for _, p := range facts.Protocols {
		protocols = append(protocols, map[string]interface{}{
			"name":       p.Name,
			"apy":        p.APY,
			"tvl":        p.TVL,
			"risk_score": p.RiskScore,
		})
	}
	protocolJSON, _ := json.MarshalIndent(protocols, "", "  ")
	allocationJSON, _ := json.MarshalIndent(facts.Allocation, "", "  ")

	threshold := facts.Threshold
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Current Protocol Data:\n%s\n\n", protocolJSON)
	fmt.Fprintf(&b, "Current Vault Allocation:\n%s\n\n", allocationJSON)
	b.WriteString("Your task:\n")
	b.WriteString("1. Calculate risk-adjusted returns for each protocol using the calculate_risk_adjusted_return tool\n")
	b.WriteString("2. Compare the best risk-adjusted return with the current allocation\n")
	fmt.Fprintf(&b, "3. If the delta is > %g%%, recommend a rebalance using the recommend_rebalance tool\n", threshold)
	fmt.Fprintf(&b, "4. If delta <= %g%%, recommend no rebalance\n\n", threshold)
	b.WriteString("Consider:\n")
	b.WriteString("- Higher APY is better but must be balanced with risk\n")
	b.WriteString("- Risk-adjusted return = APY / (1 + risk_score/10)\n")
	fmt.Fprintf(&b, "- Only rebalance if improvement is > %g%% to avoid gas waste\n", threshold)
	return b.String()
}

// memoryQuery summarizes facts as a retrieval query.
func memoryQuery(facts *Facts) string {
	parts := []string{"From: " + facts.Allocation.Protocol}
	for _, p := range facts.Protocols {
		parts = append(parts, fmt.Sprintf("%s apy %.2f risk %d", p.Name, p.APY, p.RiskScore))
	}
	return strings.Join(parts, "\n")
}

// protocolNames lists protocol names for log lines.
func protocolNames(protocols []core.ProtocolSnapshot) string {
	names := make([]string, len(protocols))
	for i, p := range protocols {
		names[i] = p.Name
	}
	return strings.Join(names, ", ")
}
