package tools

// Tool names understood by the negotiation loop.
const (
	CalculateRiskAdjustedReturn = "calculate_risk_adjusted_return"
	RecommendRebalance          = "recommend_rebalance"
)

// Definition declares a tool to the oracle.
type Definition struct {
	Name        string
	Description string
	InputSchema Schema
}

// RebalanceToolDefinitions returns the fixed tool set offered to the oracle on every round.
func RebalanceToolDefinitions() []Definition {
	return []Definition{
		{
			Name:        CalculateRiskAdjustedReturn,
			Description: "Calculate the risk-adjusted return (Sharpe-like metric) of a protocol: apy / (1 + risk_score/10).",
			InputSchema: WithThought(ObjectSchema(map[string]interface{}{
				"apy":        NumberProperty("Annual percentage yield, e.g. 15.2"),
				"risk_score": NumberProperty("Risk score from 1 (safest) to 10"),
			}, "apy", "risk_score")),
		},
		{
			Name:        RecommendRebalance,
			Description: "Recommend whether to move the vault's funds and to which protocol. Call again to revise an earlier recommendation; the last valid call wins.",
			InputSchema: WithThought(ObjectSchema(map[string]interface{}{
				"should_rebalance": BooleanProperty("True to move funds, false to stay"),
				"target_protocol":  StringProperty("Protocol name to move funds to (required when should_rebalance is true)"),
				"delta_percentage": NumberProperty("Risk-adjusted improvement over the current allocation, in percent"),
				"reason":           StringProperty("Short human-readable justification"),
			}, "should_rebalance", "target_protocol", "delta_percentage", "reason")),
		},
	}
}
