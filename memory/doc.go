// Package memory stores past negotiation outcomes and feeds them back to the oracle.
//
// Each completed negotiation is recorded as a DecisionMemory in a vector store,
// namespaced by vault ID. Before the next negotiation the manager retrieves the
// memories closest to the current market facts and formats them for the system prompt.
//
// Architecture:
//   - Store: vector storage backend (chromem-go, embedded and in-memory)
//   - Embedder: text-to-vector conversion (deterministic hash embedder)
//   - Manager: decides what to record, what to retrieve and how to format it
//
// Integration:
//   - RETRIEVE phase: before the first oracle round
//   - RECORD phase: after the negotiation reaches a terminal state
package memory
