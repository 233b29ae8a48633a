// Package llm provides a leaf policy backed by a language model.
//
// The policy renders its scope ledger as a conversation, exposes the
// policies permitted by the action as tools, and turns the model response
// back into steps: a text step for the assistant message and one
// action_call step per tool call. Combined with flow.Agent the model drives
// a tool-using loop whose calls are recorded and replayed like any other.
//
// Emitted steps carry a digest of the request that produced them. When a
// scope is replayed the policy answers an identical request from history
// instead of querying the model again, so resumed runs see the same turns.
package llm
