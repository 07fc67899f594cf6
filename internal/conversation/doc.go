// Package conversation answers chat questions against the active index.
//
// Each question runs a conversational ReAct agent with one tool, "GPT Index",
// which queries the index through a retrieval QA chain. When the agent uses
// the tool its observation is returned to the caller as is, without a second
// pass through the model. The last few turns of the chat are loaded from the
// history store into the prompt, and the new exchange is appended after the
// agent finishes.
//
// Without an active index no model call is made; the result carries
// OutcomeEmpty instead of an answer.
package conversation
