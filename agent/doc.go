// Package agent contains the conversational steps of a turn:
//
//  1. Router (welcome_user) triages the user input and decides which tool or
//     agent acts next
//  2. Synthesis (answer_user) turns retrieved documents or web results into a
//     candidate answer
//  3. Respond (respond_to_human) delivers the final answer and ends the turn
//
// Agents never call each other. Each one reads the unconsumed instructions
// addressed to it from the event log and appends exactly one new entry.
// Model-backed agents share BaseAgent for identity, model access and logging.
package agent
