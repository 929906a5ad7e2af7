// Package engine dispatches chat platform updates and messages through ordered
// middleware pipelines.
//
// Incoming middleware runs for every update a bot receives, filtered by the
// bot's capability descriptor. Outgoing middleware runs for every message a bot
// sends, unless the send bypasses it. Handlers return a Verdict instead of
// calling a continuation: Next advances the walk and the skip verdicts end it
// early. Handler errors and panics never escape the engine as crashes. Incoming
// failures are reported to error observers, outgoing failures are returned to
// the sender.
//
// A send made while handling an update is correlated with that update. The
// correlation is carried by the context passed to handlers and observers and by
// bot handles patched with Bot.WithUpdate.
package engine
