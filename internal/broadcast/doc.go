// Package broadcast copies one operator-supplied message to every known
// recipient.
//
// A Coordinator drives a per-operator Session through
// AwaitingContent -> AwaitingConfirm -> Broadcasting. Confirming starts a
// run: a Dispatcher pulls ids from a Source, delivers at most MaxInFlight
// copies at a time and tallies the outcome, while a Reporter edits a single
// status message in place. Failed deliveries are counted, never retried.
package broadcast
