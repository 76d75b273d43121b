// Package command turns an owner's intent into a recorded state and a
// broker command.
//
// Dispatch checks ownership, writes the desired state to the registry
// (source "command") and publishes the state token to the device's
// command topic. The state is recorded before the publish is attempted,
// so a broker outage never loses the owner's intent: the publish failure
// is logged, counted and reported in Ack.Published, but Dispatch still
// succeeds.
//
// An Ack means "accepted and dispatched", never "confirmed". The device's
// own status report, handled by package ingest, is the confirmation.
package command
