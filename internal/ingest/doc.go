// Package ingest applies device status reports from the broker to the
// device registry.
//
// A single wildcard subscription (home/devices/+/status) carries every
// device's reports. The Ingestor owns that subscription: Run establishes
// it, re-establishes it each time NotifyConnected signals a new broker
// session, and removes it on shutdown. Subscribe failures are retried with
// capped exponential backoff.
//
// Payloads may be a bare state token ("ON"), a JSON string ("\"ON\"") or
// a JSON object ({"state":"ON"}). Reports for unregistered devices are
// dropped at debug level; malformed reports are dropped at warn level.
// HandleMessage never returns an error, so one bad message cannot tear
// down the subscription.
package ingest
