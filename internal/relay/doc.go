// Package relay carries conversation fan-out between gateway instances.
//
// A single instance broadcasts straight through its realtime.Hub. When
// several instances share a database, each wraps its hub in a Relay: Publish
// delivers to local members and then publishes an envelope on a redis
// channel; Run replays envelopes published by other instances into the local
// hub. Envelopes carry the publishing instance's origin ID so nothing is
// delivered twice.
package relay
