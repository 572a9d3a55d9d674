// Package jobs runs background work such as transactional email.
//
// Client and Server are the ports. With a redis URL configured the gateway
// uses AsynqClient and AsynqServer; otherwise Inline runs handlers in-process.
// Handlers are plain functions keyed by task type, and every run is counted
// in the job metrics.
package jobs
