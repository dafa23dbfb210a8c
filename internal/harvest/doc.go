// Package harvest fetches batches of URLs concurrently, classifies every
// response and returns exactly one Result per Target.
//
// A Harvester is stateless between calls. Index-to-detail discovery is done by
// callers composing two FetchAll invocations.
package harvest
