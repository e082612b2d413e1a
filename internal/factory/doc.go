// Package factory opens TCP connections to destinations, choosing between a
// direct connection and the proxies a resolver offers.
//
// The settings that worked for a destination are cached and tried first on
// the next call. A cached entry that fails is evicted and discovery runs
// again. Candidates are tried strictly in resolver order, one at a time.
package factory
