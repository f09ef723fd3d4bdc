// Package version carries the release string stamped into builds.
package version

// V is the current version of the gateway.
var V = "v0.3.1"
