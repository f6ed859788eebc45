// Package services registers the LIEStudio server procedures on a
// wamp/router Router.
//
// The procedures decode positional WAMP arguments, run the matching
// internal/flows orchestrator and encode the reply. Errors the caller should
// see are returned as *wamp.Error with a liestudio.error.* URI; anything
// else surfaces as wamp.error.runtime_error.
package services
