// Package internal holds helpers private to the module, such as random
// token generation.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher + Sink implementations)
//   - cli: the liestudio command tree
//   - config: environment configuration of the commands
//   - flows: login, logout, sso and retrieve orchestration
//   - rate: Redis-backed login and retrieval limits
//   - services: the liestudio.* procedures registered on the router
package internal
