// Package flows contains the orchestrators behind the server procedures.
//
// Each flow function (RunLogin, RunLogout, RunSSO, RunRetrieve) accepts a
// typed dependency struct of funcs and returns results without side effects
// beyond those dependencies. The procedures in internal/services build the
// structs once and only translate WAMP arguments and errors.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import the root package.
//   - Perform I/O directly. Users, the session registry, the rate limiter
//     and the remember-me manager are reached through the deps.
package flows
