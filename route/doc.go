// Package route holds the navigation tree of a LIEStudio client and the
// guard that keeps logged-out users on the login view.
//
// A [Table] is loaded once and never changes. A [Router] walks it: every
// navigation to a guarded definition asks the [Guard] first and lands on the
// login definition when access is denied. Guards are synchronous and do no
// I/O; role based checks are not part of this package.
package route
