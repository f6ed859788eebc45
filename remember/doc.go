// Package remember issues and verifies the signed remember-me token that
// lets a LIEStudio client re-authenticate silently, and builds the cookie
// that carries it.
package remember
