// Package bridge exposes sessions to the platform channel through typed,
// validated requests. Sessions are addressed by opaque handles and removed
// automatically after a period of inactivity.
package bridge
