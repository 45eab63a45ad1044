// Package session provides the health session façade with its
// initialize, feed, read and dispose lifecycle. A session owns one framing
// buffer and one estimator for its sensor type and absorbs transient data
// errors into diagnostics instead of returning them.
package session
