// Package framing turns an arbitrarily chunked byte stream into complete,
// checksum-verified sensor packages. It keeps a bounded backlog, resynchronizes
// on corrupt input one marker byte at a time and never returns partial packages.
package framing
