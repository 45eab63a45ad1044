// Package source reads raw sensor bytes from a capture file, a serial
// receiver or a pcap capture of UDP payloads, and pumps them into a
// consumer in chunks.
package source
