// Package simulate synthesizes sensor byte streams: PPG pulses, breathing
// traces and the packages that carry them, written raw or as pcap captures
// of UDP datagrams.
package simulate
