// Package protocol implements the sensor package wire format.
// It describes the fixed per-sensor-type layouts (markers, field offsets,
// checksum schemes, sample rates), decodes validated packages into samples
// and encodes samples back into packages for simulation and tests.
package protocol
