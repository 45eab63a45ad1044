// Package estimator maintains the rolling signal state of a session and derives
// heart rate and breathing rate from it by windowed peak detection. Numeric
// policies (window lengths, thresholds, rate ranges) are per-sensor-type profiles.
package estimator
