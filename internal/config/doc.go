// Package config provides configuration loading and validation for the HR/BR
// decoder service. It reads a YAML file describing the sensor, the byte
// source, session lifetimes, the monitoring server and logging.
package config
