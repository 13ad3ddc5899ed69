// Package config loads kernel daemon configuration from environment
// variables via envconfig, with production defaults for every knob: the
// physical memory budget, per-process quota, quantum bounds, logging, and
// the introspection HTTP surface.
package config
