// Package types defines the core data model of the historical storage
// engine: samples, data types, calculation methods and per-channel
// metadata. All other storage packages build on these definitions.
package types
