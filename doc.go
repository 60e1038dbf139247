// Command-line binaries cmd/ert-node and cmd/ert-gateway, and the
// packages that back them, implement an embedded radio tracking system:
// a moving node transmits telemetry over a LoRa link to a stationary
// gateway, which decodes, stores, and republishes it. See SPEC_FULL.md
// for the full component breakdown.
package ert
