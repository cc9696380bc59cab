package types

// Version is the canonical project version.
// The CLI, the run-finished notification contract and the server share it.
const Version = "0.3.0"

// ContractVersion is the version of the run-finished notification payload.
const ContractVersion = Version
