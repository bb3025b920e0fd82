package config

import (
	"time"

	"github.com/spf13/viper"
)

// Knobs holds the configuration values recognized in §6, loaded the way
// sharedlog/scalog/scalog.go reads its replication-factor and discovery
// flags from viper: defaults baked in, overridable by whatever viper has
// picked up (env, flags, config file) before LoadKnobs runs.
type Knobs struct {
	TLogTimeout                      time.Duration
	SecondsBeforeNoFailureDelay      time.Duration
	MaxReadTransactionLifeVersions   int64
	VersionsPerSecond                int64
	MasterFailureSlopeDuringRecovery time.Duration
	RecoveryTLogSmartQuorumDelay     time.Duration
}

// DefaultKnobs mirrors §6's prose where it gives concrete numbers and
// otherwise picks the same conservative defaults FoundationDB-style
// systems ship: a several-second RPC timeout and a multi-million-version
// read-transaction horizon.
func DefaultKnobs() Knobs {
	return Knobs{
		TLogTimeout:                      2 * time.Second,
		SecondsBeforeNoFailureDelay:      1 * time.Second,
		MaxReadTransactionLifeVersions:   5_000_000,
		VersionsPerSecond:                1_000_000,
		MasterFailureSlopeDuringRecovery: 1 * time.Second,
		RecoveryTLogSmartQuorumDelay:     0,
	}
}

// LoadKnobs overlays whatever the given viper instance has set on top of
// DefaultKnobs, the same override-over-defaults shape scalog.go uses.
func LoadKnobs(v *viper.Viper) Knobs {
	k := DefaultKnobs()
	if v == nil {
		return k
	}
	if v.IsSet("tlog-timeout-seconds") {
		k.TLogTimeout = time.Duration(v.GetFloat64("tlog-timeout-seconds") * float64(time.Second))
	}
	if v.IsSet("seconds-before-no-failure-delay") {
		k.SecondsBeforeNoFailureDelay = time.Duration(v.GetFloat64("seconds-before-no-failure-delay") * float64(time.Second))
	}
	if v.IsSet("max-read-transaction-life-versions") {
		k.MaxReadTransactionLifeVersions = v.GetInt64("max-read-transaction-life-versions")
	}
	if v.IsSet("versions-per-second") {
		k.VersionsPerSecond = v.GetInt64("versions-per-second")
	}
	if v.IsSet("master-failure-slope-during-recovery-seconds") {
		k.MasterFailureSlopeDuringRecovery = time.Duration(v.GetFloat64("master-failure-slope-during-recovery-seconds") * float64(time.Second))
	}
	if v.IsSet("recovery-tlog-smart-quorum-delay-seconds") {
		k.RecoveryTLogSmartQuorumDelay = time.Duration(v.GetFloat64("recovery-tlog-smart-quorum-delay-seconds") * float64(time.Second))
	}
	return k
}

// SimulationReadHorizon is the "value 10 x VPS" substitute §6 describes for
// simulation-only wall-clock bounds. It must never be used in place of
// MaxReadTransactionLifeVersions when computing known_committed (§4.8),
// only for scaling timeouts down under a simulated clock.
func (k Knobs) SimulationReadHorizon() int64 {
	return 10 * k.VersionsPerSecond
}
