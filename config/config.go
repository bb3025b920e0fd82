// Package config models the persisted log-system state (§6 "DBCoreState")
// and the configuration knobs §6 lists, the way the teacher's
// sharedlog/scalog.go reads its tuning from viper — generalized from a
// handful of scalar flags to the full knob set this core needs plus the
// round-trip structures the facade (C10) persists through.
package config

import (
	"fmt"

	"github.com/tagpartitioned/tlogsystem/policy"
	"github.com/tagpartitioned/tlogsystem/tlog"
)

// LogSystemType tags the wire representation of a log system (§6).
type LogSystemType int

const (
	LogSystemEmpty         LogSystemType = 0
	LogSystemTagPartitioned LogSystemType = 2
)

// OldTLogData is one frozen epoch as persisted inside DBCoreState (§3 "Old
// Log Data", §6).
type OldTLogData struct {
	TLogs             []tlog.UID
	TLogLocalities    []tlog.LocalityData
	ReplicationFactor int
	AntiQuorum        int
	Policy            policy.Policy
	EpochEnd          tlog.Version
}

// DBCoreState is the log-system subset of the coordinated state store's
// persisted record (§6). Persistence itself is an external collaborator;
// this core only needs the struct shape and its round-trip conversions.
type DBCoreState struct {
	LogSystemType         LogSystemType
	TLogs                 []tlog.UID
	TLogLocalities        []tlog.LocalityData
	TLogReplicationFactor int
	TLogWriteAntiQuorum   int
	TLogPolicy            policy.Policy
	OldTLogData           []OldTLogData
}

// LogSystemConfig is the subset of DBCoreState the master hands to
// from_config when reconstructing a read-only consumer view (§3
// "Lifecycle").
type LogSystemConfig struct {
	TLogs                 []tlog.UID
	TLogLocalities        []tlog.LocalityData
	TLogReplicationFactor int
	TLogWriteAntiQuorum   int
	TLogPolicy            policy.Policy
	OldTLogData           []OldTLogData
}

// ToLogSystemConfig drops the type tag, the inverse of embedding it back in
// FromConfig.
func (s DBCoreState) ToLogSystemConfig() LogSystemConfig {
	return LogSystemConfig{
		TLogs:                 s.TLogs,
		TLogLocalities:        s.TLogLocalities,
		TLogReplicationFactor: s.TLogReplicationFactor,
		TLogWriteAntiQuorum:   s.TLogWriteAntiQuorum,
		TLogPolicy:            s.TLogPolicy,
		OldTLogData:           s.OldTLogData,
	}
}

// Validate checks logSystemType against the only two recognized wire
// values (§6): "from_config requires logSystemType in {0, 2} and rejects
// any other value as internal_error".
func (s DBCoreState) Validate() error {
	if s.LogSystemType != LogSystemEmpty && s.LogSystemType != LogSystemTagPartitioned {
		return fmt.Errorf("config: internal_error: unrecognized logSystemType %d", s.LogSystemType)
	}
	return nil
}
