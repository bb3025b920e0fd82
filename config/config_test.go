package config

import (
	"testing"

	"github.com/spf13/viper"

	"github.com/tagpartitioned/tlogsystem/policy"
	"github.com/tagpartitioned/tlogsystem/tlog"
)

func TestValidateAcceptsKnownTypes(t *testing.T) {
	for _, lt := range []LogSystemType{LogSystemEmpty, LogSystemTagPartitioned} {
		s := DBCoreState{LogSystemType: lt}
		if err := s.Validate(); err != nil {
			t.Fatalf("validate(%d): %v", lt, err)
		}
	}
}

func TestValidateRejectsUnknownType(t *testing.T) {
	s := DBCoreState{LogSystemType: LogSystemType(1)}
	if err := s.Validate(); err == nil {
		t.Fatal("expected validate to reject an unrecognized logSystemType")
	}
}

func TestToLogSystemConfigRoundTrip(t *testing.T) {
	s := DBCoreState{
		LogSystemType:         LogSystemTagPartitioned,
		TLogs:                 []tlog.UID{{1}, {2}},
		TLogReplicationFactor: 2,
		TLogWriteAntiQuorum:   1,
		TLogPolicy:            policy.Simple{MinZones: 1},
		OldTLogData:           []OldTLogData{{EpochEnd: 5}},
	}

	cfg := s.ToLogSystemConfig()
	if len(cfg.TLogs) != 2 || cfg.TLogReplicationFactor != 2 || cfg.TLogWriteAntiQuorum != 1 {
		t.Fatalf("to_log_system_config dropped fields: %+v", cfg)
	}
	if len(cfg.OldTLogData) != 1 || cfg.OldTLogData[0].EpochEnd != 5 {
		t.Fatalf("to_log_system_config lost old_log_data: %+v", cfg)
	}
}

func TestLoadKnobsDefaults(t *testing.T) {
	k := LoadKnobs(nil)
	want := DefaultKnobs()
	if k != want {
		t.Fatalf("LoadKnobs(nil) = %+v, want defaults %+v", k, want)
	}
}

func TestLoadKnobsOverlay(t *testing.T) {
	v := viper.New()
	v.Set("versions-per-second", 2_000_000)
	v.Set("max-read-transaction-life-versions", 42)

	k := LoadKnobs(v)
	if k.VersionsPerSecond != 2_000_000 {
		t.Fatalf("versions_per_second = %d, want 2000000", k.VersionsPerSecond)
	}
	if k.MaxReadTransactionLifeVersions != 42 {
		t.Fatalf("max_read_transaction_life_versions = %d, want 42", k.MaxReadTransactionLifeVersions)
	}
	// Untouched knobs keep their defaults.
	if k.TLogTimeout != DefaultKnobs().TLogTimeout {
		t.Fatalf("tlog_timeout changed despite not being set: %v", k.TLogTimeout)
	}
}

func TestSimulationReadHorizonNeverSubstitutesForMaxReadTxnLife(t *testing.T) {
	k := DefaultKnobs()
	horizon := k.SimulationReadHorizon()
	if horizon == k.MaxReadTransactionLifeVersions {
		t.Fatal("simulation read horizon accidentally equals max_read_transaction_life_versions; known_committed must never use the horizon")
	}
	if horizon != 10*k.VersionsPerSecond {
		t.Fatalf("simulation read horizon = %d, want 10x versions_per_second = %d", horizon, 10*k.VersionsPerSecond)
	}
}
