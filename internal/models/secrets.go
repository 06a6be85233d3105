package models

// Supported secret keys. The control plane rejects anything outside this set.
const (
	SecretSCMToken        = "scm-token"
	SecretTrackerUsername = "tracker-username"
	SecretTrackerPAT      = "tracker-pat"
	SecretQAInternalKey   = "qa-internal-key"
	SecretTelemetryKey    = "telemetry-key"
)

// SecretKeys is the closed set of storable secrets
var SecretKeys = []string{
	SecretSCMToken,
	SecretTrackerUsername,
	SecretTrackerPAT,
	SecretQAInternalKey,
	SecretTelemetryKey,
}

// IsValidSecretKey reports whether key belongs to the closed set
func IsValidSecretKey(key string) bool {
	for _, k := range SecretKeys {
		if k == key {
			return true
		}
	}
	return false
}
