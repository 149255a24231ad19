// Package config loads vocsd's startup configuration from CLI flags, in the
// same flat flag.String/Int/Duration style as the teacher's main.go — no
// env-file or viper-style layered configuration system.
package config

import (
	"flag"
	"time"
)

// Config holds every knob the cmd/ binaries need to assemble a running
// controller, mixer, gateway, store, directory, and SIP bridge.
type Config struct {
	// Transport
	Addr        string
	IdleTimeout time.Duration

	// Sessions / correlator (spec.md §4.3/§4.4 defaults)
	SessionLifetime time.Duration
	ResponseTimeout time.Duration

	// Mixer / gateway
	MixerFrameLengthMs int
	MixerSampleRate    int
	MulticastPort      int

	// Gateway static binding (spec.md §4.6, cmd/vocs-gateway)
	GatewayLoop          string
	GatewayMulticastAddr string
	PlaybackDeviceID     int
	CaptureDeviceID      int
	SSRCToCancel         uint

	// Persistence
	DBPath        string
	RecordingsDir string

	// Directory (LDAP)
	LDAPEnabled  bool
	DirectoryURL string

	// SIP
	SIPHost     string
	SIPPort     int
	SIPUser     string
	SIPPassword string
	LocalDomain string

	// Backend / Frontend (external mixer and ICE proxy processes)
	BackendURL string
}

// Parse populates a Config from args (typically os.Args[1:]) using the
// standard library flag package, mirroring main.go's flat flag.String/
// Int/Duration declarations.
func Parse(args []string) (*Config, error) {
	fs := flag.NewFlagSet("vocsd", flag.ContinueOnError)

	cfg := &Config{}
	fs.StringVar(&cfg.Addr, "addr", ":8443", "HTTPS/WebSocket listen address")
	fs.DurationVar(&cfg.IdleTimeout, "idle-timeout", 30*time.Second, "HTTP idle timeout")

	fs.DurationVar(&cfg.SessionLifetime, "session-lifetime", time.Hour, "session token max lifetime")
	fs.DurationVar(&cfg.ResponseTimeout, "response-timeout", 5*time.Second, "async backend request timeout")

	fs.IntVar(&cfg.MixerFrameLengthMs, "mixer-frame-ms", 20, "RTP mixer frame length in milliseconds")
	fs.IntVar(&cfg.MixerSampleRate, "mixer-sample-rate", 48000, "RTP mixer sample rate")
	fs.IntVar(&cfg.MulticastPort, "multicast-port", 11000, "base UDP port for loop multicast groups")

	fs.StringVar(&cfg.GatewayLoop, "loop", "", "name of the loop this gateway statically binds to (cmd/vocs-gateway)")
	fs.StringVar(&cfg.GatewayMulticastAddr, "multicast-addr", "", "multicast host:port this gateway sends/receives the loop's RTP on")
	fs.IntVar(&cfg.PlaybackDeviceID, "playback-device", -1, "portaudio output device index (-1 for system default)")
	fs.IntVar(&cfg.CaptureDeviceID, "capture-device", -1, "portaudio input device index (-1 for system default)")
	fs.UintVar(&cfg.SSRCToCancel, "ssrc", 0, "this gateway's own outgoing RTP SSRC, cancelled from its own playback")

	fs.StringVar(&cfg.DBPath, "db", "vocsd.db", "SQLite database path")
	fs.StringVar(&cfg.RecordingsDir, "recordings-dir", "recordings", "subdirectory name for loop recordings (relative to -db directory)")

	fs.BoolVar(&cfg.LDAPEnabled, "ldap", false, "authenticate logins against the configured LDAP directory")
	fs.StringVar(&cfg.DirectoryURL, "directory-url", "", "LDAP directory URL (required if -ldap is set)")

	fs.StringVar(&cfg.SIPHost, "sip-host", "", "upstream SIP provider host (empty disables SIP bridging)")
	fs.IntVar(&cfg.SIPPort, "sip-port", 5060, "upstream SIP provider port")
	fs.StringVar(&cfg.SIPUser, "sip-user", "", "SIP provider username")
	fs.StringVar(&cfg.SIPPassword, "sip-password", "", "SIP provider password")
	fs.StringVar(&cfg.LocalDomain, "sip-local-domain", "", "local SIP domain advertised to the provider")

	fs.StringVar(&cfg.BackendURL, "backend-url", "ws://localhost:9001/backend", "websocket URL of the external Backend/Frontend RPC process")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return cfg, nil
}
