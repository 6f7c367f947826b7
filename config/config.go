// Package config loads oracle settings. Values are layered: built-in
// defaults, then an optional JSON file, then environment variables. The CLI
// applies its flags on top.
package config

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

// Environment variables read by Load.
const (
	EnvPort          = "RPC_PORT"
	EnvEtcdEndpoints = "ORACLE_ETCD_ENDPOINTS"
	EnvAdvertiseAddr = "ORACLE_ADVERTISE_ADDR"
	EnvLogLevel      = "ORACLE_LOG_LEVEL"
)

// Options configures the oracle process.
type Options struct {
	Host        string `json:"host"`
	Port        int    `json:"port"`
	ServiceName string `json:"service_name"`

	// AdvertiseAddr is the routable address registered for discovery. When
	// empty the server advertises 127.0.0.1:<port>.
	AdvertiseAddr string   `json:"advertise_addr"`
	EtcdEndpoints []string `json:"etcd_endpoints"`
	RegistryTTL   int64    `json:"registry_ttl"`

	RequestTimeout  Duration `json:"request_timeout"`
	ShutdownTimeout Duration `json:"shutdown_timeout"`
	MaxBodyBytes    int64    `json:"max_body_bytes"`
	RateLimit       float64  `json:"rate_limit"`
	RateBurst       int      `json:"rate_burst"`

	// DistinctFaultCodes gives each fault kind its own JSON-RPC code instead
	// of the generic -32603.
	DistinctFaultCodes bool `json:"distinct_fault_codes"`

	Log LogOptions `json:"log"`
}

// LogOptions configures the zap logger and its file rotation.
type LogOptions struct {
	Level        string `json:"level"`  // debug, info, warn, error
	Format       string `json:"format"` // console or json
	ToConsole    bool   `json:"to_console"`
	FilePath     string `json:"file_path"`
	MaxSize      int    `json:"max_size"` // MB
	MaxBackups   int    `json:"max_backups"`
	MaxAge       int    `json:"max_age"` // days
	Compress     bool   `json:"compress"`
	EnableCaller bool   `json:"enable_caller"`
}

// Duration is a time.Duration read from JSON as "5s" or as nanoseconds.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		d.Duration = time.Duration(value)
	case string:
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		d.Duration = parsed
	default:
		return fmt.Errorf("config: invalid duration %s", string(data))
	}
	return nil
}

// Load builds Options from defaults, the JSON file at path (skipped when
// path is empty) and the environment.
func Load(path string) (*Options, error) {
	opts := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := json.Unmarshal(data, opts); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := opts.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return opts, nil
}

func (o *Options) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvPort); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: %s=%q is not a port: %w", EnvPort, v, err)
		}
		o.Port = port
	}
	if v, ok := lookup(EnvEtcdEndpoints); ok && v != "" {
		o.EtcdEndpoints = splitList(v)
	}
	if v, ok := lookup(EnvAdvertiseAddr); ok && v != "" {
		o.AdvertiseAddr = v
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		o.Log.Level = v
	}
	return nil
}

// Validate rejects settings the server cannot run with.
func (o *Options) Validate() error {
	if o.Port < 1 || o.Port > 65535 {
		return fmt.Errorf("config: port %d out of range", o.Port)
	}
	if o.RequestTimeout.Duration <= 0 {
		return fmt.Errorf("config: request_timeout must be positive")
	}
	if o.ShutdownTimeout.Duration <= 0 {
		return fmt.Errorf("config: shutdown_timeout must be positive")
	}
	if o.MaxBodyBytes <= 0 {
		return fmt.Errorf("config: max_body_bytes must be positive")
	}
	if o.RateLimit < 0 {
		return fmt.Errorf("config: rate_limit must not be negative")
	}
	if o.RateLimit > 0 && o.RateBurst < 1 {
		return fmt.Errorf("config: rate_burst must be at least 1 when rate_limit is set")
	}
	if len(o.EtcdEndpoints) > 0 && o.RegistryTTL < 1 {
		return fmt.Errorf("config: registry_ttl must be at least 1 second")
	}
	return nil
}

// ListenAddr is the address the HTTP server binds.
func (o *Options) ListenAddr() string {
	return net.JoinHostPort(o.Host, strconv.Itoa(o.Port))
}

// Advertise is the address registered for discovery.
func (o *Options) Advertise() string {
	if o.AdvertiseAddr != "" {
		return o.AdvertiseAddr
	}
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(o.Port))
}

func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
