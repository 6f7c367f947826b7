package config

import "time"

const (
	defaultHost            = ""
	defaultPort            = 8095
	defaultServiceName     = "ForeignCallOracle"
	defaultRegistryTTL     = 10 // seconds
	defaultRequestTimeout  = 5 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	defaultMaxBodyBytes    = 4 << 20

	// Rate limiting is off unless a positive rate is configured.
	defaultRateLimit = 0
	defaultRateBurst = 100

	defaultLogLevel      = "info"
	defaultLogFormat     = "console"
	defaultLogToConsole  = true
	defaultLogMaxSize    = 100 // MB
	defaultLogMaxBackups = 10
	defaultLogMaxAge     = 30 // days
	defaultLogCompress   = true
	defaultEnableCaller  = true
)

// Default returns the options used when nothing is configured.
func Default() *Options {
	return &Options{
		Host:            defaultHost,
		Port:            defaultPort,
		ServiceName:     defaultServiceName,
		RegistryTTL:     defaultRegistryTTL,
		RequestTimeout:  Duration{defaultRequestTimeout},
		ShutdownTimeout: Duration{defaultShutdownTimeout},
		MaxBodyBytes:    defaultMaxBodyBytes,
		RateLimit:       defaultRateLimit,
		RateBurst:       defaultRateBurst,
		Log: LogOptions{
			Level:        defaultLogLevel,
			Format:       defaultLogFormat,
			ToConsole:    defaultLogToConsole,
			MaxSize:      defaultLogMaxSize,
			MaxBackups:   defaultLogMaxBackups,
			MaxAge:       defaultLogMaxAge,
			Compress:     defaultLogCompress,
			EnableCaller: defaultEnableCaller,
		},
	}
}
