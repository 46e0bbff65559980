package config

const (
	defaultConfigPath         = "~/.config/renderq/config.toml"
	defaultDataDir            = "~/.local/share/renderq/tasks"
	defaultLogDir             = "~/.local/share/renderq/logs"
	defaultInboxDir           = "~/.local/share/renderq/inbox"
	defaultBlenderBinary      = "blender"
	defaultMaxCompleted       = 200
	defaultMaxFailed          = 200
	defaultBindHost           = "0.0.0.0"
	defaultPort               = 0
	defaultProtocolVersion    = "1"
	defaultPollIntervalMS     = 1000
	defaultAPIBind            = "127.0.0.1:7489"
	defaultLogFormat          = "console"
	defaultLogLevel           = "info"
	defaultLogRetentionDays   = 30
	defaultNtfyTimeoutSeconds = 10
	minPollIntervalMS         = 10
	maxProtocolVersionLength  = 64
	maxHistoryEntriesAllowed  = 100000
	maxNetworkPort            = 65535
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:  defaultDataDir,
			LogDir:   defaultLogDir,
			InboxDir: defaultInboxDir,
		},
		Blender: Blender{
			Binary: defaultBlenderBinary,
		},
		History: History{
			MaxCompleted: defaultMaxCompleted,
			MaxFailed:    defaultMaxFailed,
		},
		Network: Network{
			BindHost:        defaultBindHost,
			Port:            defaultPort,
			ProtocolVersion: defaultProtocolVersion,
			PollIntervalMS:  defaultPollIntervalMS,
		},
		API: API{
			Bind: defaultAPIBind,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNtfyTimeoutSeconds,
		},
	}
}
