package config

const (
	defaultSessionRoot          = "~/Ray Sessions"
	defaultLogDir               = "~/.local/share/raysession/logs"
	defaultRegistryPath         = "/tmp/raysession/daemons.db"
	defaultSessionTemplatesDir  = "~/.config/raysession/session_templates"
	defaultUserTemplatesDir     = "~/.config/raysession/client_templates"
	defaultFactoryTemplatesDir  = "/usr/share/raysession/client_templates"
	defaultDaemonBinary         = "ray-daemon"
	defaultAnnounceTimeoutMS    = 2000
	defaultTickIntervalMS       = 200
	defaultLogFormat            = "console"
	defaultLogLevel             = "info"
	defaultLogRetentionDays     = 30
	defaultScriptsDirName       = "ray-scripts"
	defaultStepReleaseTimeoutMS = 30000
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			SessionRoot:         defaultSessionRoot,
			LogDir:              defaultLogDir,
			RegistryPath:        defaultRegistryPath,
			SessionTemplatesDir: defaultSessionTemplatesDir,
			UserTemplatesDir:    defaultUserTemplatesDir,
			FactoryTemplatesDir: defaultFactoryTemplatesDir,
		},
		Control: Control{
			DaemonBinary:      defaultDaemonBinary,
			AnnounceTimeoutMS: defaultAnnounceTimeoutMS,
			TickIntervalMS:    defaultTickIntervalMS,
		},
		Scripts: Scripts{
			DirName:              defaultScriptsDirName,
			RequireSync:          false,
			StepReleaseTimeoutMS: defaultStepReleaseTimeoutMS,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
