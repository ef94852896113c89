package config

const (
	defaultConfigPath        = "~/.config/scannerbot/config.toml"
	projectConfigName        = "scannerbot.toml"
	defaultAudioDir          = "~/scannerbot/audio"
	defaultTranscriptDir     = "~/scannerbot/transcripts"
	defaultLogDir            = "~/.local/share/scannerbot/logs"
	defaultRecorderBinary    = "recorder"
	defaultCaptureScript     = "~/scannerbot/src/recorder.sh"
	defaultQuitTimeout       = 3
	defaultKillGrace         = 5
	defaultBusQueue          = "/sb_bus_inbox"
	defaultRecorderQueue     = "/sb_rec_inbox"
	defaultMaxMessages       = 10
	defaultMessageSize       = 256
	defaultReplyTimeout      = 5
	defaultPollInterval      = 5
	defaultAudioQuiet        = 30
	defaultTranscriptQuiet   = 0
	defaultAudioMinBytes     = 1
	defaultTranscriptMinSize = 16
	defaultInterpreter       = "python3"
	defaultTranscriber       = "~/scannerbot/src/transcriber.py"
	defaultPublisher         = "~/scannerbot/src/publisher.py"
	defaultCatalogPath       = "~/scannerbot/db/info.db"
	defaultRTLSDRVendorID    = "0bda"
	defaultLogFormat         = "console"
	defaultLogLevel          = "info"
	defaultLogRetentionDays  = 30
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			AudioDir:      defaultAudioDir,
			TranscriptDir: defaultTranscriptDir,
			LogDir:        defaultLogDir,
		},
		Recorder: Recorder{
			Binary:        defaultRecorderBinary,
			CaptureScript: defaultCaptureScript,
			QuitTimeout:   defaultQuitTimeout,
			KillGrace:     defaultKillGrace,
		},
		Channel: Channel{
			BusQueue:      defaultBusQueue,
			RecorderQueue: defaultRecorderQueue,
			MaxMessages:   defaultMaxMessages,
			MessageSize:   defaultMessageSize,
			ReplyTimeout:  defaultReplyTimeout,
		},
		Watcher: Watcher{
			PollInterval:           defaultPollInterval,
			AudioQuietSeconds:      defaultAudioQuiet,
			TranscriptQuietSeconds: defaultTranscriptQuiet,
			AudioMinBytes:          defaultAudioMinBytes,
			TranscriptMinBytes:     defaultTranscriptMinSize,
			NotifyEvents:           true,
		},
		Handoff: Handoff{
			Interpreter:       defaultInterpreter,
			TranscriberScript: defaultTranscriber,
			PublisherScript:   defaultPublisher,
		},
		Catalog: Catalog{
			Enabled: true,
			Path:    defaultCatalogPath,
		},
		Devices: Devices{
			MonitorSDR: true,
			VendorIDs:  []string{defaultRTLSDRVendorID},
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
