package config

const (
	defaultMediaDir            = "~/.local/share/shopscan/media"
	defaultLogDir              = "~/.local/share/shopscan/logs"
	defaultAPIBind             = "127.0.0.1:8180"
	defaultWorkerBind          = "127.0.0.1:7141"
	defaultUploadDir           = "~/.local/share/shopscan/uploads"
	defaultResultDir           = "~/.local/share/shopscan/results"
	defaultReconEndpoint       = "http://localhost:7141"
	defaultPollIntervalSeconds = 10
	defaultUploadTimeout       = 30
	defaultOracleBaseURL       = "https://generativelanguage.googleapis.com"
	defaultOracleModel         = "gemini-2.5-pro"
	defaultOracleTimeout       = 120
	defaultSearchRangeMS       = 50
	defaultStepMS              = 5
	defaultLogFormat           = "console"
	defaultLogLevel            = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			MediaDir: defaultMediaDir,
			LogDir:   defaultLogDir,
		},
		API: API{
			Bind: defaultAPIBind,
		},
		Reconstruction: Reconstruction{
			Endpoint:            defaultReconEndpoint,
			PollIntervalSeconds: defaultPollIntervalSeconds,
			UploadTimeout:       defaultUploadTimeout,
		},
		Oracle: Oracle{
			BaseURL:        defaultOracleBaseURL,
			Model:          defaultOracleModel,
			TimeoutSeconds: defaultOracleTimeout,
		},
		Frames: Frames{
			SearchRangeMS: defaultSearchRangeMS,
			StepMS:        defaultStepMS,
			FFmpegBinary:  "ffmpeg",
			FFprobeBinary: "ffprobe",
		},
		Worker: Worker{
			Bind:      defaultWorkerBind,
			UploadDir: defaultUploadDir,
			ResultDir: defaultResultDir,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
