package config

import "time"

type RadioConf struct {
	Driver      string  `koanf:"driver"`
	Address     string  `koanf:"address"`
	DeviceIndex int     `koanf:"device_index"`
	Gain        int     `koanf:"gain"`
	Frequency   float64 `koanf:"frequency"`
	SampleRate  float64 `koanf:"sample_rate"`
	ChunkSize   uint    `koanf:"chunk_size"`
}

type DemodConf struct {
	Decimation      int     `koanf:"decimation"`
	LowPassCutoff   float64 `koanf:"lowpass_cutoff"`
	TransitionWidth float64 `koanf:"transition_width"`
	AGCRate         float32 `koanf:"agc_rate"`
	AGCReference    float32 `koanf:"agc_reference"`
	AGCGain         float32 `koanf:"agc_gain"`
	AGCMaxGain      float32 `koanf:"agc_max_gain"`
	DoFFT           bool    `koanf:"do_fft"`
}

type BridgeConf struct {
	FrameMode      string        `koanf:"frame_mode"`
	ModulationMode string        `koanf:"modulation_mode"`
	UVQuality      int           `koanf:"uv_quality"`
	ErrorBars      bool          `koanf:"error_bars"`
	Verbosity      int           `koanf:"verbosity"`
	MaxBlock       int           `koanf:"max_block"`
	BlockSize      int           `koanf:"block_size"`
	StallTimeout   time.Duration `koanf:"stall_timeout"`
	Engine         string        `koanf:"engine"`
}

type MonitorConf struct {
	Gain            float32 `koanf:"gain"`
	Cutoff          float64 `koanf:"cutoff"`
	TransitionWidth float64 `koanf:"transition_width"`
}

type OutputConf struct {
	WAVPath string `koanf:"wav_path"`
}

type TuiConf struct {
	RefreshMs       int     `koanf:"refresh_ms"`
	StallWarnPct    float64 `koanf:"stall_warn_pct"`
	StallCritPct    float64 `koanf:"stall_crit_pct"`
	EnableLogOutput bool    `koanf:"enable_log_output"`
}

type MetricsConf struct {
	Listen string `koanf:"listen"`
}

// Conf is the whole configuration file.
type Conf struct {
	Radio   RadioConf   `koanf:"radio"`
	Demod   DemodConf   `koanf:"demod"`
	Bridge  BridgeConf  `koanf:"bridge"`
	Monitor MonitorConf `koanf:"monitor"`
	Output  OutputConf  `koanf:"output"`
	Tui     TuiConf     `koanf:"tui"`
	Metrics MetricsConf `koanf:"metrics"`
}
