package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/knadh/koanf/parsers/hcl"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const EnvPrefix = "DSDTUNER_"

// SearchPaths lists the config file locations tried in order when no path is
// given explicitly.
func SearchPaths() []string {
	paths := []string{"/etc/dsdtuner/config.hcl"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "dsdtuner", "config.hcl"))
	}
	return append(paths, "./config.hcl")
}

func findConfigPath() string {
	for _, path := range SearchPaths() {
		if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
			log.Infof("Found config file: %s", path)
			return path
		}
	}
	log.Info("Config file not found!")
	return ""
}

// Load reads the HCL config at path, or the first file found on SearchPaths
// when path is empty. If no file can be read the DSDTUNER_ environment
// variables are used instead, DSDTUNER_BRIDGE_FRAME_MODE becoming
// bridge.frame_mode.
func Load(path string) (*koanf.Koanf, Conf, error) {
	k := koanf.New(".")
	if path == "" {
		path = findConfigPath()
	}

	if err := k.Load(file.Provider(path), hcl.Parser(true)); err != nil {
		log.Errorf("Could not read config file: %v", err)
		log.Error("Attempting to use environment variables")
		if err := k.Load(env.Provider(".", env.Opt{
			Prefix: EnvPrefix,
			TransformFunc: func(k, v string) (string, any) {
				key := strings.ToLower(strings.TrimPrefix(k, EnvPrefix))
				k = strings.Replace(key, "_", ".", 1)
				log.Debugf("Found config env var: %s=%v", k, v)
				return k, v
			},
		}), nil); err != nil {
			return nil, Conf{}, err
		}
	}

	var conf Conf
	if err := k.Unmarshal("", &conf); err != nil {
		return nil, Conf{}, err
	}
	conf.applyDefaults(k)
	return k, conf, nil
}

// applyDefaults fills in settings the config left out. Keys where zero is a
// meaningful value are checked for presence instead.
func (c *Conf) applyDefaults(k *koanf.Koanf) {
	if c.Radio.SampleRate == 0 {
		c.Radio.SampleRate = 240000
	}
	if c.Radio.ChunkSize == 0 {
		c.Radio.ChunkSize = 16384
	}

	if c.Demod.Decimation == 0 {
		c.Demod.Decimation = 5
	}
	if c.Demod.LowPassCutoff == 0 {
		c.Demod.LowPassCutoff = 12500
	}
	if c.Demod.TransitionWidth == 0 {
		c.Demod.TransitionWidth = 2500
	}
	if c.Demod.AGCRate == 0 {
		c.Demod.AGCRate = 0.01
	}
	if c.Demod.AGCReference == 0 {
		c.Demod.AGCReference = 0.5
	}
	if c.Demod.AGCGain == 0 {
		c.Demod.AGCGain = 1
	}
	if c.Demod.AGCMaxGain == 0 {
		c.Demod.AGCMaxGain = 4000
	}

	if c.Bridge.FrameMode == "" {
		c.Bridge.FrameMode = "auto"
	}
	if c.Bridge.ModulationMode == "" {
		c.Bridge.ModulationMode = "auto"
	}
	if !k.Exists("bridge.uv_quality") {
		c.Bridge.UVQuality = 3
	}
	if !k.Exists("bridge.verbosity") {
		c.Bridge.Verbosity = 2
	}
	if c.Bridge.MaxBlock == 0 {
		c.Bridge.MaxBlock = 8192
	}
	if c.Bridge.BlockSize == 0 {
		c.Bridge.BlockSize = 1024
	}
	if c.Bridge.Engine == "" {
		c.Bridge.Engine = "monitor"
	}

	if c.Monitor.Gain == 0 {
		c.Monitor.Gain = 1
	}
	if c.Monitor.Cutoff == 0 {
		c.Monitor.Cutoff = 3400
	}
	if c.Monitor.TransitionWidth == 0 {
		c.Monitor.TransitionWidth = 600
	}

	if c.Tui.RefreshMs == 0 {
		c.Tui.RefreshMs = 500
	}
	if c.Tui.StallWarnPct == 0 {
		c.Tui.StallWarnPct = 1
	}
	if c.Tui.StallCritPct == 0 {
		c.Tui.StallCritPct = 5
	}
}
