package radio

// #cgo CFLAGS: -g -Wall
// #cgo LDFLAGS: -lSoapySDR
import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/jrwynneiii/dsdtuner/config"

	"github.com/pothosware/go-soapy-sdr/pkg/device"
	"github.com/pothosware/go-soapy-sdr/pkg/modules"
	"github.com/pothosware/go-soapy-sdr/pkg/sdrlogger"
	"github.com/pothosware/go-soapy-sdr/pkg/version"
)

var ErrNotConnected = errors.New("radio not connected")

// readTimeoutUs bounds a single stream read so Start notices cancellation.
const readTimeoutUs = 100000

// Radio reads CF32 IQ from a SoapySDR device and hands it on in chunks of
// ChunkSize samples.
type Radio struct {
	SamplesOutput chan<- []complex64
	Driver        string
	Address       string
	DeviceIndex   int
	SampleRate    float64
	Frequency     float64
	Gain          int
	//Private:
	chunksize uint
	buffer    [][]complex64
	device    *device.SDRDevice
	stream    *device.SDRStreamCF32
}

func InitSoapySDR() {
	log.Debugf("Using SoapySDR versions: ABI: %s API: %s Lib: %s", version.GetABIVersion(), version.GetAPIVersion(), version.GetLibVersion())
	log.Debugf("SoapySDR modules root path: %v", modules.GetRootPath())

	for i, searchPath := range modules.ListSearchPaths() {
		log.Debugf("Search path #%d: %v", i, searchPath)
	}
	for _, module := range modules.ListModules() {
		log.Debugf("Found SoapySDR module: %v, version: %v", module, moduleVersion(module))
	}
	sdrlogger.SetLogLevel(sdrlogger.Error)
}

func moduleVersion(module string) string {
	if v := modules.GetModuleVersion(module); len(v) > 0 {
		return v
	}
	return "[None]"
}

// LogAllSoapySDRDevices logs every device SoapySDR can see along with its
// settings. It backs the probe command.
func LogAllSoapySDRDevices() error {
	log.Infof("Using SoapySDR versions: ABI: %s API: %s Lib: %s", version.GetABIVersion(), version.GetAPIVersion(), version.GetLibVersion())
	log.Infof("SoapySDR modules root path: %v", modules.GetRootPath())

	modulesFound := modules.ListModules()
	if len(modulesFound) == 0 {
		log.Info("No SoapySDR modules found")
	}
	for _, module := range modulesFound {
		log.Infof("Found SoapySDR module: %v, version: %v", module, moduleVersion(module))
	}

	// Tune down the logger for soapy so that it doesn't yell about rtl-tcp
	sdrlogger.SetLogLevel(sdrlogger.Error)

	devices := device.Enumerate(nil)
	log.Infof("Found %d devices", len(devices))
	if len(devices) == 0 {
		return nil
	}
	args := make([]map[string]string, len(devices))
	for idx, dev := range devices {
		args[idx] = map[string]string{"driver": dev["driver"]}
	}
	devs, err := device.MakeList(args)
	if err != nil {
		return fmt.Errorf("SoapySDR could not open devices: %w", err)
	}
	for idx, dev := range devs {
		log.Infof("Device #%d driver: %s", idx, args[idx]["driver"])
		LogAvailSettings(dev)
	}
	// UnmakeList double frees in the cgo bindings, the OS reclaims the
	// devices on exit.
	return nil
}

func LogAvailSettings(dev *device.SDRDevice) {
	log.Infof("Current settings:")
	for _, setting := range dev.GetSettingInfo() {
		log.Infof("\t- %s: %v", setting.Key, setting.Value)
	}

	numChannels := dev.GetNumChannels(device.DirectionRX)
	log.Info("Channel info:")
	for channel := uint(0); channel < numChannels; channel++ {
		log.Infof("Channel %d:", channel)
		log.Infof("\tAvailable sample rates:")
		log.Infof("\t\t- %v", dev.GetSampleRate(device.DirectionRX, channel))
		for _, sampleRateRange := range dev.GetSampleRateRange(device.DirectionRX, channel) {
			log.Infof("\t\t- %v", sampleRateRange.ToString())
		}
		log.Infof("\tIQ Sample Types: %v", dev.GetStreamFormats(device.DirectionRX, channel))
	}
}

func New(conf config.RadioConf, output chan<- []complex64) *Radio {
	log.Debug("[radio] Initing SoapySDR")
	InitSoapySDR()

	return &Radio{
		SamplesOutput: output,
		Driver:        conf.Driver,
		Address:       conf.Address,
		DeviceIndex:   conf.DeviceIndex,
		SampleRate:    conf.SampleRate,
		Frequency:     conf.Frequency,
		Gain:          conf.Gain,
		chunksize:     conf.ChunkSize,
		buffer:        [][]complex64{make([]complex64, conf.ChunkSize)},
	}
}

func (r *Radio) deviceArgs() map[string]string {
	args := map[string]string{"driver": r.Driver}
	switch {
	case r.Driver == "rtltcp":
		args["rtltcp"] = r.Address
	case r.Address != "":
		args["serial"] = r.Address
	}
	return args
}

// Connect opens the device, tunes it and activates the IQ stream.
func (r *Radio) Connect() error {
	if r.device == nil {
		var err error
		if r.Driver == "" {
			devices := device.Enumerate(nil)
			if r.DeviceIndex < 0 || r.DeviceIndex >= len(devices) {
				return fmt.Errorf("no SoapySDR device #%d (found %d)", r.DeviceIndex, len(devices))
			}
			r.Driver = devices[r.DeviceIndex]["driver"]
		}
		if r.device, err = device.Make(r.deviceArgs()); err != nil {
			return fmt.Errorf("could not create SoapySDR device: %w", err)
		}
	}

	log.Debugf("[radio] Setting sample rate to %f", r.SampleRate)
	if err := r.device.SetSampleRate(device.DirectionRX, 0, r.SampleRate); err != nil {
		return fmt.Errorf("could not set sample rate: %w", err)
	}

	log.Debugf("[radio] Setting frequency to %f", r.Frequency)
	if err := r.device.SetFrequency(device.DirectionRX, 0, r.Frequency, nil); err != nil {
		return fmt.Errorf("could not set frequency: %w", err)
	}

	if r.Gain > 0 {
		log.Debugf("[radio] Setting gain to %d dB", r.Gain)
		if err := r.device.SetGain(device.DirectionRX, 0, float64(r.Gain)); err != nil {
			return fmt.Errorf("could not set gain: %w", err)
		}
	}

	log.Debugf("[radio] Initialized device: %v", r.Driver)
	if r.Driver != "rtltcp" {
		LogAvailSettings(r.device)
	}

	log.Debug("[radio] Creating the IQ stream")
	var err error
	if r.stream, err = r.device.SetupSDRStreamCF32(device.DirectionRX, []uint{0}, nil); err != nil {
		return fmt.Errorf("could not setup SDR stream: %w", err)
	}
	return r.StreamActivate()
}

func (r *Radio) StreamActivate() error {
	log.Debug("[radio] Activating IQ stream...")
	if err := r.stream.Activate(0, 0, 0); err != nil {
		return fmt.Errorf("could not activate the IQ stream: %w", err)
	}
	//Read the first few samples and discard to make sure we have clean data
	if _, err := r.read(min(1024, r.chunksize)); err != nil {
		log.Warnf("[radio] Discarding first samples failed: %v", err)
	}
	clear(r.buffer[0])
	return nil
}

func (r *Radio) read(num uint) ([]complex64, error) {
	if r.stream == nil {
		return nil, ErrNotConnected
	}
	flags := make([]int, 1)
	_, numSamples, err := r.stream.Read(r.buffer, num, flags, readTimeoutUs)
	if err != nil {
		return nil, err
	}
	return r.buffer[0][:numSamples], nil
}

// Start reads until ctx is cancelled, sending one chunk of ChunkSize samples
// at a time. The output channel is closed on return.
func (r *Radio) Start(ctx context.Context) error {
	defer close(r.SamplesOutput)

	buf := make([]complex64, 0, r.chunksize)
	for ctx.Err() == nil {
		samples, err := r.read(r.chunksize - uint(len(buf)))
		if err != nil {
			if errors.Is(err, ErrNotConnected) {
				return err
			}
			log.Debugf("[radio] Read failed: %v", err)
			continue
		}
		buf = append(buf, samples...)

		if len(buf) >= int(r.chunksize) {
			select {
			case r.SamplesOutput <- buf:
			case <-ctx.Done():
				return nil
			}
			buf = make([]complex64, 0, r.chunksize)
		}
	}
	return nil
}

func (r *Radio) StreamDeactivate() error {
	if r.stream == nil {
		return nil
	}
	log.Debug("[radio] Deactivating IQ stream...")
	if err := r.stream.Deactivate(0, 0); err != nil {
		return fmt.Errorf("could not deactivate the IQ stream: %w", err)
	}
	return nil
}

func (r *Radio) StreamClose() error {
	if r.stream == nil {
		return nil
	}
	log.Debug("[radio] Closing IQ stream...")
	err := r.stream.Close()
	r.stream = nil
	if err != nil {
		return fmt.Errorf("could not close the IQ stream: %w", err)
	}
	return nil
}

// Destroy stops the stream. Call it after Start has returned.
func (r *Radio) Destroy() error {
	return errors.Join(r.StreamDeactivate(), r.StreamClose())
}
