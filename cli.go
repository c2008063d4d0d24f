package main

var cli struct {
	Verbose bool   `help:"Prints debug output by default"`
	Profile bool   `help:"Output a pprof profile"`
	Config  string `help:"Path to the HCL config file, searched for when empty" type:"path"`
	Probe   struct {
	} `cmd:"" help:"List the available radios and SoapySDR configuration"`
	Modes struct {
		Frame string `help:"Frame mode to resolve, overrides bridge.frame_mode"`
		Mod   string `help:"Modulation mode to resolve, overrides bridge.modulation_mode"`
	} `cmd:"" help:"Print the decoder settings a frame and modulation mode resolve to"`
	Tune struct {
		Out string `help:"Write decoded audio to this WAV file, overrides output.wav_path"`
	} `cmd:"" help:"Starts the TUI and connects to the SDR"`
	Decode struct {
		In  string `help:"48 kHz discriminator WAV file" required:"" type:"existingfile"`
		Out string `help:"8 kHz PCM WAV file to write" required:""`
	} `cmd:"" help:"Decode a recorded discriminator WAV file"`
}
