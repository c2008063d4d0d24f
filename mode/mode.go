// Package mode maps the frame and modulation selectors of the decoder onto
// the flag set and timing parameters the decode engine runs with.
//
// Both mappings are static tables indexed by the selector. ProVoice, NXDN48
// and NXDN96 only exist on GFSK, so those frame modes force the modulation
// flags no matter what modulation mode was asked for.
package mode

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidConfiguration = errors.New("invalid configuration")

type FrameMode int

const (
	FrameAutoDetect FrameMode = iota
	FrameDSTAR
	FrameX2TDMA
	FrameProVoice
	FrameP25Phase1
	FrameNXDN48
	FrameNXDN96
	FrameDMR
)

type ModulationMode int

const (
	ModAutoSelect ModulationMode = iota
	ModC4FM
	ModGFSK
	ModQPSK
)

// RFMod is the numeric modulation selector handed to the decode engine.
type RFMod int

const (
	RFModC4FM RFMod = 0
	RFModQPSK RFMod = 1
	RFModGFSK RFMod = 2
)

// Input sample rate the symbol timing is expressed against.
const SampleRate = 48000

// Engine defaults when the frame mode does not pin the symbol timing.
const (
	DefaultSamplesPerSymbol = 10
	DefaultSymbolCenter     = 4
)

type FrameFlags struct {
	DSTAR     bool
	X2TDMA    bool
	P25Phase1 bool
	NXDN48    bool
	NXDN96    bool
	DMR       bool
	ProVoice  bool
}

type ModFlags struct {
	C4FM bool
	QPSK bool
	GFSK bool
}

// Resolved is the decision record produced by Resolve. It is a value type and
// is never modified after Resolve returns it.
type Resolved struct {
	FrameMode      FrameMode
	ModulationMode ModulationMode

	Frame            FrameFlags
	Mod              ModFlags
	RFMod            RFMod
	SamplesPerSymbol int
	SymbolCenter     int
	// ModOverridden is set when the frame mode forced GFSK over the
	// requested modulation mode.
	ModOverridden bool

	Quality   int
	ErrorBars bool
	Verbosity int

	// Fixed engine options for a live (non file) input.
	Split      bool
	PlayOffset int
	Delay      int
}

// gfskTiming pins the symbol timing of a GFSK only frame mode. Zero fields
// keep the engine default.
type gfskTiming struct {
	samplesPerSymbol int
	symbolCenter     int
}

type frameEntry struct {
	name   string
	flags  FrameFlags
	gfsk   *gfskTiming
	status string
}

type modEntry struct {
	name   string
	flags  ModFlags
	rfmod  RFMod
	status string
}

var frameTable = [...]frameEntry{
	FrameAutoDetect: {
		name:  "auto",
		flags: FrameFlags{X2TDMA: true, P25Phase1: true, NXDN96: true, DMR: true},
	},
	FrameDSTAR: {
		name:   "dstar",
		flags:  FrameFlags{DSTAR: true},
		status: "Decoding only D-STAR frames.",
	},
	FrameX2TDMA: {
		name:   "x2tdma",
		flags:  FrameFlags{X2TDMA: true},
		status: "Decoding only X2-TDMA frames.",
	},
	FrameProVoice: {
		name:   "provoice",
		flags:  FrameFlags{ProVoice: true},
		gfsk:   &gfskTiming{samplesPerSymbol: 5, symbolCenter: 2},
		status: "Decoding only ProVoice frames.",
	},
	FrameP25Phase1: {
		name:   "p25p1",
		flags:  FrameFlags{P25Phase1: true},
		status: "Decoding only P25 Phase 1 frames.",
	},
	FrameNXDN48: {
		name:   "nxdn48",
		flags:  FrameFlags{NXDN48: true},
		gfsk:   &gfskTiming{samplesPerSymbol: 20, symbolCenter: 10},
		status: "Decoding only NXDN 4800 baud frames.",
	},
	FrameNXDN96: {
		name:   "nxdn96",
		flags:  FrameFlags{NXDN96: true},
		gfsk:   &gfskTiming{},
		status: "Decoding only NXDN 9600 baud frames.",
	},
	FrameDMR: {
		name:   "dmr",
		flags:  FrameFlags{DMR: true},
		status: "Decoding only DMR/MOTOTRBO frames.",
	},
}

var modTable = [...]modEntry{
	ModAutoSelect: {
		name:  "auto",
		flags: ModFlags{C4FM: true, QPSK: true, GFSK: true},
		rfmod: RFModC4FM,
	},
	ModC4FM: {
		name:   "c4fm",
		flags:  ModFlags{C4FM: true},
		rfmod:  RFModC4FM,
		status: "Enabling only C4FM modulation optimizations.",
	},
	ModGFSK: {
		name:   "gfsk",
		flags:  ModFlags{GFSK: true},
		rfmod:  RFModGFSK,
		status: "Enabling only GFSK modulation optimizations.",
	},
	ModQPSK: {
		name:   "qpsk",
		flags:  ModFlags{QPSK: true},
		rfmod:  RFModQPSK,
		status: "Enabling only QPSK modulation optimizations.",
	},
}

func (f FrameMode) Valid() bool {
	return f >= 0 && int(f) < len(frameTable)
}

func (m ModulationMode) Valid() bool {
	return m >= 0 && int(m) < len(modTable)
}

func (f FrameMode) String() string {
	if !f.Valid() {
		return fmt.Sprintf("FrameMode(%d)", int(f))
	}
	return frameTable[f].name
}

func (m ModulationMode) String() string {
	if !m.Valid() {
		return fmt.Sprintf("ModulationMode(%d)", int(m))
	}
	return modTable[m].name
}

func (r RFMod) String() string {
	switch r {
	case RFModC4FM:
		return "C4FM"
	case RFModQPSK:
		return "QPSK"
	case RFModGFSK:
		return "GFSK"
	}
	return fmt.Sprintf("RFMod(%d)", int(r))
}

// Resolve builds the decision record for a frame and modulation selector
// pair. quality, errorBars and verbosity are carried through unchanged.
func Resolve(frame FrameMode, mod ModulationMode, quality int, errorBars bool, verbosity int) (Resolved, error) {
	if !frame.Valid() {
		return Resolved{}, fmt.Errorf("%w: unknown frame mode %d", ErrInvalidConfiguration, int(frame))
	}
	if !mod.Valid() {
		return Resolved{}, fmt.Errorf("%w: unknown modulation mode %d", ErrInvalidConfiguration, int(mod))
	}

	fe := frameTable[frame]
	r := Resolved{
		FrameMode:        frame,
		ModulationMode:   mod,
		Frame:            fe.flags,
		SamplesPerSymbol: DefaultSamplesPerSymbol,
		SymbolCenter:     DefaultSymbolCenter,
		Quality:          quality,
		ErrorBars:        errorBars,
		Verbosity:        verbosity,
		Split:            true,
	}

	// The frame override wins over the modulation table.
	if fe.gfsk != nil {
		r.Mod = modTable[ModGFSK].flags
		r.RFMod = RFModGFSK
		r.ModOverridden = true
		if fe.gfsk.samplesPerSymbol != 0 {
			r.SamplesPerSymbol = fe.gfsk.samplesPerSymbol
			r.SymbolCenter = fe.gfsk.symbolCenter
		}
		return r, nil
	}

	me := modTable[mod]
	r.Mod = me.flags
	r.RFMod = me.rfmod
	return r, nil
}

// SymbolRate is the symbol rate the timing parameters select at SampleRate.
func (r Resolved) SymbolRate() int {
	if r.SamplesPerSymbol <= 0 {
		return 0
	}
	return SampleRate / r.SamplesPerSymbol
}

// Describe returns the human readable status lines for r, in the order the
// decisions were taken. It does not log anything itself.
func (r Resolved) Describe() []string {
	var lines []string
	if !r.FrameMode.Valid() || !r.ModulationMode.Valid() {
		return lines
	}

	fe := frameTable[r.FrameMode]
	if r.ModOverridden {
		if fe.gfsk != nil && fe.gfsk.samplesPerSymbol != 0 {
			lines = append(lines, fmt.Sprintf("Setting symbol rate to %d / second", r.SymbolRate()))
		}
		lines = append(lines, modTable[ModGFSK].status)
		if r.ModulationMode != ModAutoSelect && r.ModulationMode != ModGFSK {
			lines = append(lines, fmt.Sprintf("Ignoring %s modulation mode, %s frames are GFSK only.", strings.ToUpper(r.ModulationMode.String()), fe.name))
		}
	}
	if fe.status != "" {
		lines = append(lines, fe.status)
	}
	if !r.ModOverridden {
		if st := modTable[r.ModulationMode].status; st != "" {
			lines = append(lines, st)
		}
	}
	return lines
}

// ParseFrameMode accepts the names used in config files and on the command
// line. "mototrbo" is an alias for "dmr".
func ParseFrameMode(s string) (FrameMode, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if name == "mototrbo" || name == "dmr/mototrbo" {
		return FrameDMR, nil
	}
	for i, fe := range frameTable {
		if fe.name == name {
			return FrameMode(i), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown frame mode %q", ErrInvalidConfiguration, s)
}

func ParseModulationMode(s string) (ModulationMode, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for i, me := range modTable {
		if me.name == name {
			return ModulationMode(i), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown modulation mode %q", ErrInvalidConfiguration, s)
}

func (f *FrameMode) UnmarshalText(text []byte) error {
	v, err := ParseFrameMode(string(text))
	if err != nil {
		return err
	}
	*f = v
	return nil
}

func (m *ModulationMode) UnmarshalText(text []byte) error {
	v, err := ParseModulationMode(string(text))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// FrameModes lists every frame mode in selector order.
func FrameModes() []FrameMode {
	modes := make([]FrameMode, len(frameTable))
	for i := range frameTable {
		modes[i] = FrameMode(i)
	}
	return modes
}

func ModulationModes() []ModulationMode {
	modes := make([]ModulationMode, len(modTable))
	for i := range modTable {
		modes[i] = ModulationMode(i)
	}
	return modes
}
