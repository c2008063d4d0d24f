package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gdamore/tcell/v2"
	"github.com/jrwynneiii/dsdtuner/bridge"
	"github.com/jrwynneiii/dsdtuner/config"
	"github.com/jrwynneiii/dsdtuner/mode"
	"github.com/navidys/tvxwidgets"
	"github.com/rivo/tview"
)

// BridgeStatus is what the dashboard reads from the bridge block.
type BridgeStatus interface {
	Stats() bridge.Stats
	Resolved() mode.Resolved
}

// Spectrum supplies the power spectrum plot, usually the demodulator.
type Spectrum interface {
	Spectrum() []float64
}

// Level supplies the output level gauge.
type Level interface {
	Peak() float64
}

type ModeTableData struct {
	tview.TableContentReadOnly
	resolved mode.Resolved
}

type StatsTableData struct {
	tview.TableContentReadOnly
	stats bridge.Stats
}

func yesNo(b bool) string {
	if b {
		return "[green]yes"
	}
	return "[white]no"
}

func enabledFrames(f mode.FrameFlags) string {
	var names []string
	for _, e := range []struct {
		on   bool
		name string
	}{
		{f.DSTAR, "D-STAR"}, {f.X2TDMA, "X2-TDMA"}, {f.ProVoice, "ProVoice"}, {f.P25Phase1, "P25 Phase 1"},
		{f.NXDN48, "NXDN48"}, {f.NXDN96, "NXDN96"}, {f.DMR, "DMR"},
	} {
		if e.on {
			names = append(names, e.name)
		}
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, ", ")
}

var modeRows = []struct {
	label string
	value func(r mode.Resolved) string
}{
	{"Frame mode:", func(r mode.Resolved) string { return r.FrameMode.String() }},
	{"Decoding:", func(r mode.Resolved) string { return enabledFrames(r.Frame) }},
	{"Modulation:", func(r mode.Resolved) string {
		if r.ModOverridden {
			return fmt.Sprintf("[yellow]%s (forced GFSK)", r.RFMod)
		}
		return fmt.Sprintf("%s (%s)", r.RFMod, r.ModulationMode)
	}},
	{"Symbol rate:", func(r mode.Resolved) string { return fmt.Sprintf("%d baud", r.SymbolRate()) }},
	{"Samples/symbol:", func(r mode.Resolved) string {
		return fmt.Sprintf("%d (center %d)", r.SamplesPerSymbol, r.SymbolCenter)
	}},
	{"UV quality:", func(r mode.Resolved) string { return fmt.Sprintf("%d", r.Quality) }},
	{"Error bars:", func(r mode.Resolved) string { return yesNo(r.ErrorBars) }},
}

func (m *ModeTableData) GetRowCount() int {
	return len(modeRows)
}

func (m *ModeTableData) GetColumnCount() int {
	return 2
}

func (m *ModeTableData) GetCell(row, column int) *tview.TableCell {
	if row < 0 || row >= len(modeRows) {
		return tview.NewTableCell("ERROR")
	}
	if column == 0 {
		return tview.NewTableCell("[lightskyblue]" + modeRows[row].label)
	}
	return tview.NewTableCell("[white]" + modeRows[row].value(m.resolved))
}

func (s *StatsTableData) GetRowCount() int {
	return 7
}

func (s *StatsTableData) GetColumnCount() int {
	return 2
}

func (s *StatsTableData) GetCell(row, column int) *tview.TableCell {
	label, value := "", ""
	color := tcell.ColorWhite
	switch row {
	case 0:
		label, value = "Decode cycles:", fmt.Sprintf("%d", s.stats.Cycles)
	case 1:
		label, value = "Silent blocks:", fmt.Sprintf("%d", s.stats.ZeroBlocks)
	case 2:
		label, value = "Short cycles:", fmt.Sprintf("%d", s.stats.ShortCycles)
		if s.stats.ShortCycles > 0 {
			color = tcell.ColorYellow
		}
	case 3:
		label, value = "Stalls:", fmt.Sprintf("%d", s.stats.Stalls)
		if s.stats.Stalls > 0 {
			color = tcell.ColorRed
		}
	case 4:
		label, value = "Samples in:", fmt.Sprintf("%d", s.stats.SamplesIn)
	case 5:
		label, value = "Samples out:", fmt.Sprintf("%d", s.stats.SamplesOut)
	case 6:
		label, value = "Cycle pending:", fmt.Sprintf("%v", s.stats.Pending)
		if s.stats.Pending {
			color = tcell.ColorRed
		}
	default:
		return tview.NewTableCell("ERROR")
	}
	if column == 0 {
		return tview.NewTableCell(label).SetTextColor(tcell.ColorLightSkyBlue)
	}
	return tview.NewTableCell(value).SetTextColor(color)
}

// stallPercent is the share of decoder cycles that timed out.
func stallPercent(s bridge.Stats) float64 {
	total := s.Cycles + s.Stalls
	if total == 0 {
		return 0
	}
	return float64(s.Stalls) / float64(total) * 100
}

func shortPercent(s bridge.Stats) float64 {
	if s.Cycles == 0 {
		return 0
	}
	return float64(s.ShortCycles) / float64(s.Cycles) * 100
}

var LogOut *tview.TextView

func newGauge(label string, warn, crit float64) *tvxwidgets.UtilModeGauge {
	g := tvxwidgets.NewUtilModeGauge()
	g.SetLabel(label)
	g.SetLabelColor(tcell.ColorLightSkyBlue)
	g.SetWarnPercentage(warn)
	g.SetCritPercentage(crit)
	g.SetEmptyColor(tcell.ColorBlack)
	g.SetBorder(false)
	return g
}

// StartUI runs the dashboard until the user quits or ctx is cancelled.
// spectrum and level may be nil.
func StartUI(ctx context.Context, status BridgeStatus, spectrum Spectrum, level Level, tuiConf config.TuiConf) error {
	app := tview.NewApplication()

	LogOut = tview.NewTextView().
		SetDynamicColors(true).
		SetRegions(true).
		SetWordWrap(true)

	modeData := &ModeTableData{resolved: status.Resolved()}
	statsData := &StatsTableData{}
	modeTable := tview.NewTable().SetContent(modeData)
	statsTable := tview.NewTable().SetContent(statsData)

	spectrumPlot := tvxwidgets.NewPlot()
	spectrumPlot.SetLineColor([]tcell.Color{tcell.ColorLightSkyBlue})
	spectrumPlot.SetMarker(tvxwidgets.PlotMarkerBraille)
	spectrumPlot.SetBorder(true)
	spectrumPlot.SetTitle("Spectrum")

	levelGauge := newGauge("Output Level:          ", 90, 99)
	stallGauge := newGauge("Decoder Stalls:        ", tuiConf.StallWarnPct, tuiConf.StallCritPct)
	shortGauge := newGauge("Short Cycles:          ", tuiConf.StallWarnPct, tuiConf.StallCritPct)

	gaugeBox := tview.NewFlex()
	gaugeBox.SetDirection(tview.FlexRow)
	gaugeBox.AddItem(levelGauge, 0, 1, false)
	gaugeBox.AddItem(stallGauge, 0, 1, false)
	gaugeBox.AddItem(shortGauge, 0, 1, false)
	gaugeBox.SetTitle("Bridge Health")
	gaugeBox.SetBorder(true)

	LogOut.SetChangedFunc(func() {
		LogOut.ScrollToEnd()
		app.Draw()
	})
	LogOut.SetBorder(true).SetTitle("Log Output")
	if tuiConf.EnableLogOutput {
		log.SetOutput(LogOut)
	}

	modeTable.SetSelectable(false, false).SetBorder(true).SetTitle("Decoder Mode")
	statsTable.SetSelectable(false, false).SetBorder(true).SetTitle("Bridge Stats")

	page := tview.NewFlex().SetDirection(tview.FlexColumn)

	leftCol := tview.NewFlex().SetDirection(tview.FlexRow)
	leftCol.AddItem(modeTable, 0, 1, false)
	leftCol.AddItem(statsTable, 0, 1, false)

	rightCol := tview.NewFlex().SetDirection(tview.FlexRow)
	rightCol.AddItem(gaugeBox, 0, 2, false)
	if spectrum != nil {
		rightCol.AddItem(spectrumPlot, 0, 3, false)
	}
	if tuiConf.EnableLogOutput {
		rightCol.AddItem(LogOut, 0, 3, false)
	}

	page.AddItem(leftCol, 0, 2, false)
	page.AddItem(rightCol, 0, 5, false)

	refresh := time.Duration(tuiConf.RefreshMs) * time.Millisecond
	if refresh <= 0 {
		refresh = 500 * time.Millisecond
	}

	//Update Stats
	go func() {
		ticker := time.NewTicker(refresh)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				app.Stop()
				return
			case <-ticker.C:
			}

			stats := status.Stats()
			app.QueueUpdateDraw(func() {
				statsData.stats = stats
				stallGauge.SetValue(stallPercent(stats))
				shortGauge.SetValue(shortPercent(stats))
				if level != nil {
					levelGauge.SetValue(level.Peak() * 100)
				}
				if spectrum != nil {
					if bins := spectrum.Spectrum(); len(bins) > 0 {
						spectrumPlot.SetData([][]float64{bins})
					}
				}
			})
		}
	}()

	if err := app.SetRoot(page, true).EnableMouse(true).Run(); err != nil {
		return fmt.Errorf("could not start UI: %w", err)
	}
	return nil
}
