// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package caen

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// ConnectionType is the kind of physical link used to reach a board.
type ConnectionType int32

const (
	USB ConnectionType = iota
	OpticalLink
	Ethernet
	Serial
)

func (ct ConnectionType) String() string {
	switch ct {
	case USB:
		return "usb"
	case OpticalLink:
		return "optical-link"
	case Ethernet:
		return "ethernet"
	case Serial:
		return "serial"
	}
	return fmt.Sprintf("ConnectionType(%d)", int32(ct))
}

// EthAddress is a NUL-terminated network address buffer.
type EthAddress [ethAddrLen]byte

func (addr EthAddress) String() string { return cstring(addr[:]) }

func (addr EthAddress) MarshalText() ([]byte, error) { return []byte(addr.String()), nil }

func (addr *EthAddress) UnmarshalText(p []byte) error { return addr.Set(string(p)) }

// Set stores v in the buffer, NUL-terminated.
func (addr *EthAddress) Set(v string) error {
	return setCString(addr[:], v)
}

// ConnectionParams identifies a single physical board.
type ConnectionParams struct {
	LinkType       ConnectionType `json:"link_type"`
	LinkNum        int32          `json:"link_num"`
	ConetNode      int32          `json:"conet_node"`
	VMEBaseAddress uint32         `json:"vme_base_address"`
	ETHAddress     EthAddress     `json:"eth_address"`
}

func (cp ConnectionParams) String() string {
	switch cp.LinkType {
	case Ethernet:
		return fmt.Sprintf("%v[%s]", cp.LinkType, cp.ETHAddress)
	default:
		return fmt.Sprintf(
			"%v[link=%d, node=%d, vme=0x%x]",
			cp.LinkType, cp.LinkNum, cp.ConetNode, cp.VMEBaseAddress,
		)
	}
}

// PulsePolarity is the polarity of the input signal of a channel.
type PulsePolarity int32

const (
	PolarityPositive PulsePolarity = iota
	PolarityNegative
)

// IOLevel is the electrical standard of the front-panel I/Os.
type IOLevel int32

const (
	IOLevelNIM IOLevel = iota
	IOLevelTTL
)

// InputImpedance is the input impedance of an X770 channel.
type InputImpedance int32

const (
	Impedance50Ohm InputImpedance = iota
	Impedance1kOhm
)

// AnalogPath selects the analog front-end of an X770 channel.
type AnalogPath int32

const (
	AnalogPathDefault AnalogPath = iota
	AnalogPathHighRange
	AnalogPathLowRange
)

// ResetDetectionMode selects how an X770 reset detector is triggered.
type ResetDetectionMode int32

const (
	ResetDetectionInternal ResetDetectionMode = iota
	ResetDetectionGPIO
	ResetDetectionBoth
)

// ResetDetector configures the reset detector of a transistor-reset
// preamplifier (X770 only).
type ResetDetector struct {
	Enabled            int32              `json:"enabled"`
	ResetDetectionMode ResetDetectionMode `json:"reset_detection_mode"`
	Thrhold            int32              `json:"thrhold"`
	Reslenmin          int32              `json:"reslenmin"`
	Reslength          int32              `json:"reslength"`
}

// ExtraParams holds the per-channel parameters only meaningful for the
// X770 boards. They are sent to every board nonetheless.
type ExtraParams struct {
	AnalogPath        AnalogPath     `json:"analog_path"`
	InputImpedance    InputImpedance `json:"input_impedance"`
	CRGain            int32          `json:"cr_gain"`
	TRGain            int32          `json:"tr_gain"`
	SaturationHoldoff int32          `json:"saturation_holdoff"`
	ResetDetector     ResetDetector  `json:"reset_detector"`
	TrigK             int32          `json:"trig_k"`
	TrigM             int32          `json:"trig_m"`
	TrigMode          int32          `json:"trig_mode"`
	EnergyFilterMode  int32          `json:"energy_filter_mode"`
}

// PHAParams holds the per-channel DPP-PHA filter parameters.
type PHAParams struct {
	M        [MaxNumChB]int32   `json:"M"`          // signal decay time constant
	MM       [MaxNumChB]int32   `json:"m"`          // trapezoid flat top
	K        [MaxNumChB]int32   `json:"k"`          // trapezoid rise time
	FTD      [MaxNumChB]int32   `json:"ftd"`        // flat top delay
	A        [MaxNumChB]int32   `json:"a"`          // trigger filter smoothing factor
	B        [MaxNumChB]int32   `json:"b"`          // input signal rise time
	Thr      [MaxNumChB]int32   `json:"thr"`        // trigger threshold
	NSBL     [MaxNumChB]int32   `json:"nsbl"`       // number of samples for baseline average
	NSPK     [MaxNumChB]int32   `json:"nspk"`       // number of samples for peak average
	PKHO     [MaxNumChB]int32   `json:"pkho"`       // peak hold off
	BLHO     [MaxNumChB]int32   `json:"blho"`       // baseline hold off
	TRGHO    [MaxNumChB]int32   `json:"trgho"`      // trigger hold off
	DGain    [MaxNumChB]int32   `json:"dgain"`      // digital gain index
	ENF      [MaxNumChB]float32 `json:"enf"`        // energy normalization factor
	Dec      [MaxNumChB]int32   `json:"decimation"` // decimation index
	EnSkim   [MaxNumChB]int32   `json:"enskim"`     // energy skimming
	EskimLLD [MaxNumChB]int32   `json:"eskimlld"`   // energy skimming low level discriminator
	EskimULD [MaxNumChB]int32   `json:"eskimuld"`   // energy skimming upper level discriminator
	BLRClip  [MaxNumChB]int32   `json:"blrclip"`    // baseline restorer clipping
	DComp    [MaxNumChB]int32   `json:"dcomp"`      // tt filter compensation
	TrapBSL  [MaxNumChB]int32   `json:"trapbsl"`    // trapezoid baseline adjuster
	TWWDT    [MaxNumChB]int32   `json:"twwdt"`      // zero crossing acceptance window
	TrgWin   [MaxNumChB]int32   `json:"trgwin"`     // trigger window
}

// VirtualProbe1 selects the first analog trace in waveform mode.
type VirtualProbe1 int32

const (
	VP1Input VirtualProbe1 = iota
	VP1Delta
	VP1Delta2
	VP1Trapezoid
)

// VirtualProbe2 selects the second analog trace in waveform mode.
type VirtualProbe2 int32

const (
	VP2Input VirtualProbe2 = iota
	VP2S3
	VP2TrapezoidReduced
	VP2Baseline
	VP2Threshold
	VP2None
)

// DigitalProbe1 selects the first digital trace in waveform mode.
type DigitalProbe1 int32

const (
	DP1TriggerWindow DigitalProbe1 = iota
	DP1Armed
	DP1PkRun
	DP1PURFlag
	DP1Peaking
	DP1TTFDelay
	DP1BLFreeze
	DP1BLHoldoff
	DP1TTFHoldoff
	DP1PkHoldoff
	DP1Busy
	DP1CoincWin
	DP1Trigger

	dp1Max DigitalProbe1 = 20
)

// DigitalProbe2 selects the second digital trace in waveform mode.
type DigitalProbe2 int32

const (
	DP2Trigger DigitalProbe2 = iota
	DP2TriggerOut
	DP2Coincidence

	dp2Max = DP2Coincidence
)

// ProbeTrigger selects the trigger source of the waveform probes.
type ProbeTrigger int32

const (
	ProbeTrigMain ProbeTrigger = iota
	ProbeTrigSelf
	ProbeTrigExternal

	probeTrigMax = ProbeTrigExternal
)

// WaveformParams configures the waveform (oscilloscope) mode.
type WaveformParams struct {
	DualTraceMode       int32         `json:"dual_trace_mode"`
	VP1                 VirtualProbe1 `json:"vp1"`
	VP2                 VirtualProbe2 `json:"vp2"`
	DP1                 DigitalProbe1 `json:"dp1"`
	DP2                 DigitalProbe2 `json:"dp2"`
	RecordLength        int32         `json:"record_length"`
	PreTrigger          int32         `json:"pre_trigger"`
	ProbeTrigger        ProbeTrigger  `json:"probe_trigger"`
	ProbeSelfTriggerVal int32         `json:"probe_self_trigger_val"`
}

// ListSaveMode selects where list-mode events are dumped.
type ListSaveMode int32

const (
	ListSaveMemory ListSaveMode = iota
	ListSaveFileBinary
	ListSaveFileASCII
)

// ListFileName is a NUL-terminated list-mode output file name buffer.
type ListFileName [MaxListFileLen]byte

func (name ListFileName) String() string { return cstring(name[:]) }

func (name ListFileName) MarshalText() ([]byte, error) { return []byte(name.String()), nil }

func (name *ListFileName) UnmarshalText(p []byte) error { return name.Set(string(p)) }

// Set stores v in the buffer, NUL-terminated.
func (name *ListFileName) Set(v string) error {
	return setCString(name[:], v)
}

// Bits of ListParams.SaveMask.
const (
	ListDumpTTT     uint32 = 1 << iota // trigger time tag
	ListDumpEnergy                     // energy
	ListDumpExtras                     // extras word
	ListDumpWaveform                   // waveform samples
)

// ListParams configures the list mode.
type ListParams struct {
	Enabled          uint8        `json:"enabled"`
	_                [3]byte
	SaveMode         ListSaveMode `json:"save_mode"`
	FileName         ListFileName `json:"file_name"`
	_                [1]byte
	MaxBuffNumEvents uint32       `json:"max_buff_num_events"`
	SaveMask         uint32       `json:"save_mask"`
}

// CoincOp is the operator combining the channels of a coincidence mask.
type CoincOp int32

const (
	CoincOpOR CoincOp = iota
	CoincOpAND
	CoincOpMAJ
)

// CoincLogic is the coincidence logic applied to a channel.
type CoincLogic int32

const (
	CoincLogicNone            CoincLogic = 0
	CoincLogicCoincidence     CoincLogic = 2
	CoincLogicAnticoincidence CoincLogic = 3
)

// CoincParams configures one coincidence block.
type CoincParams struct {
	CoincChMask uint32     `json:"coinc_ch_mask"`
	MajLevel    uint32     `json:"maj_level"`
	TrgWin      uint32     `json:"trg_win"`
	CoincOp     CoincOp    `json:"coinc_op"`
	CoincLogic  CoincLogic `json:"coinc_logic"`
}

// SpectrumMode selects what is histogrammed by a channel.
type SpectrumMode int32

const (
	SpectrumEnergy SpectrumMode = iota
	SpectrumTimeDistribution
)

// SpectrumControl configures the spectrum of one channel.
type SpectrumControl struct {
	SpectrumMode SpectrumMode `json:"spectrum_mode"`
	TimeScale    uint32       `json:"time_scale"`
}

// DgtzParams is the whole configuration block of a board.
//
// Its memory layout is the one of the CAENDPP_DgtzParams_t C structure.
// A DgtzParams is always pushed to the board as a whole.
type DgtzParams struct {
	GWn    int32         `json:"gwn"` // number of generic writes
	GWaddr [MaxGW]uint32 `json:"gw_addr"`
	GWdata [MaxGW]uint32 `json:"gw_data"`
	GWmask [MaxGW]uint32 `json:"gw_mask"`

	ChannelMask     int32                    `json:"channel_mask"`
	PulsePolarity   [MaxNumChB]PulsePolarity `json:"pulse_polarity"`
	DCoffset        [MaxNumChB]int32         `json:"dc_offset"`
	ExtraParameters [MaxNumChB]ExtraParams   `json:"extra_parameters"`

	EventAggr       int32                      `json:"event_aggr"`
	DPPParams       PHAParams                  `json:"dpp_params"`
	IOlev           IOLevel                    `json:"io_lev"`
	WFParams        WaveformParams             `json:"wf_params"`
	ListParams      ListParams                 `json:"list_params"`
	CoincParams     [MaxNumCoinc]CoincParams   `json:"coinc_params"`
	SpectrumControl [MaxNumChB]SpectrumControl `json:"spectrum_control"`
}

// NewDgtzParams returns a configuration block holding the default values
// for all channels.
func NewDgtzParams() *DgtzParams {
	p := new(DgtzParams)
	p.setDefaults()
	return p
}

func (p *DgtzParams) setDefaults() {
	*p = DgtzParams{
		GWn:         0,
		ChannelMask: 0xFF,
		EventAggr:   0,
		IOlev:       IOLevelNIM,
		WFParams: WaveformParams{
			DualTraceMode:       1,
			VP1:                 VP1Input,
			VP2:                 VP2TrapezoidReduced,
			DP1:                 DP1Peaking,
			DP2:                 DP2Trigger,
			RecordLength:        8192,
			PreTrigger:          1000,
			ProbeTrigger:        ProbeTrigMain,
			ProbeSelfTriggerVal: 1482,
		},
		ListParams: ListParams{
			Enabled:          0,
			SaveMode:         ListSaveMemory,
			MaxBuffNumEvents: 0,
			SaveMask:         0xF,
		},
	}
	_ = p.ListParams.FileName.Set("UNNAMED")

	for i := range p.CoincParams {
		p.CoincParams[i] = CoincParams{
			CoincOp:    CoincOpOR,
			CoincLogic: CoincLogicNone,
		}
	}

	dpp := &p.DPPParams
	for i := 0; i < MaxNumChB; i++ {
		p.PulsePolarity[i] = PolarityPositive
		p.DCoffset[i] = 58000

		p.ExtraParameters[i] = ExtraParams{
			AnalogPath:        AnalogPathDefault,
			InputImpedance:    Impedance1kOhm,
			SaturationHoldoff: 300,
			ResetDetector: ResetDetector{
				Enabled:            0,
				ResetDetectionMode: ResetDetectionInternal,
				Thrhold:            2,
				Reslenmin:          2,
				Reslength:          2000,
			},
			TrigK: 30,
			TrigM: 10,
		}

		p.SpectrumControl[i] = SpectrumControl{
			SpectrumMode: SpectrumEnergy,
			TimeScale:    1,
		}

		dpp.M[i] = 50000
		dpp.MM[i] = 1000
		dpp.K[i] = 3000
		dpp.FTD[i] = 500
		dpp.A[i] = 4
		dpp.B[i] = 200
		dpp.Thr[i] = 100
		dpp.NSBL[i] = 4
		dpp.NSPK[i] = 2
		dpp.PKHO[i] = 5000
		dpp.BLHO[i] = 2000
		dpp.TRGHO[i] = 1300
		dpp.DGain[i] = 0
		dpp.ENF[i] = 1.0
		dpp.Dec[i] = 0
		dpp.EnSkim[i] = 0
		dpp.EskimLLD[i] = 0
		dpp.EskimULD[i] = 0
		dpp.BLRClip[i] = 0
		dpp.DComp[i] = 0
		dpp.TrapBSL[i] = 0
		dpp.TWWDT[i] = 0
		dpp.TrgWin[i] = 0
	}
}

// Validate checks the configuration block can be sent to a board.
func (p *DgtzParams) Validate() error {
	if p.GWn < 0 || p.GWn > MaxGW {
		return fmt.Errorf("%w: GWn=%d out of range [0, %d]", ErrInvalidConfig, p.GWn, MaxGW)
	}

	for i := 0; i < MaxNumChB; i++ {
		if v := p.DCoffset[i]; v < 0 || v > 0xFFFF {
			return fmt.Errorf("%w: DCoffset[%d]=%d out of range [0, 65535]", ErrInvalidConfig, i, v)
		}
		switch v := p.PulsePolarity[i]; v {
		case PolarityPositive, PolarityNegative:
		default:
			return fmt.Errorf("%w: PulsePolarity[%d]=%d", ErrInvalidConfig, i, v)
		}
		switch v := p.SpectrumControl[i].SpectrumMode; v {
		case SpectrumEnergy, SpectrumTimeDistribution:
		default:
			return fmt.Errorf("%w: SpectrumControl[%d].SpectrumMode=%d", ErrInvalidConfig, i, v)
		}
	}

	switch p.IOlev {
	case IOLevelNIM, IOLevelTTL:
	default:
		return fmt.Errorf("%w: IOlev=%d", ErrInvalidConfig, p.IOlev)
	}

	wf := p.WFParams
	switch {
	case wf.VP1 < VP1Input || wf.VP1 > VP1Trapezoid:
		return fmt.Errorf("%w: WFParams.VP1=%d", ErrInvalidConfig, wf.VP1)
	case wf.VP2 < VP2Input || wf.VP2 > VP2None:
		return fmt.Errorf("%w: WFParams.VP2=%d", ErrInvalidConfig, wf.VP2)
	case wf.DP1 < DP1TriggerWindow || wf.DP1 > dp1Max:
		return fmt.Errorf("%w: WFParams.DP1=%d", ErrInvalidConfig, wf.DP1)
	case wf.DP2 < DP2Trigger || wf.DP2 > dp2Max:
		return fmt.Errorf("%w: WFParams.DP2=%d", ErrInvalidConfig, wf.DP2)
	case wf.ProbeTrigger < ProbeTrigMain || wf.ProbeTrigger > probeTrigMax:
		return fmt.Errorf("%w: WFParams.ProbeTrigger=%d", ErrInvalidConfig, wf.ProbeTrigger)
	case wf.RecordLength < 0 || wf.PreTrigger < 0 || wf.PreTrigger > wf.RecordLength:
		return fmt.Errorf(
			"%w: WFParams record-length=%d pre-trigger=%d",
			ErrInvalidConfig, wf.RecordLength, wf.PreTrigger,
		)
	}

	lp := p.ListParams
	switch lp.SaveMode {
	case ListSaveMemory, ListSaveFileBinary, ListSaveFileASCII:
	default:
		return fmt.Errorf("%w: ListParams.SaveMode=%d", ErrInvalidConfig, lp.SaveMode)
	}
	if bytes.IndexByte(lp.FileName[:], 0) < 0 {
		return fmt.Errorf("%w: ListParams.FileName is not NUL-terminated", ErrInvalidConfig)
	}

	for i, cp := range p.CoincParams {
		switch cp.CoincOp {
		case CoincOpOR, CoincOpAND, CoincOpMAJ:
		default:
			return fmt.Errorf("%w: CoincParams[%d].CoincOp=%d", ErrInvalidConfig, i, cp.CoincOp)
		}
		switch cp.CoincLogic {
		case CoincLogicNone, CoincLogicCoincidence, CoincLogicAnticoincidence:
		default:
			return fmt.Errorf("%w: CoincParams[%d].CoincLogic=%d", ErrInvalidConfig, i, cp.CoincLogic)
		}
	}

	return nil
}

// MarshalBinary returns the little-endian memory image of the
// configuration block, as received by the native library.
func (p *DgtzParams) MarshalBinary() ([]byte, error) {
	buf := new(bytes.Buffer)
	buf.Grow(binary.Size(p))
	err := binary.Write(buf, binary.LittleEndian, p)
	if err != nil {
		return nil, fmt.Errorf("caen: could not encode digitizer parameters: %w", err)
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary decodes a little-endian memory image of a configuration
// block.
func (p *DgtzParams) UnmarshalBinary(data []byte) error {
	if want := binary.Size(p); len(data) != want {
		return fmt.Errorf("caen: invalid digitizer parameters size (got=%d, want=%d)", len(data), want)
	}
	err := binary.Read(bytes.NewReader(data), binary.LittleEndian, p)
	if err != nil {
		return fmt.Errorf("caen: could not decode digitizer parameters: %w", err)
	}
	return nil
}

func cstring(p []byte) string {
	if i := bytes.IndexByte(p, 0); i >= 0 {
		p = p[:i]
	}
	return string(p)
}

func setCString(dst []byte, v string) error {
	if len(v) >= len(dst) {
		return fmt.Errorf("caen: string %q too long (max=%d)", v, len(dst)-1)
	}
	for i := range dst {
		dst[i] = 0
	}
	copy(dst, v)
	return nil
}
