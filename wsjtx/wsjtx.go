package wsjtx

import (
	"errors"
	"time"
)

/*
 * WSJT-X UDP wire protocol
 * Packet types exchanged with the radio console over the length-prefixed
 * big-endian QDataStream encoding
 */

const (
	// MagicNumber opens every datagram.
	MagicNumber uint32 = 0xadbccbda
	// SchemaNumber is the protocol schema spoken by this controller.
	SchemaNumber uint32 = 2
	// ClientID identifies the controller in packet headers.
	ClientID = "AUTOFS"
	// ReplyClientID identifies the controller on Reply packets.
	ReplyClientID = "AUTOFT"
)

// PacketType is the 32-bit message discriminator following the header magic
// and schema fields.
type PacketType uint32

const (
	TypeHeartbeat           PacketType = 0
	TypeStatus              PacketType = 1
	TypeDecode              PacketType = 2
	TypeClear               PacketType = 3
	TypeReply               PacketType = 4
	TypeQSOLogged           PacketType = 5
	TypeClose               PacketType = 6
	TypeHaltTx              PacketType = 8
	TypeFreeText            PacketType = 9
	TypeLoggedADIF          PacketType = 12
	TypeHighlightCallsign   PacketType = 13
	TypeSwitchConfiguration PacketType = 14
	TypeConfigure           PacketType = 15
)

func (t PacketType) String() string {
	switch t {
	case TypeHeartbeat:
		return "Heartbeat"
	case TypeStatus:
		return "Status"
	case TypeDecode:
		return "Decode"
	case TypeClear:
		return "Clear"
	case TypeReply:
		return "Reply"
	case TypeQSOLogged:
		return "QSOLogged"
	case TypeClose:
		return "Close"
	case TypeHaltTx:
		return "HaltTx"
	case TypeFreeText:
		return "FreeText"
	case TypeLoggedADIF:
		return "LoggedADIF"
	case TypeHighlightCallsign:
		return "HighlightCallsign"
	case TypeSwitchConfiguration:
		return "SwitchConfiguration"
	case TypeConfigure:
		return "Configure"
	}
	return "Unknown"
}

// Reply modifier bits.
const (
	ModifierNone  uint8 = 0x00
	ModifierShift uint8 = 0x02
)

// ErrProtocol reports a datagram that does not follow the console's wire
// format: bad magic, unknown packet type, or a truncated field.
var ErrProtocol = errors.New("protocol error")

// Packet is implemented by every message the codec can carry.
type Packet interface {
	Type() PacketType
}

// NullString distinguishes the wire protocol's null string (length -1)
// from the empty string (length 0). The zero value is null.
type NullString struct {
	S     string
	Valid bool
}

// String wraps a plain string as a non-null NullString.
func String(s string) NullString { return NullString{S: s, Valid: true} }

// DateTime carries the console's on-wire timestamp: a julian day number,
// milliseconds past midnight and a time-spec byte. An offset in seconds
// follows on the wire only when Spec is 2. The julian origin convention
// makes dates before 2000-01-01 unrepresentable; none occur in practice.
type DateTime struct {
	Time   time.Time
	Spec   uint8
	Offset int32
}

// QColor is the console UI color record carried by HighlightCallsign.
type QColor struct {
	Spec  int8
	Alpha uint16
	Red   uint16
	Green uint16
	Blue  uint16
	Pad   uint16
}

// Heartbeat (type 0) announces a peer and the schema range it speaks.
type Heartbeat struct {
	ID        string
	MaxSchema uint32
	Version   string
	Revision  string
}

func (Heartbeat) Type() PacketType { return TypeHeartbeat }

// Status (type 1) reports the console's operating state. The console sends
// one on every rig or UI change; Mode is the message-marker form, "~" for
// FT8 and "+" for FT4.
type Status struct {
	ID                 string
	Frequency          uint64 // dial frequency, Hz
	Mode               string
	DXCall             string
	Report             string
	TXMode             string
	TXEnabled          bool
	Transmitting       bool
	Decoding           bool
	RXdf               uint32
	TXdf               uint32
	DECall             string
	DEGrid             string
	DXGrid             string
	TXWatchdog         bool
	SubMode            string
	FastMode           bool
	SpecialOpMode      uint8
	FrequencyTolerance uint32
	TRPeriod           uint32
	ConfigurationName  string
	TXMessage          string
}

func (Status) Type() PacketType { return TypeStatus }

// Decode (type 2) reports one decoded on-air message. Time carries only a
// time of day on the wire; the decoder pins it to the current UTC date.
type Decode struct {
	ID             string
	New            bool
	Time           time.Time
	SNR            int32
	DeltaTime      float64
	DeltaFrequency uint32
	Mode           string
	Message        string
	LowConfidence  bool
	OffAir         bool
}

func (Decode) Type() PacketType { return TypeDecode }

// Clear (type 3) empties a console window. The window byte is optional on
// the wire.
type Clear struct {
	ID        string
	Window    uint8
	HasWindow bool
}

func (Clear) Type() PacketType { return TypeClear }

// Reply (type 4) asks the console to answer a previously decoded message.
// All decode fields must echo the originating Decode packet.
type Reply struct {
	ID             string
	Time           time.Time
	SNR            int32
	DeltaTime      float64
	DeltaFrequency uint32
	Mode           string
	Message        string
	LowConfidence  bool
	Modifiers      uint8
}

func (Reply) Type() PacketType { return TypeReply }

// QSOLogged (type 5) reports a completed contact. String fields keep their
// nullness so a forwarded copy is byte-identical where we do not edit it.
type QSOLogged struct {
	ID               string
	DateTimeOff      DateTime
	DXCall           NullString
	DXGrid           NullString
	DialFrequency    uint64
	Mode             NullString
	ReportSent       NullString
	ReportReceived   NullString
	TXPower          NullString
	Comments         NullString
	Name             NullString
	DateTimeOn       DateTime
	OperatorCall     NullString
	MyCall           NullString
	MyGrid           NullString
	ExchangeSent     NullString
	ExchangeReceived NullString
	ADIFPropMode     NullString
}

func (QSOLogged) Type() PacketType { return TypeQSOLogged }

// Close (type 6) signals that the peer is going away. Header only.
type Close struct {
	ID string
}

func (Close) Type() PacketType { return TypeClose }

// HaltTx (type 8) stops the console transmitting. AutoTXOnly true halts at
// the end of the current sequence, false halts immediately.
type HaltTx struct {
	ID         string
	AutoTXOnly bool
}

func (HaltTx) Type() PacketType { return TypeHaltTx }

// FreeText (type 9) loads the console's free-text field, optionally keying
// it for the next slot. Carried for compatibility, unused by the sequencer.
type FreeText struct {
	ID   string
	Text string
	Send bool
}

func (FreeText) Type() PacketType { return TypeFreeText }

// LoggedADIF (type 12) carries the ADIF rendering of a logged contact.
type LoggedADIF struct {
	ID   string
	ADIF string
}

func (LoggedADIF) Type() PacketType { return TypeLoggedADIF }

// HighlightCallsign (type 13) recolors a callsign in the console UI.
// Carried for compatibility, unused by the sequencer.
type HighlightCallsign struct {
	ID            string
	Callsign      string
	Background    QColor
	Foreground    QColor
	HighlightLast bool
}

func (HighlightCallsign) Type() PacketType { return TypeHighlightCallsign }

// SwitchConfiguration (type 14) selects a named console configuration.
type SwitchConfiguration struct {
	ID                string
	ConfigurationName string
}

func (SwitchConfiguration) Type() PacketType { return TypeSwitchConfiguration }

// Configure (type 15) adjusts console operating parameters in place.
type Configure struct {
	ID                 string
	Mode               string
	FrequencyTolerance uint32
	SubMode            string
	FastMode           bool
	TRPeriod           uint32
	RxDF               uint32
	DXCall             string
	DXGrid             string
	GenerateMessages   bool
}

func (Configure) Type() PacketType { return TypeConfigure }
