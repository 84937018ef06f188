package wsjtx

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

const julianDayOrigin = 2451545 // julian day number of 2000-01-01

var dateOrigin = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

// ToQTime converts a wall-clock time to the console's time-of-day encoding,
// milliseconds since UTC midnight.
func ToQTime(t time.Time) uint32 {
	utc := t.UTC()
	midnight := time.Date(utc.Year(), utc.Month(), utc.Day(), 0, 0, 0, 0, time.UTC)
	return uint32(utc.Sub(midnight).Milliseconds())
}

func fromQTime(ms uint32) time.Time {
	now := time.Now().UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return midnight.Add(time.Duration(ms) * time.Millisecond)
}

// reader walks a datagram with a sticky error, so decoders can read field
// after field and check once at the end.
type reader struct {
	data []byte
	pos  int
	err  error
}

func (r *reader) need(n int, what string) bool {
	if r.err != nil {
		return false
	}
	if r.pos+n > len(r.data) {
		r.err = fmt.Errorf("%w: truncated %s at offset %d", ErrProtocol, what, r.pos)
		return false
	}
	return true
}

func (r *reader) remaining() int { return len(r.data) - r.pos }

func (r *reader) readUint8() uint8 {
	if !r.need(1, "uint8") {
		return 0
	}
	v := r.data[r.pos]
	r.pos++
	return v
}

func (r *reader) readBool() bool {
	return r.readUint8() != 0
}

func (r *reader) readUint16() uint16 {
	if !r.need(2, "uint16") {
		return 0
	}
	v := binary.BigEndian.Uint16(r.data[r.pos:])
	r.pos += 2
	return v
}

func (r *reader) readUint32() uint32 {
	if !r.need(4, "uint32") {
		return 0
	}
	v := binary.BigEndian.Uint32(r.data[r.pos:])
	r.pos += 4
	return v
}

func (r *reader) readInt32() int32 {
	return int32(r.readUint32())
}

func (r *reader) readUint64() uint64 {
	if !r.need(8, "uint64") {
		return 0
	}
	v := binary.BigEndian.Uint64(r.data[r.pos:])
	r.pos += 8
	return v
}

func (r *reader) readInt64() int64 {
	return int64(r.readUint64())
}

func (r *reader) readFloat64() float64 {
	return math.Float64frombits(r.readUint64())
}

func (r *reader) readNullString() NullString {
	length := r.readInt32()
	if r.err != nil {
		return NullString{}
	}
	if length == -1 {
		return NullString{}
	}
	if length < 0 {
		r.err = fmt.Errorf("%w: negative string length %d at offset %d", ErrProtocol, length, r.pos)
		return NullString{}
	}
	if !r.need(int(length), "string") {
		return NullString{}
	}
	s := string(r.data[r.pos : r.pos+int(length)])
	r.pos += int(length)
	return NullString{S: s, Valid: true}
}

// readString reads a string field, folding the wire's null string into "".
func (r *reader) readString() string {
	return r.readNullString().S
}

func (r *reader) readQTime() time.Time {
	return fromQTime(r.readUint32())
}

func (r *reader) readDateTime() DateTime {
	julian := r.readInt64()
	msec := r.readUint32()
	dt := DateTime{Spec: r.readUint8()}
	if dt.Spec == 2 {
		dt.Offset = r.readInt32()
	}
	if r.err != nil {
		return DateTime{}
	}
	days := julian - julianDayOrigin
	dt.Time = dateOrigin.AddDate(0, 0, int(days)).Add(time.Duration(msec) * time.Millisecond)
	return dt
}

func (r *reader) readQColor() QColor {
	var c QColor
	c.Spec = int8(r.readUint8())
	c.Alpha = r.readUint16()
	c.Red = r.readUint16()
	c.Green = r.readUint16()
	c.Blue = r.readUint16()
	c.Pad = r.readUint16()
	return c
}

// writer accumulates a datagram. Writes into a bytes.Buffer cannot fail, so
// the helpers carry no error returns.
type writer struct {
	buf bytes.Buffer
}

func (w *writer) writeUint8(v uint8) {
	w.buf.WriteByte(v)
}

func (w *writer) writeBool(b bool) {
	if b {
		w.buf.WriteByte(1)
	} else {
		w.buf.WriteByte(0)
	}
}

func (w *writer) writeUint16(v uint16) {
	binary.Write(&w.buf, binary.BigEndian, v)
}

func (w *writer) writeUint32(v uint32) {
	binary.Write(&w.buf, binary.BigEndian, v)
}

func (w *writer) writeInt32(v int32) {
	binary.Write(&w.buf, binary.BigEndian, v)
}

func (w *writer) writeUint64(v uint64) {
	binary.Write(&w.buf, binary.BigEndian, v)
}

func (w *writer) writeInt64(v int64) {
	binary.Write(&w.buf, binary.BigEndian, v)
}

func (w *writer) writeFloat64(v float64) {
	binary.Write(&w.buf, binary.BigEndian, v)
}

func (w *writer) writeString(s string) {
	w.writeInt32(int32(len(s)))
	w.buf.WriteString(s)
}

func (w *writer) writeNullString(s NullString) {
	if !s.Valid {
		w.writeInt32(-1)
		return
	}
	w.writeString(s.S)
}

func (w *writer) writeQTime(t time.Time) {
	w.writeUint32(ToQTime(t))
}

func (w *writer) writeDateTime(dt DateTime) {
	t := dt.Time.UTC()
	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	days := int64(midnight.Sub(dateOrigin).Hours() / 24)
	w.writeInt64(julianDayOrigin + days)
	w.writeUint32(uint32(t.Sub(midnight).Milliseconds()))
	w.writeUint8(dt.Spec)
	if dt.Spec == 2 {
		w.writeInt32(dt.Offset)
	}
}

func (w *writer) writeQColor(c QColor) {
	w.writeUint8(uint8(c.Spec))
	w.writeUint16(c.Alpha)
	w.writeUint16(c.Red)
	w.writeUint16(c.Green)
	w.writeUint16(c.Blue)
	w.writeUint16(c.Pad)
}

func (w *writer) writeHeader(t PacketType, id string) {
	w.writeUint32(MagicNumber)
	w.writeUint32(SchemaNumber)
	w.writeUint32(uint32(t))
	w.writeString(id)
}

// DecodePacket parses one datagram into its packet struct. Unknown packet
// types, bad magic and short reads all come back wrapping ErrProtocol.
func DecodePacket(data []byte) (Packet, error) {
	r := &reader{data: data}

	magic := r.readUint32()
	if r.err == nil && magic != MagicNumber {
		return nil, fmt.Errorf("%w: bad magic 0x%08x", ErrProtocol, magic)
	}
	r.readUint32() // schema, accepted as sent
	typ := PacketType(r.readUint32())
	id := r.readString()
	if r.err != nil {
		return nil, r.err
	}

	var pkt Packet
	switch typ {
	case TypeHeartbeat:
		pkt = &Heartbeat{
			ID:        id,
			MaxSchema: r.readUint32(),
			Version:   r.readString(),
			Revision:  r.readString(),
		}
	case TypeStatus:
		pkt = &Status{
			ID:                 id,
			Frequency:          r.readUint64(),
			Mode:               r.readString(),
			DXCall:             r.readString(),
			Report:             r.readString(),
			TXMode:             r.readString(),
			TXEnabled:          r.readBool(),
			Transmitting:       r.readBool(),
			Decoding:           r.readBool(),
			RXdf:               r.readUint32(),
			TXdf:               r.readUint32(),
			DECall:             r.readString(),
			DEGrid:             r.readString(),
			DXGrid:             r.readString(),
			TXWatchdog:         r.readBool(),
			SubMode:            r.readString(),
			FastMode:           r.readBool(),
			SpecialOpMode:      r.readUint8(),
			FrequencyTolerance: r.readUint32(),
			TRPeriod:           r.readUint32(),
			ConfigurationName:  r.readString(),
			TXMessage:          r.readString(),
		}
	case TypeDecode:
		pkt = &Decode{
			ID:             id,
			New:            r.readBool(),
			Time:           r.readQTime(),
			SNR:            r.readInt32(),
			DeltaTime:      r.readFloat64(),
			DeltaFrequency: r.readUint32(),
			Mode:           r.readString(),
			Message:        r.readString(),
			LowConfidence:  r.readBool(),
			OffAir:         r.readBool(),
		}
	case TypeClear:
		c := &Clear{ID: id}
		if r.remaining() > 0 {
			c.Window = r.readUint8()
			c.HasWindow = true
		}
		pkt = c
	case TypeReply:
		pkt = &Reply{
			ID:             id,
			Time:           r.readQTime(),
			SNR:            r.readInt32(),
			DeltaTime:      r.readFloat64(),
			DeltaFrequency: r.readUint32(),
			Mode:           r.readString(),
			Message:        r.readString(),
			LowConfidence:  r.readBool(),
			Modifiers:      r.readUint8(),
		}
	case TypeQSOLogged:
		pkt = &QSOLogged{
			ID:               id,
			DateTimeOff:      r.readDateTime(),
			DXCall:           r.readNullString(),
			DXGrid:           r.readNullString(),
			DialFrequency:    r.readUint64(),
			Mode:             r.readNullString(),
			ReportSent:       r.readNullString(),
			ReportReceived:   r.readNullString(),
			TXPower:          r.readNullString(),
			Comments:         r.readNullString(),
			Name:             r.readNullString(),
			DateTimeOn:       r.readDateTime(),
			OperatorCall:     r.readNullString(),
			MyCall:           r.readNullString(),
			MyGrid:           r.readNullString(),
			ExchangeSent:     r.readNullString(),
			ExchangeReceived: r.readNullString(),
			ADIFPropMode:     r.readNullString(),
		}
	case TypeClose:
		pkt = &Close{ID: id}
	case TypeHaltTx:
		pkt = &HaltTx{ID: id, AutoTXOnly: r.readBool()}
	case TypeFreeText:
		pkt = &FreeText{ID: id, Text: r.readString(), Send: r.readBool()}
	case TypeLoggedADIF:
		pkt = &LoggedADIF{ID: id, ADIF: r.readString()}
	case TypeHighlightCallsign:
		pkt = &HighlightCallsign{
			ID:            id,
			Callsign:      r.readString(),
			Background:    r.readQColor(),
			Foreground:    r.readQColor(),
			HighlightLast: r.readBool(),
		}
	case TypeSwitchConfiguration:
		pkt = &SwitchConfiguration{ID: id, ConfigurationName: r.readString()}
	case TypeConfigure:
		pkt = &Configure{
			ID:                 id,
			Mode:               r.readString(),
			FrequencyTolerance: r.readUint32(),
			SubMode:            r.readString(),
			FastMode:           r.readBool(),
			TRPeriod:           r.readUint32(),
			RxDF:               r.readUint32(),
			DXCall:             r.readString(),
			DXGrid:             r.readString(),
			GenerateMessages:   r.readBool(),
		}
	default:
		return nil, fmt.Errorf("%w: unknown packet type %d", ErrProtocol, typ)
	}

	if r.err != nil {
		return nil, fmt.Errorf("%s: %w", pkt.Type(), r.err)
	}
	return pkt, nil
}

// EncodePacket renders a packet struct as one datagram. An empty ID field
// gets the controller's client identifier.
func EncodePacket(p Packet) ([]byte, error) {
	w := &writer{}

	switch pkt := p.(type) {
	case *Heartbeat:
		w.writeHeader(TypeHeartbeat, headerID(pkt.ID, ClientID))
		w.writeUint32(pkt.MaxSchema)
		w.writeString(pkt.Version)
		w.writeString(pkt.Revision)
	case *Status:
		w.writeHeader(TypeStatus, headerID(pkt.ID, ClientID))
		w.writeUint64(pkt.Frequency)
		w.writeString(pkt.Mode)
		w.writeString(pkt.DXCall)
		w.writeString(pkt.Report)
		w.writeString(pkt.TXMode)
		w.writeBool(pkt.TXEnabled)
		w.writeBool(pkt.Transmitting)
		w.writeBool(pkt.Decoding)
		w.writeUint32(pkt.RXdf)
		w.writeUint32(pkt.TXdf)
		w.writeString(pkt.DECall)
		w.writeString(pkt.DEGrid)
		w.writeString(pkt.DXGrid)
		w.writeBool(pkt.TXWatchdog)
		w.writeString(pkt.SubMode)
		w.writeBool(pkt.FastMode)
		w.writeUint8(pkt.SpecialOpMode)
		w.writeUint32(pkt.FrequencyTolerance)
		w.writeUint32(pkt.TRPeriod)
		w.writeString(pkt.ConfigurationName)
		w.writeString(pkt.TXMessage)
	case *Decode:
		w.writeHeader(TypeDecode, headerID(pkt.ID, ClientID))
		w.writeBool(pkt.New)
		w.writeQTime(pkt.Time)
		w.writeInt32(pkt.SNR)
		w.writeFloat64(pkt.DeltaTime)
		w.writeUint32(pkt.DeltaFrequency)
		w.writeString(pkt.Mode)
		w.writeString(pkt.Message)
		w.writeBool(pkt.LowConfidence)
		w.writeBool(pkt.OffAir)
	case *Clear:
		w.writeHeader(TypeClear, headerID(pkt.ID, ClientID))
		if pkt.HasWindow {
			w.writeUint8(pkt.Window)
		}
	case *Reply:
		w.writeHeader(TypeReply, headerID(pkt.ID, ReplyClientID))
		w.writeQTime(pkt.Time)
		w.writeInt32(pkt.SNR)
		w.writeFloat64(pkt.DeltaTime)
		w.writeUint32(pkt.DeltaFrequency)
		w.writeString(pkt.Mode)
		w.writeString(pkt.Message)
		w.writeBool(pkt.LowConfidence)
		w.writeUint8(pkt.Modifiers)
	case *QSOLogged:
		w.writeHeader(TypeQSOLogged, headerID(pkt.ID, ClientID))
		w.writeDateTime(pkt.DateTimeOff)
		w.writeNullString(pkt.DXCall)
		w.writeNullString(pkt.DXGrid)
		w.writeUint64(pkt.DialFrequency)
		w.writeNullString(pkt.Mode)
		w.writeNullString(pkt.ReportSent)
		w.writeNullString(pkt.ReportReceived)
		w.writeNullString(pkt.TXPower)
		w.writeNullString(pkt.Comments)
		w.writeNullString(pkt.Name)
		w.writeDateTime(pkt.DateTimeOn)
		w.writeNullString(pkt.OperatorCall)
		w.writeNullString(pkt.MyCall)
		w.writeNullString(pkt.MyGrid)
		w.writeNullString(pkt.ExchangeSent)
		w.writeNullString(pkt.ExchangeReceived)
		w.writeNullString(pkt.ADIFPropMode)
	case *Close:
		w.writeHeader(TypeClose, headerID(pkt.ID, ClientID))
	case *HaltTx:
		w.writeHeader(TypeHaltTx, headerID(pkt.ID, ClientID))
		w.writeBool(pkt.AutoTXOnly)
	case *FreeText:
		w.writeHeader(TypeFreeText, headerID(pkt.ID, ClientID))
		w.writeString(pkt.Text)
		w.writeBool(pkt.Send)
	case *LoggedADIF:
		w.writeHeader(TypeLoggedADIF, headerID(pkt.ID, ClientID))
		w.writeString(pkt.ADIF)
	case *HighlightCallsign:
		w.writeHeader(TypeHighlightCallsign, headerID(pkt.ID, ClientID))
		w.writeString(pkt.Callsign)
		w.writeQColor(pkt.Background)
		w.writeQColor(pkt.Foreground)
		w.writeBool(pkt.HighlightLast)
	case *SwitchConfiguration:
		w.writeHeader(TypeSwitchConfiguration, headerID(pkt.ID, ClientID))
		w.writeString(pkt.ConfigurationName)
	case *Configure:
		w.writeHeader(TypeConfigure, headerID(pkt.ID, ClientID))
		w.writeString(pkt.Mode)
		w.writeUint32(pkt.FrequencyTolerance)
		w.writeString(pkt.SubMode)
		w.writeBool(pkt.FastMode)
		w.writeUint32(pkt.TRPeriod)
		w.writeUint32(pkt.RxDF)
		w.writeString(pkt.DXCall)
		w.writeString(pkt.DXGrid)
		w.writeBool(pkt.GenerateMessages)
	default:
		return nil, fmt.Errorf("%w: cannot encode packet type %d", ErrProtocol, p.Type())
	}

	return w.buf.Bytes(), nil
}

func headerID(id, fallback string) string {
	if id == "" {
		return fallback
	}
	return id
}
