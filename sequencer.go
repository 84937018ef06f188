package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/0x9900/FT8Commander/lotw"
	"github.com/0x9900/FT8Commander/maidenhead"
	"github.com/0x9900/FT8Commander/selector"
	"github.com/0x9900/FT8Commander/spotdb"
	"github.com/0x9900/FT8Commander/wsjtx"
)

// slotTable maps the console's transmit mode to the UTC seconds at which
// a reply may be handed over. The seconds land right after a receive
// period decodes, leaving the console time to arm the message before the
// next transmit window opens.
var slotTable = map[string][]int{
	"FT8": {2, 17, 32, 47},
	"FT4": {0, 6, 12, 18, 24, 30, 36, 42, 48, 54},
}

const selectTimeout = 700 * time.Millisecond

type datagram struct {
	data []byte
	addr *net.UDPAddr
}

// Sequencer drives the WSJT-X console. It listens on the console's UDP
// reporting channel, hands heard CQ calls to the writer, and on every
// transmit slot asks the selector pipeline for the next station to call.
type Sequencer struct {
	conn      *net.UDPConn
	writer    *DBWriter
	pipeline  *selector.Pipeline
	operators *lotw.Registry
	mqtt      *MQTTPublisher
	console   *ConsoleVersion

	myCall          string
	followFrequency bool
	txPower         int
	txRetries       int

	loggerAddr *net.UDPAddr
	loggerConn *net.UDPConn

	// Loop state, owned by Run.
	sender    *net.UDPAddr
	sequence  []int
	frequency uint64
	txStatus  bool
	pause     bool
	current   string
	lastTX    string
	retries   int
}

// NewSequencer binds the console socket. The logger address is optional,
// QSO records are forwarded only when both the IP and the port are set.
func NewSequencer(cfg *FT8CtrlConfig, writer *DBWriter, pipeline *selector.Pipeline, console *ConsoleVersion) (*Sequencer, error) {
	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(cfg.WSJTIP, strconv.Itoa(cfg.WSJTPort)))
	if err != nil {
		return nil, fmt.Errorf("wsjt address: %w", err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("wsjt socket: %w", err)
	}
	seq := &Sequencer{
		conn:            conn,
		writer:          writer,
		pipeline:        pipeline,
		console:         console,
		myCall:          strings.ToUpper(cfg.MyCall),
		followFrequency: cfg.FollowFrequency,
		txPower:         cfg.TXPower,
		txRetries:       cfg.TXRetries,
	}
	if cfg.LoggerIP != "" && cfg.LoggerPort > 0 {
		seq.loggerAddr, err = net.ResolveUDPAddr("udp", net.JoinHostPort(cfg.LoggerIP, strconv.Itoa(cfg.LoggerPort)))
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("logger address: %w", err)
		}
	}
	return seq, nil
}

// Close releases the console and logger sockets.
func (s *Sequencer) Close() error {
	if s.loggerConn != nil {
		s.loggerConn.Close()
	}
	return s.conn.Close()
}

// Run is the main loop. Datagrams and console commands are handled as
// they arrive; the tick keeps the slot alignment check running at least
// once per second even on a silent channel.
func (s *Sequencer) Run(ctx context.Context) error {
	packets := make(chan datagram, 16)
	lines := make(chan string, 4)
	go s.readPackets(ctx, packets)
	go readCommands(lines)

	ticker := time.NewTicker(selectTimeout)
	defer ticker.Stop()

	log.Printf("ft8ctrl running...")
	for {
		select {
		case <-ctx.Done():
			return nil
		case dgram, ok := <-packets:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errors.New("console socket closed")
			}
			s.handleDatagram(dgram)
		case line := <-lines:
			if line == "QUIT" {
				return nil
			}
			s.command(line)
		case <-ticker.C:
		}
		s.maybeTransmit(time.Now().UTC())
	}
}

func (s *Sequencer) readPackets(ctx context.Context, out chan<- datagram) {
	defer close(out)
	buf := make([]byte, 2048)
	for {
		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
				log.Printf("Sequencer: read: %v", err)
			}
			return
		}
		select {
		case out <- datagram{data: slices.Clone(buf[:n]), addr: addr}:
		case <-ctx.Done():
			return
		}
	}
}

// readCommands feeds uppercased stdin lines to the loop. The scanner
// blocks on a quiet terminal, the goroutine is abandoned at shutdown.
func readCommands(out chan<- string) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.ToUpper(strings.TrimSpace(scanner.Text()))
		if line == "" {
			continue
		}
		out <- line
	}
}

func (s *Sequencer) handleDatagram(dgram datagram) {
	s.sender = dgram.addr
	pkt, err := wsjtx.DecodePacket(dgram.data)
	if err != nil {
		log.Printf("Sequencer: %v", err)
		return
	}
	metricPackets.WithLabelValues(pkt.Type().String()).Inc()
	switch p := pkt.(type) {
	case *wsjtx.Heartbeat:
		if s.console != nil {
			s.console.Observe(p)
		}
	case *wsjtx.Status:
		s.handleStatus(p)
	case *wsjtx.Decode:
		s.handleDecode(p)
	case *wsjtx.QSOLogged:
		s.logQSO(p)
	}
}

func (s *Sequencer) handleStatus(p *wsjtx.Status) {
	if slots, ok := slotTable[modeName(p.TXMode)]; ok {
		s.sequence = slots
	}
	s.frequency = p.Frequency
	s.txStatus = p.Transmitting || p.TXEnabled

	if p.Transmitting && !p.Decoding && p.TXMessage != "" {
		if DebugMode {
			log.Printf("%s => TX: %t, TXEnabled: %t - TXWatchdog: %t",
				p.DXCall, p.Transmitting, p.TXEnabled, p.TXWatchdog)
		}
		if p.TXMessage == s.lastTX {
			s.retries++
			if s.retries >= s.txRetries {
				log.Printf("Stop Transmit: %s not answering after %d calls", p.DXCall, s.retries)
				s.haltTransmit()
				s.retries = 0
			}
		} else {
			s.lastTX = p.TXMessage
			s.retries = 0
		}
	}

	if p.Transmitting && p.DXCall != "" {
		s.writer.SetStatus(p.DXCall, spotdb.Band(s.frequency), spotdb.StatusCalled)
	}
}

func (s *Sequencer) handleDecode(p *wsjtx.Decode) {
	msg := parseMessage(p.Message)
	if msg == nil {
		if DebugMode {
			log.Printf("Unmatched: %s", p.Message)
		}
		return
	}
	switch {
	case msg.Kind == KindReply && s.current != "" && msg.Call == s.current && msg.To != s.myCall:
		log.Printf("Stop Transmit: %s Replying to %s", msg.Call, msg.To)
		s.haltTransmit()
		s.writer.Delete(msg.Call, spotdb.Band(s.frequency))
	case msg.Kind == KindCQ:
		s.writer.Insert(p, msg, s.frequency)
	}
}

func (s *Sequencer) logQSO(p *wsjtx.QSOLogged) {
	s.forwardToLogger(p)
	s.writer.SetStatus(p.DXCall.S, spotdb.Band(p.DialFrequency), spotdb.StatusWorked)
	log.Printf("** Logged call: %s, Grid: %s, Mode: %s", p.DXCall.S, p.DXGrid.S, modeName(p.Mode.S))
	metricQSOs.Inc()
	if s.mqtt != nil {
		s.mqtt.PublishQSO(p)
	}
	s.current = ""
}

// forwardToLogger relays the QSO record to the upstream logger, tagging
// the comment field and replacing the TX power the console reports with
// the configured value or a rotating placeholder.
func (s *Sequencer) forwardToLogger(p *wsjtx.QSOLogged) {
	if s.loggerAddr == nil {
		return
	}
	if s.loggerConn == nil {
		conn, err := net.DialUDP("udp", nil, s.loggerAddr)
		if err != nil {
			log.Printf("Sequencer: logger: %v", err)
			return
		}
		s.loggerConn = conn
	}
	forward := *p
	forward.TXPower = wsjtx.String(strconv.Itoa(s.forwardPower()))
	forward.Comments = wsjtx.String("[ft8ctrl] " + forward.Comments.S)
	data, err := wsjtx.EncodePacket(&forward)
	if err != nil {
		log.Printf("Sequencer: logger: %v", err)
		return
	}
	if _, err := s.loggerConn.Write(data); err != nil {
		log.Printf("Sequencer: logger: %v", err)
	}
}

func (s *Sequencer) forwardPower() int {
	if s.txPower > 0 {
		return s.txPower
	}
	return 11 + time.Now().YearDay()%8
}

// haltTransmit asks the console to stop at the end of the current
// sequence rather than cutting a transmission short.
func (s *Sequencer) haltTransmit() {
	if s.sender == nil {
		return
	}
	data, err := wsjtx.EncodePacket(&wsjtx.HaltTx{AutoTXOnly: true})
	if err != nil {
		log.Printf("Sequencer: halt: %v", err)
		return
	}
	if _, err := s.conn.WriteToUDP(data, s.sender); err != nil {
		log.Printf("Sequencer: halt: %v", err)
		return
	}
	metricHaltTx.Inc()
}

// maybeTransmit runs the slot alignment check. A reply goes out only
// when the console is idle, the loop is not paused and the current UTC
// second is one of the mode's transmit slots. The one second sleep keeps
// a slot from firing twice.
func (s *Sequencer) maybeTransmit(now time.Time) {
	if s.pause || s.txStatus || s.sender == nil {
		return
	}
	if !slices.Contains(s.sequence, now.Second()) {
		return
	}
	cand, name, err := s.pipeline.Pick(spotdb.Band(s.frequency))
	switch {
	case err != nil:
		log.Printf("Selector: %v", err)
	case cand != nil:
		s.callStation(cand, name)
		s.current = cand.Call
		s.retries = 0
	default:
		s.current = ""
	}
	time.Sleep(time.Second)
}

func (s *Sequencer) callStation(cand *selector.Candidate, selectorName string) {
	log.Printf("Calling: %s (%s), From: %s, SNR: %d, Distance: %.0f, Band: %dm - %s - https://www.qrz.com/db/%s",
		cand.Call, cand.Extra, cand.Country, cand.SNR, cand.Distance, cand.Band, selectorName, cand.Call)
	reply := wsjtx.Reply{
		Time:           cand.Packet.Time.Time,
		SNR:            int32(cand.SNR),
		DeltaTime:      cand.Packet.DeltaTime,
		DeltaFrequency: cand.Packet.DeltaFrequency,
		Mode:           cand.Packet.Mode,
		Message:        cand.Packet.Message,
	}
	if s.followFrequency {
		reply.Modifiers = wsjtx.ModifierShift
	}
	data, err := wsjtx.EncodePacket(&reply)
	if err != nil {
		log.Printf("Sequencer: reply: %v", err)
		return
	}
	if _, err := s.conn.WriteToUDP(data, s.sender); err != nil {
		log.Printf("Sequencer: reply to %s: %v", cand.Call, err)
		return
	}
	metricReplies.Inc()
	if s.mqtt != nil {
		s.mqtt.PublishReply(cand.Call, cand.Band, cand.SNR, cand.Coef, selectorName)
	}
}

func (s *Sequencer) command(line string) {
	switch {
	case strings.Contains(line, "HELP") || strings.Contains(line, "?"):
		log.Printf("The commands are: QUIT, CACHE, PAUSE, RUN, SELECTOR or HELP")
	case line == "PAUSE":
		log.Printf("Paused...")
		s.pause = true
	case line == "RUN":
		log.Printf("Run...")
		s.pause = false
	case line == "SELECTOR", line == "SELECTORS":
		log.Printf("Selectors: %s", strings.Join(s.pipeline.Names(), ", "))
	case line == "CACHE":
		log.Printf("Cache grid: %s", maidenhead.CacheStats())
		log.Printf("Cache selector: %s", s.pipeline.Stats())
		if s.operators != nil {
			log.Printf("Cache LOTW: %s", s.operators.CacheStats())
		}
	default:
		log.Printf("Unknown command: %s", line)
	}
}

// modeName maps a mode marker to its name. Status packets from current
// consoles carry the name already, decodes and logged QSOs carry the
// single character marker.
func modeName(mode string) string {
	switch mode {
	case "~":
		return "FT8"
	case "+":
		return "FT4"
	}
	return mode
}
