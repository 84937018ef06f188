package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/0x9900/FT8Commander/cty"
	"github.com/0x9900/FT8Commander/maidenhead"
	"github.com/0x9900/FT8Commander/spotdb"
	"github.com/0x9900/FT8Commander/wsjtx"
)

/*
 * DB writer worker
 * Serializes all sighting-table writes through one goroutine feeding the
 * SQLite store, so the sequencer never blocks on a busy database
 */

const writerQueueDepth = 128

type dbCommandKind int

const (
	cmdInsert dbCommandKind = iota + 1
	cmdStatus
	cmdDelete
)

func (k dbCommandKind) String() string {
	switch k {
	case cmdInsert:
		return "INSERT"
	case cmdStatus:
		return "STATUS"
	case cmdDelete:
		return "DELETE"
	}
	return "UNKNOWN"
}

type dbCommand struct {
	kind      dbCommandKind
	decode    *wsjtx.Decode
	message   *Message
	frequency uint64
	call      string
	band      int
	status    int
}

// DBWriter owns the write side of the sighting store. Sightings arrive as
// raw decodes and leave enriched with geodesy and DXCC data.
type DBWriter struct {
	store *spotdb.Store
	dxcc  *cty.DB
	mqtt  *MQTTPublisher
	lat   float64
	lon   float64
	ch    chan dbCommand
}

// NewDBWriter builds the writer around the store. The operator grid fixes
// the origin for distance and azimuth enrichment.
func NewDBWriter(store *spotdb.Store, dxcc *cty.DB, myGrid string) (*DBWriter, error) {
	lat, lon, err := maidenhead.GridToLatLon(myGrid)
	if err != nil {
		return nil, fmt.Errorf("my_grid: %w", err)
	}
	return &DBWriter{
		store: store,
		dxcc:  dxcc,
		lat:   lat,
		lon:   lon,
		ch:    make(chan dbCommand, writerQueueDepth),
	}, nil
}

// Insert queues a decoded CQ for enrichment and storage.
func (w *DBWriter) Insert(decode *wsjtx.Decode, msg *Message, frequency uint64) {
	w.ch <- dbCommand{kind: cmdInsert, decode: decode, message: msg, frequency: frequency}
}

// SetStatus queues a status change for the row of call on band.
func (w *DBWriter) SetStatus(call string, band, status int) {
	w.ch <- dbCommand{kind: cmdStatus, call: call, band: band, status: status}
}

// Delete queues the removal of the row of call on band.
func (w *DBWriter) Delete(call string, band int) {
	w.ch <- dbCommand{kind: cmdDelete, call: call, band: band}
}

// Run consumes the command queue until the context ends. Store errors are
// logged and the next command is taken; the worker never stops on them.
func (w *DBWriter) Run(ctx context.Context) {
	for {
		metricWriteQueue.Set(float64(len(w.ch)))
		select {
		case <-ctx.Done():
			return
		case cmd := <-w.ch:
			if err := w.apply(cmd); err != nil {
				log.Printf("DBWriter: queue %d - %v", len(w.ch), err)
			}
		}
	}
}

func (w *DBWriter) apply(cmd dbCommand) error {
	switch cmd.kind {
	case cmdInsert:
		return w.insert(cmd)
	case cmdStatus:
		return w.store.SetStatus(cmd.call, cmd.band, cmd.status)
	case cmdDelete:
		return w.store.Delete(cmd.call, cmd.band)
	}
	return fmt.Errorf("dbwriter: unknown command %d", cmd.kind)
}

// insert enriches one parsed CQ and upserts it. Callsigns with no DXCC
// prefix never reach the table.
func (w *DBWriter) insert(cmd dbCommand) error {
	call := strings.ToUpper(cmd.message.Call)

	entry, err := w.dxcc.Lookup(call)
	if err != nil {
		if errors.Is(err, cty.ErrUnknownPrefix) {
			log.Printf("DBWriter: %s looks like a fake callsign", call)
			return nil
		}
		return fmt.Errorf("dbwriter lookup %s: %w", call, err)
	}

	var lat, lon, distance float64
	var azimuth int
	if cmd.message.Grid != "" {
		lat, lon, err = maidenhead.GridToLatLon(cmd.message.Grid)
		if err != nil {
			return fmt.Errorf("dbwriter grid %q: %w", cmd.message.Grid, err)
		}
		distance = maidenhead.Distance(w.lat, w.lon, lat, lon)
		azimuth = maidenhead.Azimuth(w.lat, w.lon, lat, lon)
	}

	sighting := spotdb.Sighting{
		Call:      call,
		Extra:     cmd.message.Extra,
		Time:      cmd.decode.Time.Unix(),
		Status:    spotdb.StatusNew,
		SNR:       int(cmd.decode.SNR),
		Grid:      cmd.message.Grid,
		Lat:       lat,
		Lon:       lon,
		Distance:  distance,
		Azimuth:   azimuth,
		Country:   entry.Country,
		Continent: entry.Continent,
		CQZone:    entry.CQZone,
		ITUZone:   entry.ITUZone,
		Frequency: cmd.frequency,
		Band:      spotdb.Band(cmd.frequency),
		Packet: spotdb.Envelope{
			Time:           spotdb.DateTime{Time: cmd.decode.Time},
			SNR:            cmd.decode.SNR,
			DeltaTime:      cmd.decode.DeltaTime,
			DeltaFrequency: cmd.decode.DeltaFrequency,
			Mode:           cmd.decode.Mode,
			Message:        cmd.decode.Message,
			LowConfidence:  cmd.decode.LowConfidence,
		},
	}
	if err := w.store.Upsert(&sighting); err != nil {
		return err
	}
	metricSightings.Inc()
	if w.mqtt != nil {
		w.mqtt.PublishSighting(&sighting)
	}
	return nil
}
