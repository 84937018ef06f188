package main

import (
	"context"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/0x9900/FT8Commander/cty"
	"github.com/0x9900/FT8Commander/lotw"
	"github.com/0x9900/FT8Commander/selector"
	"github.com/0x9900/FT8Commander/spotdb"
)

// Global debug flag
var DebugMode bool

func main() {
	configFile := flag.StringP("config", "c", "", "Name of the configuration file")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	config, err := LoadConfig(*configFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	DebugMode = *debug || config.FT8Ctrl.Debug
	if DebugMode {
		log.Println("Debug mode enabled")
	}

	logWriter := &lumberjack.Logger{
		Filename:   config.FT8Ctrl.LogFileName,
		MaxSize:    logMegabytes(config.FT8Ctrl.LogFileSize),
		MaxBackups: 5,
	}
	defer logWriter.Close()
	log.SetOutput(io.MultiWriter(os.Stderr, logWriter))

	log.Printf("Starting FT8Commander %s", Version)
	log.Printf("Call: %s, Grid: %s", config.FT8Ctrl.MyCall, config.FT8Ctrl.MyGrid)
	log.Printf("WSJT-X console: %s:%d", config.FT8Ctrl.WSJTIP, config.FT8Ctrl.WSJTPort)
	log.Printf("Call selector: %s", strings.Join(config.FT8Ctrl.CallSelector, ", "))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := spotdb.Open(config.FT8Ctrl.DBName)
	if err != nil {
		log.Fatalf("Failed to open the sighting database: %v", err)
	}
	defer store.Close()

	dxcc, err := cty.New(cty.Options{Home: config.FT8Ctrl.HomeDir})
	if err != nil {
		log.Fatalf("Failed to load the DXCC prefix database: %v", err)
	}
	defer dxcc.Close()

	myEntity, err := dxcc.Lookup(config.FT8Ctrl.MyCall)
	if err != nil {
		log.Fatalf("my_call %s: %v", config.FT8Ctrl.MyCall, err)
	}

	sections := config.SelectorSections()
	var operators *lotw.Registry
	if selector.NeedsOperators(config.FT8Ctrl.CallSelector, sections) {
		operators, err = lotw.New(lotw.Options{Path: filepath.Join(config.FT8Ctrl.HomeDir, "lotw-cache.db")})
		if err != nil {
			log.Fatalf("Failed to load the LOTW registry: %v", err)
		}
		defer operators.Close()
		log.Printf("LOTW registry: %d operators", operators.Count())
	}

	deps := selector.Deps{
		Store:       store,
		Entities:    dxcc,
		Blacklist:   config.BlackList,
		MyContinent: myEntity.Continent,
	}
	if operators != nil {
		deps.Operators = operators
	}
	pipeline, err := selector.New(config.FT8Ctrl.CallSelector, sections, deps)
	if err != nil {
		log.Fatalf("Failed to build the selector pipeline: %v", err)
	}

	writer, err := NewDBWriter(store, dxcc, config.FT8Ctrl.MyGrid)
	if err != nil {
		log.Fatalf("Failed to start the db writer: %v", err)
	}

	var mqtt *MQTTPublisher
	if config.MQTT.Enabled {
		mqtt, err = NewMQTTPublisher(&config.MQTT)
		if err != nil {
			log.Printf("Warning: Failed to start MQTT publisher: %v", err)
		} else {
			defer mqtt.Disconnect()
			writer.mqtt = mqtt
			go mqtt.StartPublisher(ctx)
		}
	}

	go writer.Run(ctx)
	go runPurge(ctx, store, time.Duration(config.FT8Ctrl.RetryTime)*time.Minute)
	startMetrics(ctx, config.Prometheus, pipeline, operators)

	seq, err := NewSequencer(&config.FT8Ctrl, writer, pipeline, NewConsoleVersion())
	if err != nil {
		log.Fatalf("Failed to bind the console socket: %v", err)
	}
	defer seq.Close()
	seq.operators = operators
	seq.mqtt = mqtt

	if err := seq.Run(ctx); err != nil {
		log.Fatalf("%v", err)
	}
	if ctx.Err() != nil {
		log.Printf("^C pressed exiting")
	}
}

// logMegabytes converts the configured byte count to the whole megabytes
// the rotating logger wants, never less than one.
func logMegabytes(size int) int {
	mb := size >> 20
	if mb < 1 {
		mb = 1
	}
	return mb
}
