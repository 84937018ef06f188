package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	flag "github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/0x9900/FT8Commander/cty"
	"github.com/0x9900/FT8Commander/spotdb"
)

const configName = "ft8ctrl.yaml"

var configLocations = []string{"/etc", "~/.local/etc", "."}

// config is the slice of ft8ctrl.yaml this tool cares about: where the
// sighting database and the DXCC cache live.
type config struct {
	FT8Ctrl struct {
		DBName  string `yaml:"db_name"`
		HomeDir string `yaml:"home_dir"`
	} `yaml:"ft8ctrl"`
}

func main() {
	configFile := flag.StringP("config", "c", "", "Name of the configuration file")
	partial := flag.BoolP("partial", "p", false, "Match the callsign as a regular expression")
	remove := flag.BoolP("delete", "d", false, "Delete the records after showing them")
	entities := flag.BoolP("entities", "l", false, "List every DXCC entity")
	country := flag.String("country", "", "List the prefixes of a DXCC entity")
	prefix := flag.String("prefix", "", "Resolve a callsign to its DXCC entity")
	flag.Parse()

	if *partial && *remove {
		log.Fatal("--partial and --delete are mutually exclusive")
	}

	cfg, err := loadConfig(*configFile)
	if err != nil {
		log.Fatalf("%v", err)
	}

	switch {
	case *entities:
		err = listEntities(cfg)
	case *country != "":
		err = showCountry(cfg, *country)
	case *prefix != "":
		err = showPrefix(cfg, *prefix)
	case flag.NArg() == 1:
		err = showCall(cfg, strings.ToUpper(flag.Arg(0)), *partial, *remove)
	default:
		fmt.Fprintf(os.Stderr, "Usage: %s [options] [CALL]\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("%v", err)
	}
}

func loadConfig(filename string) (*config, error) {
	if filename == "" {
		var err error
		if filename, err = findConfig(); err != nil {
			return nil, err
		}
	}
	data, err := os.ReadFile(expandTilde(filename))
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	var cfg config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", filename, err)
	}
	if cfg.FT8Ctrl.DBName == "" {
		return nil, fmt.Errorf("%s: ft8ctrl.db_name is required", filename)
	}
	cfg.FT8Ctrl.DBName = expandTilde(cfg.FT8Ctrl.DBName)
	if cfg.FT8Ctrl.HomeDir == "" {
		cfg.FT8Ctrl.HomeDir = filepath.Join(os.TempDir(), "ft8ctrl")
	} else {
		cfg.FT8Ctrl.HomeDir = expandTilde(cfg.FT8Ctrl.HomeDir)
	}
	return &cfg, nil
}

func findConfig() (string, error) {
	for _, dir := range configLocations {
		name := filepath.Join(expandTilde(dir), configName)
		if _, err := os.Stat(name); err == nil {
			return name, nil
		}
	}
	return "", fmt.Errorf("no %s found in %v", configName, configLocations)
}

func expandTilde(path string) string {
	if path == "~" || len(path) > 1 && path[:2] == "~/" {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}

func showCall(cfg *config, call string, partial, remove bool) error {
	store, err := spotdb.Open(cfg.FT8Ctrl.DBName)
	if err != nil {
		return err
	}
	defer store.Close()

	var rows []spotdb.Sighting
	if partial {
		rows, err = store.ByCallRegexp(call, 0)
	} else {
		rows, err = store.ByCall(call)
	}
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		fmt.Printf("%s not found\n", call)
		return nil
	}
	for i := range rows {
		showRecord(&rows[i])
	}
	if remove {
		if err := store.DeleteCall(call); err != nil {
			return err
		}
		fmt.Printf("%s Deleted\n", call)
	}
	return nil
}

func showRecord(row *spotdb.Sighting) {
	fmt.Printf("%-10s: %s\n", "Call", row.Call)
	fmt.Printf("%-10s: %s\n", "Status", statusName(row.Status))
	fmt.Printf("%-10s: %d\n", "Snr", row.SNR)
	fmt.Printf("%-10s: %s\n", "Grid", row.Grid)
	fmt.Printf("%-10s: %d\n", "Cqzone", row.CQZone)
	fmt.Printf("%-10s: %d\n", "Ituzone", row.ITUZone)
	fmt.Printf("%-10s: %s\n", "Country", row.Country)
	fmt.Printf("%-10s: %s\n", "Continent", row.Continent)
	fmt.Printf("%-10s: %s\n", "Time", time.Unix(row.Time, 0).UTC().Format(time.DateTime))
	fmt.Printf("%-10s: %d\n", "Frequency", row.Frequency)
	fmt.Println(strings.Repeat("-", 79))
}

func statusName(status int) string {
	switch status {
	case spotdb.StatusNew:
		return "New"
	case spotdb.StatusCalled:
		return "Called"
	case spotdb.StatusWorked:
		return "Worked"
	}
	return strconv.Itoa(status)
}

func openDXCC(cfg *config) (*cty.DB, error) {
	return cty.New(cty.Options{Home: cfg.FT8Ctrl.HomeDir})
}

func listEntities(cfg *config) error {
	dxcc, err := openDXCC(cfg)
	if err != nil {
		return err
	}
	defer dxcc.Close()

	names := make([]string, 0)
	for name := range dxcc.Entities() {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Println(name)
	}
	return nil
}

func showCountry(cfg *config, name string) error {
	dxcc, err := openDXCC(cfg)
	if err != nil {
		return err
	}
	defer dxcc.Close()

	var found string
	for country := range dxcc.Entities() {
		if strings.EqualFold(country, name) {
			found = country
			break
		}
	}
	if found == "" {
		return fmt.Errorf("the country %q cannot be found", name)
	}
	prefixes, _ := dxcc.GetEntity(found)
	sort.Strings(prefixes)
	fmt.Printf("%s:\n", found)
	for _, line := range wrap(prefixes, 76) {
		fmt.Printf(" >  %s\n", line)
	}
	return nil
}

func showPrefix(cfg *config, call string) error {
	dxcc, err := openDXCC(cfg)
	if err != nil {
		return err
	}
	defer dxcc.Close()

	entry, err := dxcc.Lookup(call)
	if err != nil {
		return err
	}
	fmt.Printf("Call prefix: %s = %s - Continent: %s, CQZone: %d, ITUZone: %d\n",
		strings.ToUpper(call), entry.Country, entry.Continent, entry.CQZone, entry.ITUZone)
	return nil
}

// wrap joins words into comma separated lines no wider than width.
func wrap(words []string, width int) []string {
	var lines []string
	var line string
	for _, word := range words {
		switch {
		case line == "":
			line = word
		case len(line)+len(word)+2 > width:
			lines = append(lines, line+",")
			line = word
		default:
			line += ", " + word
		}
	}
	if line != "" {
		lines = append(lines, line)
	}
	return lines
}
