package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfig = `
ft8ctrl:
  db_name: /tmp/ft8ctrl-test.db
  my_call: W6BSD
  my_grid: CM87vl
  wsjt_ip: 127.0.0.1
  wsjt_port: 2238
  logger_ip: 127.0.0.1
  logger_port: 2237
  follow_frequency: true
  retry_time: 15
  call_selector:
    - Country
    - Any
BlackList:
  - A1AA
  - B2BB
Country:
  list: [France, Japan]
Any:
  min_snr: -20
mqtt:
  enabled: false
prometheus:
  enabled: false
`

func writeConfig(t *testing.T, doc string) string {
	t.Helper()
	name := filepath.Join(t.TempDir(), "ft8ctrl.yaml")
	require.NoError(t, os.WriteFile(name, []byte(doc), 0o644))
	return name
}

func TestLoadConfig(t *testing.T) {
	config, err := LoadConfig(writeConfig(t, testConfig))
	require.NoError(t, err)

	assert.Equal(t, "W6BSD", config.FT8Ctrl.MyCall)
	assert.Equal(t, "CM87vl", config.FT8Ctrl.MyGrid)
	assert.Equal(t, 2238, config.FT8Ctrl.WSJTPort)
	assert.True(t, config.FT8Ctrl.FollowFrequency)
	assert.Equal(t, []string{"Country", "Any"}, []string(config.FT8Ctrl.CallSelector))
	assert.Equal(t, []string{"A1AA", "B2BB"}, []string(config.BlackList))

	assert.Equal(t, defaultTXRetries, config.FT8Ctrl.TXRetries)
	assert.Equal(t, defaultLogFileName, config.FT8Ctrl.LogFileName)
	assert.Equal(t, defaultLogFileSize, config.FT8Ctrl.LogFileSize)
	assert.NotEmpty(t, config.FT8Ctrl.HomeDir)

	sections := config.SelectorSections()
	assert.Contains(t, sections, "Country")
	assert.Contains(t, sections, "Any")
}

func TestLoadConfigScalarLists(t *testing.T) {
	doc := `
ft8ctrl:
  db_name: /tmp/x.db
  my_call: W6BSD
  my_grid: CM87
  wsjt_ip: 127.0.0.1
  wsjt_port: 2238
  retry_time: 10
  call_selector: Any
BlackList: A1AA
`
	config, err := LoadConfig(writeConfig(t, doc))
	require.NoError(t, err)
	assert.Equal(t, []string{"Any"}, []string(config.FT8Ctrl.CallSelector))
	assert.Equal(t, []string{"A1AA"}, []string(config.BlackList))
}

func TestLoadConfigUnknownKey(t *testing.T) {
	doc := `
ft8ctrl:
  db_name: /tmp/x.db
  my_cal: W6BSD
  my_grid: CM87
  wsjt_ip: 127.0.0.1
  wsjt_port: 2238
  retry_time: 10
  call_selector: [Any]
`
	_, err := LoadConfig(writeConfig(t, doc))
	require.Error(t, err)
}

func TestLoadConfigUnknownSection(t *testing.T) {
	doc := testConfig + "\nPrefecture:\n  list: [Tokyo]\n"
	_, err := LoadConfig(writeConfig(t, doc))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Prefecture")
}

func TestLoadConfigUnknownSelectorName(t *testing.T) {
	doc := `
ft8ctrl:
  db_name: /tmp/x.db
  my_call: W6BSD
  my_grid: CM87
  wsjt_ip: 127.0.0.1
  wsjt_port: 2238
  retry_time: 10
  call_selector: [Bogus]
`
	_, err := LoadConfig(writeConfig(t, doc))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Bogus")
}

func TestLoadConfigMissingRequired(t *testing.T) {
	for _, missing := range []string{"db_name", "my_call", "my_grid", "retry_time"} {
		doc := `
ft8ctrl:
  db_name: /tmp/x.db
  my_call: W6BSD
  my_grid: CM87
  wsjt_ip: 127.0.0.1
  wsjt_port: 2238
  retry_time: 10
  call_selector: [Any]
`
		switch missing {
		case "db_name":
			doc = `
ft8ctrl:
  my_call: W6BSD
  my_grid: CM87
  wsjt_ip: 127.0.0.1
  wsjt_port: 2238
  retry_time: 10
  call_selector: [Any]
`
		case "my_call":
			doc = `
ft8ctrl:
  db_name: /tmp/x.db
  my_grid: CM87
  wsjt_ip: 127.0.0.1
  wsjt_port: 2238
  retry_time: 10
  call_selector: [Any]
`
		case "my_grid":
			doc = `
ft8ctrl:
  db_name: /tmp/x.db
  my_call: W6BSD
  wsjt_ip: 127.0.0.1
  wsjt_port: 2238
  retry_time: 10
  call_selector: [Any]
`
		case "retry_time":
			doc = `
ft8ctrl:
  db_name: /tmp/x.db
  my_call: W6BSD
  my_grid: CM87
  wsjt_ip: 127.0.0.1
  wsjt_port: 2238
  call_selector: [Any]
`
		}
		_, err := LoadConfig(writeConfig(t, doc))
		assert.Error(t, err, "config without %s must not load", missing)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLogMegabytes(t *testing.T) {
	assert.Equal(t, 1, logMegabytes(0))
	assert.Equal(t, 1, logMegabytes(2<<18))
	assert.Equal(t, 1, logMegabytes(1<<20))
	assert.Equal(t, 5, logMegabytes(5<<20))
}
