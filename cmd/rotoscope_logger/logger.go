// Command rotoscope_logger records the controller's status stream in
// InfluxDB.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/gorilla/websocket"
	influxdb2 "github.com/influxdata/influxdb-client-go"
	"github.com/influxdata/influxdb-client-go/api"
	"github.com/influxdata/influxdb-client-go/api/write"
	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"

	"github.com/w1xm/rotoscope/internal/config"
	"github.com/w1xm/rotoscope/internal/logger"
)

const measurement = "rotoscope.status"

var (
	app        = kingpin.New("rotoscope_logger", "Log rotoscope status to InfluxDB")
	configPath = app.Flag("config", "Path to config file; its influx section supplies the defaults").String()
	addr       = app.Flag("addr", "Status socket URL").Default("ws://localhost:3000/ws").Envar("ROTOSCOPE_ADDRESS").String()
	influx     = app.Flag("influx", "InfluxDB server URL (overrides config)").Envar("INFLUX_SERVER").String()
	org        = app.Flag("org", "InfluxDB organization (overrides config)").String()
	bucket     = app.Flag("bucket", "InfluxDB bucket (overrides config)").String()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
)

func main() {
	_ = godotenv.Load()
	kingpin.MustParse(app.Parse(os.Args[1:]))

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	level := cfg.Log.Level
	if *verbose {
		level = "debug"
	}
	if err := logger.Init(logger.Config{Output: "stdout", Level: level}); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}

	settings := influxSettings(cfg.Influx, *influx, *org, *bucket)
	zlog.Info().Str("url", settings.URL).Str("org", settings.Org).Str("bucket", settings.Bucket).Msg("writing to InfluxDB")
	client := influxdb2.NewClient(settings.URL, settings.Token)
	defer client.Close()
	// Get non-blocking write client
	writeApi := client.WriteApi(settings.Org, settings.Bucket)
	defer writeApi.Close()
	go func() {
		for err := range writeApi.Errors() {
			zlog.Warn().Err(err).Msg("write error")
		}
	}()
	for {
		if err := logData(writeApi, *addr); err != nil {
			zlog.Warn().Err(err).Str("addr", *addr).Msg("status stream ended")
		}
		time.Sleep(1 * time.Second)
	}
}

// influxSettings applies the non-empty flag values over the config file.
func influxSettings(cfg config.InfluxConfig, url, org, bucket string) config.InfluxConfig {
	if url != "" {
		cfg.URL = url
	}
	if org != "" {
		cfg.Org = org
	}
	if bucket != "" {
		cfg.Bucket = bucket
	}
	return cfg
}

// flattenStatus turns nested JSON into dotted field names. Nulls are
// skipped because InfluxDB fields cannot be empty.
func flattenStatus(fields map[string]interface{}, status interface{}, prefix string) {
	switch status := status.(type) {
	case map[string]interface{}:
		for k, v := range status {
			flattenStatus(fields, v, prefix+"."+k)
		}
	case []interface{}:
		for k, v := range status {
			flattenStatus(fields, v, fmt.Sprintf("%s.%d", prefix, k))
		}
	case nil:
	default:
		if prefix == "" {
			return
		}
		fields[prefix[1:]] = status
	}
}

func logData(writeApi api.WriteApi, url string) error {
	defer writeApi.Flush()
	var dialer websocket.Dialer
	conn, _, err := dialer.Dial(url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	zlog.Info().Str("addr", url).Msg("connected to status stream")
	for {
		var status interface{}
		if err := conn.ReadJSON(&status); err != nil {
			return err
		}
		writeApi.WritePoint(statusPoint(status, time.Now()))
	}
}

func statusPoint(status interface{}, ts time.Time) *write.Point {
	fields := make(map[string]interface{})
	flattenStatus(fields, status, "")
	return influxdb2.NewPoint(measurement, nil, fields, ts)
}
