package blinkwise

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	Mt "github.com/maroda/blinkwise/types"
)

const (
	DefaultThreshold  = 34
	MinThreshold      = 20
	MaxThreshold      = 50
	DefaultNormalRate = 12
	DefaultLowRate    = 8
	DefaultInterval   = 10 * time.Millisecond
)

// Config is the runtime configuration, read from the environment
type Config struct {
	DeviceID      string
	Addr          string
	Store         string
	StoreDSN      string
	FrameURL      string
	FrameFormat   string
	FrameInterval time.Duration
	AlertInterval time.Duration
	NormalRate    int
	LowRate       int
	ConfigFile    string
	SessionDir    string
	QueueSize     int
	MQTTBroker    string
	MQTTTopic     string
	OTel          string
	AutoStart     bool
	LogLevel      string
	LogFormat     string
}

// LoadConfigEnv fills a Config from BLINKWISE_* variables
func LoadConfigEnv() Config {
	return Config{
		DeviceID:      FillEnvVar("BLINKWISE_DEVICE_ID", "local"),
		Addr:          FillEnvVar("BLINKWISE_ADDR", ":9783"),
		Store:         FillEnvVar("BLINKWISE_STORE", "badger"),
		StoreDSN:      FillEnvVar("BLINKWISE_STORE_DSN", "./blink_data"),
		FrameURL:      FillEnvVar("BLINKWISE_FRAME_URL", ""),
		FrameFormat:   FillEnvVar("BLINKWISE_FRAME_FORMAT", "kv"),
		FrameInterval: FillEnvVarDuration("BLINKWISE_FRAME_INTERVAL_MS", DefaultInterval, time.Millisecond),
		AlertInterval: FillEnvVarDuration("BLINKWISE_ALERT_INTERVAL_S", DefaultAlertInterval, time.Second),
		NormalRate:    FillEnvVarInt("BLINKWISE_NORMAL_RATE", DefaultNormalRate),
		LowRate:       FillEnvVarInt("BLINKWISE_LOW_RATE", DefaultLowRate),
		ConfigFile:    FillEnvVar("BLINKWISE_CONFIG_FILE", "blink_config.json"),
		SessionDir:    FillEnvVar("BLINKWISE_SESSION_DIR", "sessions"),
		QueueSize:     FillEnvVarInt("BLINKWISE_QUEUE_SIZE", DefaultQueueSize),
		MQTTBroker:    FillEnvVar("BLINKWISE_MQTT_BROKER", ""),
		MQTTTopic:     FillEnvVar("BLINKWISE_MQTT_TOPIC", "blinkwise/alerts"),
		OTel:          FillEnvVar("BLINKWISE_OTEL", ""),
		AutoStart:     FillEnvVarBool("BLINKWISE_AUTOSTART", true),
		LogLevel:      FillEnvVar("BLINKWISE_LOG_LEVEL", "info"),
		LogFormat:     FillEnvVar("BLINKWISE_LOG_FORMAT", "text"),
	}
}

// ClampConfig forces every field into range instead of rejecting it:
// threshold to [20,50], rates to >= 1, and low strictly below normal.
// Normal wins a conflict: low drops to normal-1, and normal only moves
// when it is 1 and leaves no room below it.
func ClampConfig(c Mt.ThresholdConfig) Mt.ThresholdConfig {
	c.DetectionThreshold = min(max(c.DetectionThreshold, MinThreshold), MaxThreshold)
	c.NormalRate = max(c.NormalRate, 1)
	c.LowRate = max(c.LowRate, 1)
	if c.LowRate >= c.NormalRate {
		c.NormalRate = max(c.NormalRate, 2)
		c.LowRate = c.NormalRate - 1
	}
	return c
}

// FileThresholdStore keeps the detection threshold in a small JSON file:
//
//	{"threshold": 34}
//
// A missing, empty, or corrupt file is replaced by the default.
type FileThresholdStore struct {
	MU       sync.Mutex
	Filename string
	Default  int
}

type thresholdFile struct {
	Threshold int `json:"threshold"`
}

func NewFileThresholdStore(filename string) *FileThresholdStore {
	return &FileThresholdStore{Filename: filename, Default: DefaultThreshold}
}

func (fs *FileThresholdStore) LoadThreshold(_ context.Context) (int, error) {
	fs.MU.Lock()
	defer fs.MU.Unlock()

	file, err := os.Open(fs.Filename)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return fs.Default, err
		}
		slog.Info("Threshold file not found, creating default", slog.String("file", fs.Filename))
		return fs.Default, fs.write(fs.Default)
	}
	defer file.Close()

	if err := validateLoad(file); err != nil {
		slog.Warn("Threshold file invalid, recreating default",
			slog.String("file", fs.Filename),
			slog.Any("error", err))
		return fs.Default, fs.write(fs.Default)
	}

	var tf thresholdFile
	if err := json.NewDecoder(file).Decode(&tf); err != nil {
		slog.Warn("Threshold file corrupt, recreating default",
			slog.String("file", fs.Filename),
			slog.Any("error", err))
		return fs.Default, fs.write(fs.Default)
	}

	return tf.Threshold, nil
}

func (fs *FileThresholdStore) SaveThreshold(_ context.Context, threshold int) error {
	fs.MU.Lock()
	defer fs.MU.Unlock()
	return fs.write(threshold)
}

// write replaces the file atomically via rename
func (fs *FileThresholdStore) write(threshold int) error {
	data, err := json.Marshal(thresholdFile{Threshold: threshold})
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(fs.Filename), ".threshold-*")
	if err != nil {
		return fmt.Errorf("could not write threshold file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("could not write threshold file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("could not write threshold file: %w", err)
	}
	return os.Rename(tmp.Name(), fs.Filename)
}

func validateLoad(file *os.File) error {
	info, err := file.Stat()
	if err != nil {
		slog.Error("could not stat file")
		return err
	}

	if info.Size() == 0 {
		slog.Error("file is empty")
		return errors.New("file is empty")
	}

	return nil
}
