package utils

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/nci/nightlights/nightlight"
	"gopkg.in/yaml.v2"
)

const ConfigFileName = "config.yaml"

// string used to format Go ISO times
const ISOFormat = "2006-01-02T15:04:05.000Z"

const DateFormat = "2006-01-02"

type ServiceConfig struct {
	StoreRoot        string        `yaml:"store_root"`
	CatalogueDriver  string        `yaml:"catalogue_driver"`
	CatalogueDSN     string        `yaml:"catalogue_dsn"`
	Memcache         string        `yaml:"memcache"`
	LogLevel         string        `yaml:"log_level"`
	MetricsAddr      string        `yaml:"metrics_addr"`
	OperationTimeout time.Duration `yaml:"operation_timeout"`
	MaxRetries       int           `yaml:"max_retries"`
	Concurrency      int           `yaml:"concurrency"`
	RunLogDir        string        `yaml:"run_log_dir"`
}

// HarmonizedInput is the auto-recomputing harmonized collection.
type HarmonizedInput struct {
	ID          string `yaml:"id"`
	MaxAgeYears int    `yaml:"max_age_years"`
}

// Inputs names the store identifiers the jobs read and write.
type Inputs struct {
	Legacy       string          `yaml:"legacy"`
	Modern       string          `yaml:"modern"`
	WaterMask    string          `yaml:"water_mask"`
	Harmonized   HarmonizedInput `yaml:"harmonized"`
	DriverOutput string          `yaml:"driver_output"`
}

type Thresholds struct {
	Latitude nightlight.LatitudeThreshold `yaml:"latitude"`
}

type Quantiles struct {
	Bins        nightlight.BinTable `yaml:"bins"`
	DriverScale float64             `yaml:"driver_scale"`
}

// Config is one deployment namespace, loaded from a config.yaml document.
type Config struct {
	NameSpace      string                       `yaml:"-"`
	Service        ServiceConfig                `yaml:"service"`
	Inputs         Inputs                       `yaml:"inputs"`
	Thresholds     Thresholds                   `yaml:"thresholds"`
	Calibration    nightlight.Coefficients      `yaml:"calibration"`
	CalibrationJob nightlight.CalibrationConfig `yaml:"calibration_job"`
	Harmonizer     nightlight.HarmonizerConfig  `yaml:"harmonizer"`
	Quantiles      Quantiles                    `yaml:"quantiles"`
}

func DefaultConfig() Config {
	return Config{
		Service: ServiceConfig{
			StoreRoot:        ".",
			CatalogueDriver:  "sqlite",
			CatalogueDSN:     "mas.db",
			LogLevel:         "info",
			OperationTimeout: 10 * time.Minute,
			MaxRetries:       3,
		},
		Inputs: Inputs{
			Legacy:    "dmsp",
			Modern:    "viirs",
			WaterMask: "water_mask",
			Harmonized: HarmonizedInput{
				ID:          "harmonized",
				MaxAgeYears: 1,
			},
			DriverOutput: "power_driver",
		},
		Thresholds:     Thresholds{Latitude: nightlight.DefaultLatitudeThreshold()},
		Calibration:    nightlight.DefaultCoefficients(),
		CalibrationJob: nightlight.DefaultCalibrationConfig(),
		Harmonizer:     nightlight.DefaultHarmonizerConfig(),
		Quantiles: Quantiles{
			Bins:        nightlight.DefaultBinTable(),
			DriverScale: nightlight.DefaultDriverScale,
		},
	}
}

// Validate checks every section; the first problem found is returned.
func (config *Config) Validate() error {
	svc := config.Service
	if svc.CatalogueDriver != "sqlite" && svc.CatalogueDriver != "postgres" {
		return fmt.Errorf("service.catalogue_driver must be sqlite or postgres, got %q", svc.CatalogueDriver)
	}
	if svc.OperationTimeout < 0 || svc.MaxRetries < 0 {
		return fmt.Errorf("service: operation_timeout and max_retries must not be negative")
	}

	in := config.Inputs
	for name, id := range map[string]string{
		"legacy":        in.Legacy,
		"modern":        in.Modern,
		"water_mask":    in.WaterMask,
		"harmonized.id": in.Harmonized.ID,
		"driver_output": in.DriverOutput,
	} {
		if id == "" {
			return fmt.Errorf("inputs.%s must not be empty", name)
		}
	}
	if in.Harmonized.MaxAgeYears < 0 {
		return fmt.Errorf("inputs.harmonized.max_age_years must not be negative, got %d", in.Harmonized.MaxAgeYears)
	}

	if err := config.Thresholds.Latitude.Validate(); err != nil {
		return err
	}
	if err := config.CalibrationJob.Validate(); err != nil {
		return err
	}
	if err := config.Harmonizer.Validate(); err != nil {
		return err
	}
	if err := config.Quantiles.Bins.Validate(); err != nil {
		return err
	}
	if !(config.Quantiles.DriverScale > 0) {
		return fmt.Errorf("quantiles.driver_scale must be positive, got %g", config.Quantiles.DriverScale)
	}
	return nil
}

// LoadConfigFile parses a config.yaml document over the defaults and
// validates the result.
func (config *Config) LoadConfigFile(configFile string) error {
	*config = DefaultConfig()
	cfg, err := os.ReadFile(configFile)
	if err != nil {
		return fmt.Errorf("Error while reading config file: %s. Error: %v", configFile, err)
	}

	err = yaml.UnmarshalStrict(cfg, config)
	if err != nil {
		return fmt.Errorf("Error at YAML parsing config document: %s. Error: %v", configFile, err)
	}

	if err := config.Validate(); err != nil {
		return fmt.Errorf("Invalid config document: %s. Error: %v", configFile, err)
	}
	return nil
}

// LoadAllConfigFiles loads every config.yaml under rootDir keyed by its
// directory relative to rootDir. The root document has namespace ".".
func LoadAllConfigFiles(rootDir string) (map[string]*Config, error) {
	configMap := make(map[string]*Config)
	err := filepath.Walk(rootDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if !info.IsDir() && info.Name() == ConfigFileName {
			relPath, _ := filepath.Rel(rootDir, filepath.Dir(path))
			log.Printf("Loading config file: %s under namespace: %s\n", path, relPath)

			config := &Config{}
			e := config.LoadConfigFile(path)
			if e != nil {
				return e
			}
			config.NameSpace = filepath.ToSlash(relPath)
			configMap[config.NameSpace] = config
		}
		return nil
	})

	if err == nil && len(configMap) == 0 {
		err = fmt.Errorf("No config file found")
	}

	return configMap, err
}

// LoadNamespace loads the configuration of one namespace. A configPath that
// names a file is loaded directly and namespace is ignored.
func LoadNamespace(configPath, namespace string) (*Config, error) {
	info, err := os.Stat(configPath)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		config := &Config{}
		if err := config.LoadConfigFile(configPath); err != nil {
			return nil, err
		}
		config.NameSpace = namespace
		return config, nil
	}

	configMap, err := LoadAllConfigFiles(configPath)
	if err != nil {
		return nil, err
	}
	if namespace == "" {
		namespace = "."
	}
	config, ok := configMap[namespace]
	if !ok {
		return nil, fmt.Errorf("namespace %q not found under %s", namespace, configPath)
	}
	return config, nil
}

// ParseDate accepts a calendar date or an ISO timestamp.
func ParseDate(value string) (time.Time, error) {
	for _, layout := range []string{DateFormat, ISOFormat, time.RFC3339} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD", value)
}
