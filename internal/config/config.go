package config

import (
	"encoding/json"
	"fmt"
	"log"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-ini/ini"
	"github.com/google/uuid"
	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

// Property keys, relative to the optional "org.quartz." prefix.
const (
	KeyInstanceName           = "scheduler.instanceName"
	KeyInstanceID             = "scheduler.instanceId"
	KeyIdleWaitTime           = "scheduler.idleWaitTime"
	KeyBatchMaxCount          = "scheduler.batchTriggerAcquisitionMaxCount"
	KeyThreadCount            = "threadPool.threadCount"
	KeyJobStoreClass          = "jobStore.class"
	KeyJobStoreDriver         = "jobStore.driver"
	KeyMisfireThreshold       = "jobStore.misfireThreshold"
	KeyIsClustered            = "jobStore.isClustered"
	KeyClusterCheckinInterval = "jobStore.clusterCheckinInterval"
	KeyTablePrefix            = "jobStore.tablePrefix"
	KeyDataSourceURL          = "dataSource.url"
	KeyDataSourceMaxConns     = "dataSource.maxConnections"
	KeyEventBusBufferSize     = "eventBus.bufferSize"
	KeyDrainTimeout           = "shutdown.drainTimeout"
	KeyMetricsEnabled         = "metrics.enabled"
	KeyMetricsAddr            = "metrics.addr"
	KeyMetricsPath            = "metrics.path"
	KeyAPIAddr                = "api.addr"
	KeyRedisAddr              = "analytics.redisAddr"
)

const (
	// PropertyPrefix is stripped from every key so stock Quartz files load.
	PropertyPrefix = "org.quartz."

	// EnvPrefix is prepended to environment overrides,
	// e.g. SCHEDBENCH_THREADPOOL_THREADCOUNT.
	EnvPrefix = "SCHEDBENCH"

	InstanceIDAuto          = "AUTO"
	InstanceIDNonClustered  = "NON_CLUSTERED"
	DriverMemory            = "memory"
	DriverPostgres          = "postgres"
	DriverSQLite            = "sqlite"
	defaultDrainTimeout     = "30s"
	defaultMetricsAddr      = ":9090"
	defaultMetricsPath      = "/metrics"
	defaultTablePrefix      = "qrtz_"
	defaultInstanceName     = "SchedBench"
	defaultEventBusCapacity = 100
)

var allKeys = []string{
	KeyInstanceName, KeyInstanceID, KeyIdleWaitTime, KeyBatchMaxCount,
	KeyThreadCount, KeyJobStoreClass, KeyJobStoreDriver, KeyMisfireThreshold,
	KeyIsClustered, KeyClusterCheckinInterval, KeyTablePrefix,
	KeyDataSourceURL, KeyDataSourceMaxConns, KeyEventBusBufferSize,
	KeyDrainTimeout, KeyMetricsEnabled, KeyMetricsAddr, KeyMetricsPath,
	KeyAPIAddr, KeyRedisAddr,
}

// Config holds the effective scheduler configuration.
type Config struct {
	InstanceName string
	InstanceID   string

	IdleWaitTime time.Duration
	MaxBatchSize int
	ThreadCount  int

	JobStoreDriver         string
	MisfireThreshold       time.Duration
	Clustered              bool
	ClusterCheckinInterval time.Duration
	TablePrefix            string
	DataSourceURL          string
	MaxConnections         int

	EventBusBufferSize int
	DrainTimeoutStr    string
	DrainTimeout       time.Duration

	MetricsEnabled bool
	MetricsAddr    string
	MetricsPath    string

	APIAddr   string
	RedisAddr string
}

// Default returns the configuration used when a key is absent.
func Default() Config {
	return Config{
		InstanceName:           defaultInstanceName,
		InstanceID:             InstanceIDNonClustered,
		IdleWaitTime:           30 * time.Second,
		MaxBatchSize:           1,
		ThreadCount:            10,
		JobStoreDriver:         DriverMemory,
		MisfireThreshold:       60 * time.Second,
		ClusterCheckinInterval: 7500 * time.Millisecond,
		TablePrefix:            defaultTablePrefix,
		MaxConnections:         10,
		EventBusBufferSize:     defaultEventBusCapacity,
		DrainTimeoutStr:        defaultDrainTimeout,
		DrainTimeout:           30 * time.Second,
		MetricsAddr:            defaultMetricsAddr,
		MetricsPath:            defaultMetricsPath,
	}
}

// Load reads a properties file and applies SCHEDBENCH_* environment
// overrides on top of it. Validation is handled separately by Validate().
func Load(path string) (Config, error) {
	file, err := ini.LoadSources(ini.LoadOptions{
		IgnoreInlineComment: true,
	}, path)
	if err != nil {
		return Config{}, fmt.Errorf("config: load %s: %w", path, err)
	}

	vp := newViper()
	for _, section := range file.Sections() {
		for _, key := range section.Keys() {
			name := key.Name()
			if section.Name() != ini.DefaultSection {
				name = section.Name() + "." + name
			}
			vp.Set(normalizeKey(name), strings.TrimSpace(key.Value()))
		}
	}

	applyEnv(vp)
	return fromViper(vp)
}

func newViper() *viper.Viper {
	vp := viper.New()
	def := Default()
	vp.SetDefault(KeyInstanceName, def.InstanceName)
	vp.SetDefault(KeyInstanceID, def.InstanceID)
	vp.SetDefault(KeyIdleWaitTime, def.IdleWaitTime.Milliseconds())
	vp.SetDefault(KeyBatchMaxCount, def.MaxBatchSize)
	vp.SetDefault(KeyThreadCount, def.ThreadCount)
	vp.SetDefault(KeyMisfireThreshold, def.MisfireThreshold.Milliseconds())
	vp.SetDefault(KeyIsClustered, false)
	vp.SetDefault(KeyClusterCheckinInterval, def.ClusterCheckinInterval.Milliseconds())
	vp.SetDefault(KeyTablePrefix, def.TablePrefix)
	vp.SetDefault(KeyDataSourceMaxConns, def.MaxConnections)
	vp.SetDefault(KeyEventBusBufferSize, def.EventBusBufferSize)
	vp.SetDefault(KeyDrainTimeout, def.DrainTimeoutStr)
	vp.SetDefault(KeyMetricsEnabled, false)
	vp.SetDefault(KeyMetricsAddr, def.MetricsAddr)
	vp.SetDefault(KeyMetricsPath, def.MetricsPath)
	return vp
}

// applyEnv overrides known keys from SCHEDBENCH_* variables. Values set this
// way take precedence over the properties file.
func applyEnv(vp *viper.Viper) {
	replacer := strings.NewReplacer(".", "_")
	for _, key := range allKeys {
		name := EnvPrefix + "_" + strings.ToUpper(replacer.Replace(key))
		if value, found := os.LookupEnv(name); found {
			vp.Set(key, value)
			log.Printf("config: environment override key=%s env=%s", key, name)
		}
	}
}

func fromViper(vp *viper.Viper) (Config, error) {
	r := &valueReader{vp: vp}
	cfg := Config{
		InstanceName:           vp.GetString(KeyInstanceName),
		InstanceID:             vp.GetString(KeyInstanceID),
		IdleWaitTime:           millis(r.int64(KeyIdleWaitTime)),
		MaxBatchSize:           r.int(KeyBatchMaxCount),
		ThreadCount:            r.int(KeyThreadCount),
		MisfireThreshold:       millis(r.int64(KeyMisfireThreshold)),
		Clustered:              r.bool(KeyIsClustered),
		ClusterCheckinInterval: millis(r.int64(KeyClusterCheckinInterval)),
		TablePrefix:            vp.GetString(KeyTablePrefix),
		DataSourceURL:          vp.GetString(KeyDataSourceURL),
		MaxConnections:         r.int(KeyDataSourceMaxConns),
		EventBusBufferSize:     r.int(KeyEventBusBufferSize),
		DrainTimeoutStr:        vp.GetString(KeyDrainTimeout),
		MetricsEnabled:         r.bool(KeyMetricsEnabled),
		MetricsAddr:            vp.GetString(KeyMetricsAddr),
		MetricsPath:            vp.GetString(KeyMetricsPath),
		APIAddr:                vp.GetString(KeyAPIAddr),
		RedisAddr:              vp.GetString(KeyRedisAddr),
	}
	if r.err != nil {
		return Config{}, r.err
	}

	cfg.JobStoreDriver = resolveDriver(vp.GetString(KeyJobStoreDriver), vp.GetString(KeyJobStoreClass), cfg.DataSourceURL)

	if d, err := time.ParseDuration(cfg.DrainTimeoutStr); err == nil {
		cfg.DrainTimeout = d
	}

	if strings.EqualFold(cfg.InstanceID, InstanceIDAuto) {
		id, err := autoInstanceID()
		if err != nil {
			return Config{}, err
		}
		cfg.InstanceID = id
	}

	return cfg, nil
}

// valueReader converts typed keys and keeps the first conversion error.
// Viper's Get* helpers return zero on malformed input.
type valueReader struct {
	vp  *viper.Viper
	err error
}

func (r *valueReader) int64(key string) int64 {
	raw, err := cast.ToStringE(r.vp.Get(key))
	if err != nil {
		r.fail(key, err)
		return 0
	}
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		r.fail(key, err)
		return 0
	}
	return n
}

func (r *valueReader) int(key string) int {
	n := r.int64(key)
	if n < math.MinInt32 || n > math.MaxInt32 {
		r.fail(key, fmt.Errorf("value %d out of range", n))
		return 0
	}
	return int(n)
}

func (r *valueReader) bool(key string) bool {
	b, err := cast.ToBoolE(r.vp.Get(key))
	if err != nil {
		r.fail(key, err)
	}
	return b
}

func (r *valueReader) fail(key string, err error) {
	if r.err == nil {
		r.err = fmt.Errorf("config: invalid %s: %w", key, err)
	}
}

// normalizeKey strips the Quartz prefix. Viper keys are case-insensitive.
func normalizeKey(key string) string {
	key = strings.TrimSpace(key)
	return strings.TrimPrefix(key, PropertyPrefix)
}

// resolveDriver prefers an explicit driver, then maps a Quartz store class.
func resolveDriver(driver, class, url string) string {
	if driver != "" {
		return strings.ToLower(driver)
	}
	switch {
	case class == "":
		return DriverMemory
	case strings.HasSuffix(class, "RAMJobStore"):
		return DriverMemory
	case strings.HasSuffix(class, "JobStoreTX"), strings.HasSuffix(class, "JobStoreCMT"):
		if strings.HasPrefix(url, "postgres://") || strings.HasPrefix(url, "postgresql://") {
			return DriverPostgres
		}
		return DriverSQLite
	default:
		return class
	}
}

func autoInstanceID() (string, error) {
	host, err := os.Hostname()
	if err != nil {
		return "", fmt.Errorf("config: resolve hostname for AUTO instance id: %w", err)
	}
	return host + "-" + uuid.NewString(), nil
}

func millis(n int64) time.Duration {
	return time.Duration(n) * time.Millisecond
}

// MaskedJSON returns the configuration as JSON with secrets masked.
func (c Config) MaskedJSON() ([]byte, error) {
	masked := struct {
		InstanceName           string `json:"instance_name"`
		InstanceID             string `json:"instance_id"`
		IdleWaitTime           string `json:"idle_wait_time"`
		MaxBatchSize           int    `json:"max_batch_size"`
		ThreadCount            int    `json:"thread_count"`
		JobStoreDriver         string `json:"job_store_driver"`
		MisfireThreshold       string `json:"misfire_threshold"`
		Clustered              bool   `json:"clustered"`
		ClusterCheckinInterval string `json:"cluster_checkin_interval"`
		TablePrefix            string `json:"table_prefix"`
		DataSourceURL          string `json:"data_source_url,omitempty"`
		MaxConnections         int    `json:"max_connections"`
		EventBusBufferSize     int    `json:"eventbus_buffer_size"`
		DrainTimeout           string `json:"drain_timeout"`
		MetricsEnabled         bool   `json:"metrics_enabled"`
		MetricsAddr            string `json:"metrics_addr"`
		MetricsPath            string `json:"metrics_path"`
		APIAddr                string `json:"api_addr,omitempty"`
		RedisAddr              string `json:"redis_addr,omitempty"`
	}{
		InstanceName:           c.InstanceName,
		InstanceID:             c.InstanceID,
		IdleWaitTime:           c.IdleWaitTime.String(),
		MaxBatchSize:           c.MaxBatchSize,
		ThreadCount:            c.ThreadCount,
		JobStoreDriver:         c.JobStoreDriver,
		MisfireThreshold:       c.MisfireThreshold.String(),
		Clustered:              c.Clustered,
		ClusterCheckinInterval: c.ClusterCheckinInterval.String(),
		TablePrefix:            c.TablePrefix,
		DataSourceURL:          maskSecret(c.DataSourceURL),
		MaxConnections:         c.MaxConnections,
		EventBusBufferSize:     c.EventBusBufferSize,
		DrainTimeout:           c.DrainTimeoutStr,
		MetricsEnabled:         c.MetricsEnabled,
		MetricsAddr:            c.MetricsAddr,
		MetricsPath:            c.MetricsPath,
		APIAddr:                c.APIAddr,
		RedisAddr:              c.RedisAddr,
	}
	return json.MarshalIndent(masked, "", "  ")
}

// maskSecret masks a secret value, preserving only the URI scheme if present.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	for _, scheme := range []string{"postgres://", "postgresql://", "file:"} {
		if strings.HasPrefix(s, scheme) {
			return scheme + "***"
		}
	}
	return "***"
}
