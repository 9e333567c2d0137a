package main

import (
	"bytes"
	"log"
	"strings"
	"testing"
	"time"

	"github.com/djlord-it/schedbench/internal/cli"
	"github.com/djlord-it/schedbench/internal/config"
)

// captureLogOutput calls logConfigWarnings with the given config and returns
// the captured log output as a string.
func captureLogOutput(cfg *config.Config, opts cli.Options) string {
	var buf bytes.Buffer
	original := log.Writer()
	log.SetOutput(&buf)
	defer log.SetOutput(original)

	logConfigWarnings(cfg, opts)
	return buf.String()
}

func TestLogConfigWarnings_MemoryWithRecovery(t *testing.T) {
	cfg := config.Default()
	cfg.MetricsEnabled = true
	output := captureLogOutput(&cfg, cli.Options{Schedule: true, Recovery: true})

	if !strings.Contains(output, "WARNING [P0]: -recovery with jobStore.driver=memory") {
		t.Error("expected memory+recovery P0 warning, got:", output)
	}
	if !strings.Contains(output, "INFO: jobStore.driver=memory") {
		t.Error("expected memory store INFO, got:", output)
	}
	if strings.Contains(output, "metrics.enabled=false") {
		t.Error("did not expect metrics warning when metrics enabled, got:", output)
	}
}

func TestLogConfigWarnings_SQLStoreClean(t *testing.T) {
	cfg := config.Default()
	cfg.JobStoreDriver = config.DriverPostgres
	cfg.MetricsEnabled = true
	output := captureLogOutput(&cfg, cli.Options{Recovery: true})

	if output != "" {
		t.Error("expected no warnings, got:", output)
	}
}

func TestLogConfigWarnings_BatchAndMisfire(t *testing.T) {
	cfg := config.Default()
	cfg.JobStoreDriver = config.DriverSQLite
	cfg.MaxBatchSize = 20
	cfg.ThreadCount = 4
	cfg.MisfireThreshold = time.Second
	output := captureLogOutput(&cfg, cli.Options{})

	if !strings.Contains(output, "batchTriggerAcquisitionMaxCount=20 exceeds threadPool.threadCount=4") {
		t.Error("expected batch warning, got:", output)
	}
	if !strings.Contains(output, "WARNING [P1]: metrics.enabled=false") {
		t.Error("expected metrics warning, got:", output)
	}
	if !strings.Contains(output, "misfireThreshold=1s is below scheduler.idleWaitTime=30s") {
		t.Error("expected misfire INFO, got:", output)
	}
}
