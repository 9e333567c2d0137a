package main

import (
	"log"

	"github.com/djlord-it/schedbench/internal/cli"
	"github.com/djlord-it/schedbench/internal/config"
)

// logConfigWarnings points out combinations that make a benchmark run
// misleading. It never blocks startup.
func logConfigWarnings(cfg *config.Config, opts cli.Options) {
	if cfg.JobStoreDriver == config.DriverMemory {
		if opts.Recovery {
			log.Println("schedbench: WARNING [P0]: -recovery with jobStore.driver=memory; fired triggers do not survive a restart, so the job is never recovered")
		}
		log.Println("schedbench: INFO: jobStore.driver=memory; scheduling data is lost on exit")
	}

	if !cfg.MetricsEnabled {
		log.Println("schedbench: WARNING [P1]: metrics.enabled=false; fire lateness is only visible in job output")
	}

	if cfg.MaxBatchSize > cfg.ThreadCount {
		log.Printf("schedbench: WARNING [P1]: scheduler.batchTriggerAcquisitionMaxCount=%d exceeds threadPool.threadCount=%d; acquired triggers wait in the event bus",
			cfg.MaxBatchSize, cfg.ThreadCount)
	}

	if cfg.MisfireThreshold < cfg.IdleWaitTime {
		log.Printf("schedbench: INFO: jobStore.misfireThreshold=%s is below scheduler.idleWaitTime=%s",
			cfg.MisfireThreshold, cfg.IdleWaitTime)
	}
}
