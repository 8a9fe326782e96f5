// Package log wires the process-wide logrus logger from a config.LogConfig,
// following the same formatter/level/Loki-hook conventions used across the
// plantd services.
package log

import (
	log "github.com/sirupsen/logrus"
	loki "github.com/yukitsune/lokirus"

	"github.com/plantd-org/rdmnetcore/config"
)

// Initialize configures the standard logrus logger's level, formatter, and
// optional Loki hook from cfg. An unparsable Level leaves the current log
// level untouched rather than erroring. An empty Formatter defaults to
// text. A zero-value Loki.Address skips hook registration.
func Initialize(cfg config.LogConfig) {
	if cfg.Level != "" {
		if level, err := log.ParseLevel(cfg.Level); err == nil {
			log.SetLevel(level)
		}
	}

	if cfg.Formatter == "json" {
		log.SetFormatter(&log.JSONFormatter{
			TimestampFormat: "2006-01-02 15:04:05",
		})
	} else {
		log.SetFormatter(&log.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		})
	}

	if cfg.Loki.Address == "" {
		return
	}

	opts := loki.NewLokiHookOptions().WithStaticLabels(loki.Labels(cfg.Loki.Labels))

	hook := loki.NewLokiHookWithOpts(
		cfg.Loki.Address,
		opts,
		log.InfoLevel,
		log.WarnLevel,
		log.ErrorLevel,
		log.FatalLevel,
	)

	log.AddHook(hook)
}
