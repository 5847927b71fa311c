// grc-agent - GRC scoring and promotion agent
//
// One-shot commands:
//
//	grc-agent dashboard --client acme
//	grc-agent findings --client acme --expr 'finding.severity == "critical"'
//	grc-agent promote fnd-001 --client acme --impact high --likelihood medium
//	grc-agent link risk-objective risk-1 obj-1
//	grc-agent outbox replay
//
// Daemon mode re-polls dashboards and serves Prometheus metrics:
//
//	grc-agent watch --config grc.yaml
package main

import (
	"os"
)

const (
	appName    = "grc-agent"
	appVersion = "1.0.0"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
