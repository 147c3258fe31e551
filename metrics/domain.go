package metrics

import (
	"fmt"
	"time"

	"github.com/VictoriaMetrics/metrics"
)

var (
	scanCycles        = metrics.NewCounter(`veil_scan_cycles_total`)
	scanCyclesSkipped = metrics.NewCounter(`veil_scan_cycles_skipped_total`)
	scanFailures      = metrics.NewCounter(`veil_scan_failures_total`)
	scanRetries       = metrics.NewCounter(`veil_scan_retries_total`)
	paymentsDetected  = metrics.NewCounter(`veil_payments_detected_total`)
	scanDuration      = metrics.NewHistogram(`veil_scan_agent_duration_seconds`)

	privacyAlerts   = metrics.NewCounter(`veil_privacy_alerts_total`)
	privacyAnalyses = metrics.NewCounter(`veil_privacy_analyses_total`)

	commitmentsCreated = metrics.NewCounter(`veil_commitments_created_total`)

	mevExtracted = metrics.NewFloatCounter(`veil_swap_mev_extracted_total`)
)

// IncScanCycle counts a started scan cycle.
func IncScanCycle() { scanCycles.Inc() }

// IncScanCycleSkipped counts a trigger dropped because a cycle was running.
func IncScanCycleSkipped() { scanCyclesSkipped.Inc() }

// IncScanFailure counts an agent scan that exhausted its retries.
func IncScanFailure() { scanFailures.Inc() }

// IncScanRetry counts a retried scan attempt.
func IncScanRetry() { scanRetries.Inc() }

// AddPaymentsDetected counts newly stored payments.
func AddPaymentsDetected(n int) { paymentsDetected.Add(n) }

// ObserveScanDuration records the duration of one agent scan.
func ObserveScanDuration(start time.Time) { scanDuration.UpdateDuration(start) }

func IncPrivacyAnalysis() { privacyAnalyses.Inc() }

func IncPrivacyAlert() { privacyAlerts.Inc() }

func AddCommitmentsCreated(n int) { commitmentsCreated.Add(n) }

// IncSwap counts a finished swap by status.
func IncSwap(status string) {
	metrics.GetOrCreateCounter(fmt.Sprintf(`veil_swaps_total{status=%q}`, status)).Inc()
}

// IncSwapStepFailure counts a swap aborted at step.
func IncSwapStepFailure(step string) {
	metrics.GetOrCreateCounter(fmt.Sprintf(`veil_swap_step_failures_total{step=%q}`, step)).Inc()
}

// ObserveMEV accumulates measured extraction.
func ObserveMEV(v float64) { mevExtracted.Add(v) }

// IncDisclosure counts a disclosure created for role.
func IncDisclosure(role string) {
	metrics.GetOrCreateCounter(fmt.Sprintf(`veil_disclosures_total{role=%q}`, role)).Inc()
}

// IncComplianceCheck counts a compliance verification by outcome.
func IncComplianceCheck(compliant bool) {
	metrics.GetOrCreateCounter(fmt.Sprintf(`veil_compliance_checks_total{compliant="%t"}`, compliant)).Inc()
}

// IncApproval counts a master-key approval attempt by result.
func IncApproval(result string) {
	metrics.GetOrCreateCounter(fmt.Sprintf(`veil_master_approvals_total{result=%q}`, result)).Inc()
}
