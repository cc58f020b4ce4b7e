package deposit

import "github.com/cloudtrends/semanticdiscoverytoolkit-sub016/core/metrics"

// DepositMetrics covers boxes on the serving side and agents on the
// submitting side. All methods are thread-safe.
type DepositMetrics interface {
	// Box
	DrawerReserved(box string)
	DrawerFilled(box string, success bool)
	DrawersIncinerated(box string, count int)
	DrawersActive(box string, count int)
	WithdrawalServed(box string, code string)

	// Agent
	TransactionDuration(group string) metrics.Timer
	TransactionCompleted(group string, responded, nodes int, timedOut bool)
	NodePolled(group string)
}

type nopDepositMetrics struct{}

func (nopDepositMetrics) DrawerReserved(string)           {}
func (nopDepositMetrics) DrawerFilled(string, bool)       {}
func (nopDepositMetrics) DrawersIncinerated(string, int)  {}
func (nopDepositMetrics) DrawersActive(string, int)       {}
func (nopDepositMetrics) WithdrawalServed(string, string) {}

func (nopDepositMetrics) TransactionDuration(string) metrics.Timer    { return metrics.NopTimer() }
func (nopDepositMetrics) TransactionCompleted(string, int, int, bool) {}
func (nopDepositMetrics) NodePolled(string)                           {}

func NopDepositMetrics() DepositMetrics { return nopDepositMetrics{} }
