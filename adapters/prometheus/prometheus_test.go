package prometheus

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gatherNames(t *testing.T, reg *prometheus.Registry) map[string]bool {
	t.Helper()
	mfs, err := reg.Gather()
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, mf := range mfs {
		names[mf.GetName()] = true
	}
	return names
}

func TestNewTransportMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewTransportMetrics(reg)
	require.NotNil(t, m)

	timer := m.SendDuration("deposit.Deposit")
	assert.NotNil(t, timer)
	timer.ObserveDuration()
	m.SendCompleted("deposit.Deposit", true)
	m.ConnectRetry()
	m.TransportError("timeout")

	timer = m.RespondDuration("deposit.Deposit")
	timer.ObserveDuration()
	m.MessageHandled("deposit.Deposit", false)
	m.ConnectionsActive("node-1", 3)
	m.HandlerQueueDepth("node-1", 0)

	names := gatherNames(t, reg)
	assert.True(t, names["sdt_transport_send_duration_seconds"])
	assert.True(t, names["sdt_transport_sends_total"])
	assert.True(t, names["sdt_transport_connect_retries_total"])
	assert.True(t, names["sdt_transport_errors_total"])
	assert.True(t, names["sdt_transport_messages_handled_total"])
	assert.True(t, names["sdt_transport_connections_active"])
}

func TestNewPoolMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPoolMetrics(reg)

	m.Workers("conns", 2)
	m.Inflight("conns", 1)
	m.TaskDuration("conns").ObserveDuration()
	m.TaskCompleted("conns", true)
	m.TaskRejected("conns")

	names := gatherNames(t, reg)
	assert.True(t, names["sdt_pool_workers"])
	assert.True(t, names["sdt_pool_task_duration_seconds"])
	assert.True(t, names["sdt_pool_tasks_rejected_total"])
}

func TestNewDepositMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewDepositMetrics(reg)

	m.DrawerReserved("box")
	m.DrawerFilled("box", true)
	m.DrawersIncinerated("box", 4)
	m.DrawersActive("box", 2)
	m.WithdrawalServed("box", "retrieved")
	m.TransactionDuration("all").ObserveDuration()
	m.TransactionCompleted("all", 3, 4, true)
	m.TransactionCompleted("all", 0, 0, false)
	m.NodePolled("all")

	names := gatherNames(t, reg)
	assert.True(t, names["sdt_deposit_drawers_reserved_total"])
	assert.True(t, names["sdt_deposit_drawers_incinerated_total"])
	assert.True(t, names["sdt_deposit_withdrawals_total"])
	assert.True(t, names["sdt_deposit_transactions_total"])
	assert.True(t, names["sdt_deposit_transaction_response_ratio"])
	assert.True(t, names["sdt_deposit_node_polls_total"])
}

func TestNewPartitionMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPartitionMetrics(reg)

	m.Lookup(true)
	m.Lookup(false)
	m.Forgotten()
	m.StoreError("load")

	names := gatherNames(t, reg)
	assert.True(t, names["sdt_partition_lookups_total"])
	assert.True(t, names["sdt_partition_forgotten_total"])
	assert.True(t, names["sdt_partition_store_errors_total"])
}

func TestNewAllMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewAllMetrics(reg)

	require.NotNil(t, m)
	require.NotNil(t, m.Transport)
	require.NotNil(t, m.Pool)
	require.NotNil(t, m.Deposit)
	require.NotNil(t, m.Partition)

	m.Transport.ConnectRetry()
	m.Pool.TaskRejected("p")
	m.Deposit.DrawerReserved("b")
	m.Partition.Forgotten()

	mfs, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, mfs)
}

func TestNewAllMetricsTwiceOnSameRegistryPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewAllMetrics(reg)
	assert.Panics(t, func() { NewAllMetrics(reg) })
}

func TestBoolToStr(t *testing.T) {
	assert.Equal(t, "true", boolToStr(true))
	assert.Equal(t, "false", boolToStr(false))
}
