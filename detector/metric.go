package detector

import (
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"
)

// ConnectionMetrics contains atomic metrics for the detector client.
// Metrics can be used as the value of a prometheus CounterFunc or GaugeFunc.
type ConnectionMetrics struct {
	// ConnectCount indicates the number of successful connections.
	ConnectCount atomic.Uint64
	// ConnRetryGauge indicates the number of failed dial attempts since the last successful connection.
	ConnRetryGauge atomic.Uint32

	// CommandSendCount indicates the number of commands written to the device.
	CommandSendCount atomic.Uint64
	// CommandErrCount indicates the number of failed command writes.
	CommandErrCount atomic.Uint64
	// CycleCount indicates the number of completed traversals of the command list.
	CycleCount atomic.Uint64

	// FrameRecvCount indicates the number of reply frames (echo lines) received.
	FrameRecvCount atomic.Uint64
	// IdleFlushCount indicates the number of partial lines flushed after an idle gap.
	IdleFlushCount atomic.Uint64
	// SupplementaryReadCount indicates the number of supplementary read attempts made for wide replies.
	SupplementaryReadCount atomic.Uint64

	// BlockedGauge is 1 while command issuance is suspended by the quiescence gate.
	BlockedGauge atomic.Uint32

	sendByCommand *xsync.MapOf[string, *xsync.Counter]
	recvByCommand *xsync.MapOf[string, *xsync.Counter]
}

func newConnectionMetrics() *ConnectionMetrics {
	return &ConnectionMetrics{
		sendByCommand: xsync.NewMapOf[string, *xsync.Counter](),
		recvByCommand: xsync.NewMapOf[string, *xsync.Counter](),
	}
}

// CommandSends returns how many times a command with the given leading token was sent.
func (m *ConnectionMetrics) CommandSends(name string) int64 {
	if c, ok := m.sendByCommand.Load(name); ok {
		return c.Value()
	}

	return 0
}

// CommandRecvs returns how many reply frames were attributed to the given command token.
func (m *ConnectionMetrics) CommandRecvs(name string) int64 {
	if c, ok := m.recvByCommand.Load(name); ok {
		return c.Value()
	}

	return 0
}

// SendCounts returns a snapshot of per-command send counts.
func (m *ConnectionMetrics) SendCounts() map[string]int64 {
	out := make(map[string]int64, m.sendByCommand.Size())
	m.sendByCommand.Range(func(name string, c *xsync.Counter) bool {
		out[name] = c.Value()
		return true
	})

	return out
}

func (m *ConnectionMetrics) incCommandSend(name string) {
	m.CommandSendCount.Add(1)
	counter, _ := m.sendByCommand.LoadOrCompute(name, xsync.NewCounter)
	counter.Inc()
}

func (m *ConnectionMetrics) incFrameRecv(name string) {
	m.FrameRecvCount.Add(1)
	counter, _ := m.recvByCommand.LoadOrCompute(name, xsync.NewCounter)
	counter.Inc()
}

func (m *ConnectionMetrics) incConnect() {
	m.ConnectCount.Add(1)
	m.ConnRetryGauge.Store(0)
}

func (m *ConnectionMetrics) incConnRetryGauge() {
	m.ConnRetryGauge.Add(1)
}

func (m *ConnectionMetrics) incCommandErr() {
	m.CommandErrCount.Add(1)
}

func (m *ConnectionMetrics) incCycle() {
	m.CycleCount.Add(1)
}

func (m *ConnectionMetrics) incIdleFlush() {
	m.IdleFlushCount.Add(1)
}

func (m *ConnectionMetrics) incSupplementaryRead() {
	m.SupplementaryReadCount.Add(1)
}

func (m *ConnectionMetrics) setBlocked(blocked bool) {
	if blocked {
		m.BlockedGauge.Store(1)
	} else {
		m.BlockedGauge.Store(0)
	}
}
