package health

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"pulse_trading/internal/broker"
	"pulse_trading/internal/models"
)

const (
	DefaultCheckInterval         = 60 * time.Second
	DefaultErrorThreshold        = 5
	DefaultSlowResponseThreshold = 5 * time.Second
	// responseWindowSize bounds the rolling response-time sample window.
	responseWindowSize = 100
)

var (
	metricHealthy = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pulse_broker_healthy",
		Help: "1 when the last broker probe succeeded, 0 otherwise.",
	})
	metricErrorCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pulse_broker_consecutive_errors",
		Help: "Consecutive failed broker probes.",
	})
	metricProbeSeconds = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pulse_broker_probe_seconds",
		Help: "Duration of the most recent broker probe.",
	})
	metricPreservation = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pulse_preservation_mode_triggered",
		Help: "1 once preservation mode has been triggered.",
	})
)

func init() {
	prometheus.MustRegister(metricHealthy, metricErrorCount, metricProbeSeconds, metricPreservation)
}

// Config tunes the monitor. Zero values fall back to the defaults.
type Config struct {
	CheckInterval         time.Duration
	ErrorThreshold        int
	SlowResponseThreshold time.Duration
}

// Monitor periodically probes the broker and trips preservation mode once
// consecutive failures reach the threshold. The trigger fires exactly once;
// only an explicit ResetPreservationMode clears it. The monitor itself is
// side-effect-free beyond invoking the registered callback.
type Monitor struct {
	gw  broker.Gateway
	cfg Config

	mu             sync.RWMutex
	healthy        bool
	errorCount     int
	lastResponse   time.Duration
	samples        []time.Duration
	sampleSum      time.Duration
	lastSuccess    time.Time
	lastCheck      time.Time
	triggered      bool
	onPreservation func() error

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}

	nowFunc func() time.Time
}

// NewMonitor builds a monitor around the gateway. Defaults are applied for
// any zero config field.
func NewMonitor(gw broker.Gateway, cfg Config) *Monitor {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = DefaultCheckInterval
	}
	if cfg.ErrorThreshold <= 0 {
		cfg.ErrorThreshold = DefaultErrorThreshold
	}
	if cfg.SlowResponseThreshold <= 0 {
		cfg.SlowResponseThreshold = DefaultSlowResponseThreshold
	}
	return &Monitor{
		gw:      gw,
		cfg:     cfg,
		healthy: true,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
		nowFunc: time.Now,
	}
}

// SetPreservationCallback registers the function invoked once when the error
// threshold is crossed. Must be called before Start.
func (m *Monitor) SetPreservationCallback(fn func() error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onPreservation = fn
}

// Start launches the periodic probe loop in its own goroutine.
func (m *Monitor) Start() {
	go m.run()
	log.Printf("💓 Connection health monitor started (interval %s, threshold %d errors)",
		m.cfg.CheckInterval, m.cfg.ErrorThreshold)
}

// Stop terminates the probe loop and waits for it to exit.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	<-m.doneCh
}

func (m *Monitor) run() {
	defer close(m.doneCh)
	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.CheckNow()
		}
	}
}

// CheckNow runs one probe immediately. The account endpoint doubles as the
// liveness check since every trading decision depends on it anyway.
func (m *Monitor) CheckNow() {
	start := m.nowFunc()
	account, err := m.gw.GetAccount()
	elapsed := m.nowFunc().Sub(start)

	if err == nil && account == nil {
		err = fmt.Errorf("broker returned an empty account")
	}

	if err != nil {
		m.recordFailure(err, elapsed)
		return
	}
	m.recordSuccess(elapsed)
}

func (m *Monitor) recordSuccess(elapsed time.Duration) {
	m.mu.Lock()
	m.healthy = true
	m.errorCount = 0
	m.lastSuccess = m.nowFunc()
	m.lastCheck = m.lastSuccess
	m.pushSampleLocked(elapsed)
	m.mu.Unlock()

	metricHealthy.Set(1)
	metricErrorCount.Set(0)
	metricProbeSeconds.Set(elapsed.Seconds())

	if elapsed > m.cfg.SlowResponseThreshold {
		log.Printf("🐢 Slow broker response: %s (threshold %s)", elapsed, m.cfg.SlowResponseThreshold)
	}
}

func (m *Monitor) recordFailure(err error, elapsed time.Duration) {
	m.mu.Lock()
	m.healthy = false
	m.errorCount++
	m.lastCheck = m.nowFunc()
	m.pushSampleLocked(elapsed)
	count := m.errorCount
	shouldTrigger := count >= m.cfg.ErrorThreshold && !m.triggered
	if shouldTrigger {
		m.triggered = true
	}
	callback := m.onPreservation
	m.mu.Unlock()

	metricHealthy.Set(0)
	metricErrorCount.Set(float64(count))
	metricProbeSeconds.Set(elapsed.Seconds())

	log.Printf("💔 Broker probe failed (%d consecutive): %v", count, err)

	if shouldTrigger {
		metricPreservation.Set(1)
		log.Printf("🛡️ Error threshold reached (%d), triggering preservation mode", m.cfg.ErrorThreshold)
		m.invokeCallback(callback)
	}
}

// invokeCallback runs the preservation callback, swallowing errors and
// panics. A broken callback must never take down the monitor loop.
func (m *Monitor) invokeCallback(fn func() error) {
	if fn == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Printf("❌ Preservation callback panicked: %v", r)
		}
	}()
	if err := fn(); err != nil {
		log.Printf("❌ Preservation callback failed: %v", err)
	}
}

// pushSampleLocked appends a response-time sample, evicting the oldest once
// the window is full. Caller holds mu.
func (m *Monitor) pushSampleLocked(elapsed time.Duration) {
	m.lastResponse = elapsed
	if len(m.samples) == responseWindowSize {
		m.sampleSum -= m.samples[0]
		m.samples = m.samples[1:]
	}
	m.samples = append(m.samples, elapsed)
	m.sampleSum += elapsed
}

// ResetPreservationMode clears the triggered flag. This is a deliberate
// administrative action; nothing clears the flag automatically.
func (m *Monitor) ResetPreservationMode() {
	m.mu.Lock()
	m.triggered = false
	m.errorCount = 0
	m.mu.Unlock()
	metricPreservation.Set(0)
	log.Printf("🔄 Preservation mode reset by operator")
}

// Status returns an immutable snapshot of the monitor state.
func (m *Monitor) Status() models.HealthSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var avg time.Duration
	if len(m.samples) > 0 {
		avg = m.sampleSum / time.Duration(len(m.samples))
	}
	return models.HealthSnapshot{
		IsHealthy:                 m.healthy,
		ErrorCount:                m.errorCount,
		LastResponseTime:          m.lastResponse,
		AvgResponseTime:           avg,
		LastSuccess:               m.lastSuccess,
		LastCheck:                 m.lastCheck,
		PreservationModeTriggered: m.triggered,
	}
}
