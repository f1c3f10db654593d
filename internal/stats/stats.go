package stats

import (
	"encoding/json"
	"expvar"
	"net/http"
	"sync"
	"time"
)

const (
	ActiveConnections  = "ActiveConnections"
	ActiveRooms        = "ActiveRooms"
	FramesRouted       = "FramesRouted"
	FramesDropped      = "FramesDropped"
	AdmissionsRejected = "AdmissionsRejected"
)

type StatsProvider interface {
	Incr(name string)
	RegisterMetric(name string)
	RegisterGauge(name string, fn func() any)
}

// StatsUpdater serializes counter updates through a single goroutine. It is
// an http.Handler serving all registered metrics as one JSON object; the
// caller decides where it is mounted and who may read it.
type StatsUpdater struct {
	vars       *expvar.Map
	updateChan chan *metricsUpdateReq
	mu         sync.RWMutex
	stopped    bool
}

type metricsUpdateReq struct {
	name  string
	value int64
}

func (su *StatsUpdater) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	expvarData := make(map[string]any)
	su.vars.Do(func(kv expvar.KeyValue) {
		var value any
		json.Unmarshal([]byte(kv.Value.String()), &value)
		expvarData[kv.Key] = value
	})

	json.NewEncoder(w).Encode(expvarData)
}

// NewStatsUpdater creates a new stats updater. The map is not published
// globally so several updaters can coexist.
func NewStatsUpdater() *StatsUpdater {
	su := &StatsUpdater{
		vars:       new(expvar.Map).Init(),
		updateChan: make(chan *metricsUpdateReq, 512),
	}
	su.initializeMetrics()

	return su
}

func (su *StatsUpdater) initializeMetrics() {
	startTime := time.Now()
	su.vars.Set("Uptime", expvar.Func(func() any {
		return time.Since(startTime).Milliseconds()
	}))
}

func (su *StatsUpdater) updateMetrics() {
	for req := range su.updateChan {
		metric, ok := su.vars.Get(req.name).(*expvar.Int)
		if !ok {
			continue
		}

		metric.Add(req.value)
	}
}

// Incr never blocks the caller; an update is dropped when the queue is full.
func (su *StatsUpdater) Incr(name string) {
	su.mu.RLock()
	defer su.mu.RUnlock()

	if su.stopped {
		return
	}

	select {
	case su.updateChan <- &metricsUpdateReq{name: name, value: 1}:
	default:
	}
}

func (su *StatsUpdater) RegisterMetric(name string) {
	su.vars.Set(name, new(expvar.Int))
}

// RegisterGauge publishes a value computed on every read.
func (su *StatsUpdater) RegisterGauge(name string, fn func() any) {
	su.vars.Set(name, expvar.Func(fn))
}

func (su *StatsUpdater) Run() {
	go su.updateMetrics()
}

func (su *StatsUpdater) Stop() {
	su.mu.Lock()
	defer su.mu.Unlock()

	if su.stopped {
		return
	}
	su.stopped = true
	close(su.updateChan)
}
