package stats

import (
	"expvar"
	"time"
)

// Counter names published by the session core.
const (
	MessagesStored      = "MessagesStored"
	MessagesPruned      = "MessagesPruned"
	Reconnects          = "Reconnects"
	RateLimitRejections = "RateLimitRejections"
	CursorUpdates       = "CursorUpdates"
	DecodeErrors        = "DecodeErrors"
	CommandsSent        = "CommandsSent"
	CommandsDropped     = "CommandsDropped"
)

type StatsProvider interface {
	Incr(name string)
	Decr(name string)
	RegisterMetric(name string)
	Run()
}

// StatsUpdater publishes session counters through expvar. The host shell
// decides whether and where to expose the expvar handler.
type StatsUpdater struct {
	vars       *expvar.Map
	updateChan chan *metricsUpdateReq
}

type metricsUpdateReq struct {
	name  string
	value int
}

// NewStatsUpdater creates a new stats updater instance.
func NewStatsUpdater() *StatsUpdater {
	su := &StatsUpdater{
		updateChan: make(chan *metricsUpdateReq, 512),
	}
	su.vars = expvar.NewMap("chatsync-stats")
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
		metric := su.vars.Get(req.name)
		if metric == nil {
			panic("metric not found: " + req.name)
		}

		metric.(*expvar.Int).Add(int64(req.value))
	}
}

func (su *StatsUpdater) Incr(name string) {
	su.updateChan <- &metricsUpdateReq{name: name, value: 1}
}

func (su *StatsUpdater) Decr(name string) {
	su.updateChan <- &metricsUpdateReq{name: name, value: -1}
}

func (su *StatsUpdater) RegisterMetric(name string) {
	su.vars.Set(name, expvar.NewInt(name))
}

func (su *StatsUpdater) Run() {
	go su.updateMetrics()
}

func (su *StatsUpdater) Stop() {
	close(su.updateChan)
}
