package daemon

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/freqclamp/pkg/config"
	"github.com/charlie0129/freqclamp/pkg/cpufreq"
	"github.com/charlie0129/freqclamp/pkg/events"
	"github.com/charlie0129/freqclamp/pkg/limiter"
	"github.com/charlie0129/freqclamp/pkg/version"
)

const defaultHistoryLimit = 20

// State is the response of GET /state.
type State struct {
	limiter.State
	Suspended        bool      `json:"suspended"`
	DisplayKnown     bool      `json:"displayKnown"`
	DisplayChangedAt time.Time `json:"displayChangedAt,omitempty"`
}

func (s *server) getConfig(c *gin.Context) {
	fc, err := config.NewRawFileConfigFromConfig(s.conf)
	if err != nil {
		_ = c.AbortWithError(http.StatusInternalServerError, err)
		return
	}
	c.IndentedJSON(http.StatusOK, fc)
}

func (s *server) getLimits(c *gin.Context) {
	c.String(http.StatusOK, s.lim.Show())
}

func (s *server) setLimits(c *gin.Context) {
	var token string
	if err := c.BindJSON(&token); err != nil {
		c.IndentedJSON(http.StatusBadRequest, err.Error())
		_ = c.AbortWithError(http.StatusBadRequest, err)
		return
	}

	if err := s.lim.Store(token); err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, limiter.ErrInvalidInput) {
			code = http.StatusBadRequest
		}
		c.IndentedJSON(code, err.Error())
		_ = c.AbortWithError(code, err)
		return
	}

	// Keep GET /config in line with the limiter. Nothing is saved, a
	// restart goes back to the file.
	st := s.lim.Snapshot()
	s.conf.SetEnabled(st.Enabled)
	s.conf.SetScreenoffMin(st.ScreenoffMin)
	s.conf.SetScreenoffMax(st.ScreenoffMax)

	logrus.WithField("token", token).Info("screen-off limits updated")
	s.hub.Publish(events.ConfigChanged, events.ConfigChangedEvent{
		Command: token,
		Ts:      time.Now().Unix(),
	})

	// Apply right away instead of waiting for the next display edge.
	s.resync("store")

	c.IndentedJSON(http.StatusCreated, s.lim.Show())
}

func (s *server) getState(c *gin.Context) {
	st := State{State: s.lim.Snapshot()}

	suspended, err := s.lim.Suspended()
	if err != nil {
		logrus.Errorf("getState failed: %v", err)
		c.IndentedJSON(http.StatusInternalServerError, err.Error())
		_ = c.AbortWithError(http.StatusInternalServerError, err)
		return
	}
	st.Suspended = suspended
	if s.watcher != nil {
		_, st.DisplayChangedAt, st.DisplayKnown = s.watcher.State()
	}

	c.IndentedJSON(http.StatusOK, st)
}

func (s *server) getPolicies(c *gin.Context) {
	cpus, err := s.backend.CPUs()
	if err != nil {
		logrus.Errorf("getPolicies failed: %v", err)
		c.IndentedJSON(http.StatusInternalServerError, err.Error())
		_ = c.AbortWithError(http.StatusInternalServerError, err)
		return
	}

	infos := make([]cpufreq.Info, 0, len(cpus))
	for _, cpu := range cpus {
		info, err := s.backend.Describe(cpu)
		if err != nil {
			logrus.Errorf("getPolicies failed on cpu %d: %v", cpu, err)
			c.IndentedJSON(http.StatusInternalServerError, err.Error())
			_ = c.AbortWithError(http.StatusInternalServerError, err)
			return
		}
		infos = append(infos, info)
	}

	c.IndentedJSON(http.StatusOK, infos)
}

func (s *server) postResync(c *gin.Context) {
	if err := s.gov.UpdateAll(c.Request.Context()); err != nil {
		c.IndentedJSON(http.StatusInternalServerError, err.Error())
		_ = c.AbortWithError(http.StatusInternalServerError, err)
		return
	}
	c.IndentedJSON(http.StatusCreated, "ok")
}

func (s *server) getHistory(c *gin.Context) {
	if s.journal == nil {
		c.IndentedJSON(http.StatusNotFound, "decision journal is disabled, set journalPath in the config to enable it")
		return
	}

	limit := defaultHistoryLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.IndentedJSON(http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	entries, err := s.journal.Recent(c.Request.Context(), limit)
	if err != nil {
		logrus.Errorf("getHistory failed: %v", err)
		c.IndentedJSON(http.StatusInternalServerError, err.Error())
		_ = c.AbortWithError(http.StatusInternalServerError, err)
		return
	}

	c.IndentedJSON(http.StatusOK, entries)
}

// getEvents streams hub events as server-sent events until the client goes
// away or the daemon stops.
func (s *server) getEvents(c *gin.Context) {
	ch := s.hub.Subscribe(c.QueryArray("name")...)
	defer s.hub.Unsubscribe(ch)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	// Send headers now so clients see the stream open before any event.
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case <-s.ctx.Done():
			return false
		case ev, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent(ev.Name, string(ev.Data))
			return true
		}
	})
}

func (s *server) getMetrics() gin.HandlerFunc {
	return gin.WrapH(promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{}))
}

func getVersion(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, version.Version)
}
