package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.Appeared).String(),
			"game":    s.cfg.Name,
			"version": Version,
		})
	})

	s.router.GET("/ready", func(c *gin.Context) {
		ready := s.opened()
		status := http.StatusOK
		if !ready {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"ready":   ready,
			"uptime":  time.Since(s.Appeared).String(),
			"game":    s.cfg.Name,
			"version": Version,
		})
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router.GET("/state", func(c *gin.Context) {
		state := s.stateFunc()
		if state == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no session"})
			return
		}
		st, err := state(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		body := gin.H{}
		for k, v := range st.Extra {
			body[k] = v
		}
		body["status"] = string(st.Status)
		body["episode"] = st.Episode
		body["passage"] = st.Passage
		body["score"] = st.Score
		c.JSON(http.StatusOK, body)
	})

	s.router.GET(s.cfg.GamePath, gin.WrapH(s.acceptor))
}

func (s *Server) opened() bool {
	select {
	case <-s.acceptor.Admitted():
		return true
	default:
		return false
	}
}
