package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"enseek/internal/recognition"
	"enseek/internal/song"
)

type stateResponse struct {
	State recognition.State `json:"state"`
	recognition.Snapshot
}

func newStateResponse(s recognition.Snapshot) stateResponse {
	return stateResponse{State: s.State(), Snapshot: s}
}

func (s *Server) getState(c *gin.Context) {
	c.JSON(http.StatusOK, newStateResponse(s.rec.Snapshot()))
}

// startListening answers 503 when capture could not start.
func (s *Server) startListening(c *gin.Context) {
	s.rec.Start()
	snap := s.rec.Snapshot()
	if snap.State() == recognition.StateError {
		c.JSON(http.StatusServiceUnavailable, newStateResponse(snap))
		return
	}
	c.JSON(http.StatusAccepted, newStateResponse(snap))
}

func (s *Server) stopListening(c *gin.Context) {
	s.rec.Stop()
	c.JSON(http.StatusOK, newStateResponse(s.rec.Snapshot()))
}

func (s *Server) getHistory(c *gin.Context) {
	songs, err := s.history.Load()
	if err != nil {
		s.log.Error("loading history", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if songs == nil {
		songs = []song.Song{}
	}
	c.JSON(http.StatusOK, gin.H{"songs": songs, "count": len(songs)})
}

func (s *Server) clearHistory(c *gin.Context) {
	if err := s.history.Clear(); err != nil {
		s.log.Error("clearing history", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if s.metrics != nil {
		s.metrics.HistorySize.Set(0)
	}
	c.Status(http.StatusNoContent)
}
