package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/shufengdong/sparrowzz-sub000/internal/dispatcher"
	"github.com/shufengdong/sparrowzz-sub000/internal/domain"
)

// Server is the monitoring HTTP API over a running dispatcher.
type Server struct {
	dispatcher *dispatcher.Dispatcher
	hub        *Hub
	engine     *gin.Engine
}

// aoeSummary is the list-view projection of one scheduled AOE.
type aoeSummary struct {
	ID      uint64 `json:"id"`
	Name    string `json:"name"`
	Trigger string `json:"trigger"`
	Events  int    `json:"events"`
	Actions int    `json:"actions"`
}

// NewServer wires routes over d and hub. secret guards every route when
// non-empty (bearer JWT, HMAC-signed).
func NewServer(d *dispatcher.Dispatcher, hub *Hub, secret string) *Server {
	s := &Server{dispatcher: d, hub: hub, engine: gin.New()}
	s.engine.Use(gin.Recovery())

	v1 := s.engine.Group("/api/v1", AuthRequired(secret))
	v1.GET("/aoes", s.handleListAoes)
	v1.GET("/aoes/:id", s.handleGetAoe)
	v1.GET("/aoes/:id/result", s.handleLastResult)
	v1.POST("/aoes/:id/activate", s.handleActivate)
	v1.GET("/ws", s.handleWS)

	return s
}

// Handler exposes the underlying http.Handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.engine }

// Run serves the API on addr until the listener fails.
func (s *Server) Run(addr string) error { return s.engine.Run(addr) }

func (s *Server) handleListAoes(c *gin.Context) {
	insts := s.dispatcher.Instances()
	out := make([]aoeSummary, 0, len(insts))
	for _, inst := range insts {
		m := inst.Model()
		out = append(out, aoeSummary{
			ID: m.ID, Name: m.Name, Trigger: m.Trigger.String(),
			Events: len(m.Events), Actions: len(m.Actions),
		})
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleGetAoe(c *gin.Context) {
	id, ok := s.paramID(c)
	if !ok {
		return
	}
	inst, found := s.dispatcher.Instance(id)
	if !found {
		respondError(c, http.StatusNotFound, "aoe not scheduled")
		return
	}
	c.JSON(http.StatusOK, inst.Model())
}

func (s *Server) handleLastResult(c *gin.Context) {
	id, ok := s.paramID(c)
	if !ok {
		return
	}
	res, found := s.dispatcher.LastResult(id)
	if !found {
		respondError(c, http.StatusNotFound, "no completed activation")
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleActivate(c *gin.Context) {
	id, ok := s.paramID(c)
	if !ok {
		return
	}
	if err := s.dispatcher.Activate(id); err != nil {
		var derr *domain.DomainError
		if errors.As(err, &derr) && derr.Code == domain.ErrCodeNotFound {
			respondError(c, http.StatusNotFound, derr.Message)
			return
		}
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "activation requested"})
}

func (s *Server) handleWS(c *gin.Context) {
	s.hub.ServeWS(c.Writer, c.Request)
}

func (s *Server) paramID(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		respondError(c, http.StatusBadRequest, "id must be a decimal aoe id")
		return 0, false
	}
	return id, true
}
