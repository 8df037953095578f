// Package command is HTTP front of cabinet for the game service:
// POST /command accepts withdraw requests, GET /status and GET /health
// report control loop state.
package command

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/juju/errors"
	"github.com/temoto/cabinet/internal/types"
	"github.com/temoto/cabinet/log2"
)

type Service interface {
	Command(types.Command) error
	Status() (types.Status, error)
}

type Server struct {
	Log    *log2.Log
	engine *gin.Engine
	srv    *http.Server
	svc    Service
	addr   string
}

func NewServer(log *log2.Log, svc Service) *Server {
	self := &Server{Log: log, svc: svc}
	self.engine = gin.New()
	self.engine.Use(gin.Recovery(), self.logRequest)
	self.engine.POST("/command", self.postCommand)
	self.engine.GET("/status", self.getStatus)
	self.engine.GET("/health", self.getHealth)
	return self
}

func (self *Server) Handler() http.Handler { return self.engine }

// Start listens on addr and serves in background.
func (self *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Annotatef(err, "command listen=%s", addr)
	}
	self.addr = ln.Addr().String()
	self.srv = &http.Server{Handler: self.engine, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := self.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			self.Log.Error(errors.Annotate(err, "command serve"))
		}
	}()
	self.Log.Infof("listen %s", self.addr)
	return nil
}

func (self *Server) Addr() string { return self.addr }

func (self *Server) Stop(ctx context.Context) error {
	if self.srv == nil {
		return nil
	}
	return errors.Annotate(self.srv.Shutdown(ctx), "command shutdown")
}

func (self *Server) logRequest(c *gin.Context) {
	start := time.Now()
	c.Next()
	self.Log.Debugf("%s %s status=%d duration=%v", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
}

func (self *Server) postCommand(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	cmd, err := types.ParseCommand(body)
	if err != nil {
		self.Log.Errorf("command rejected body=%q err=%v", body, err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err = self.svc.Command(cmd); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

func (self *Server) getStatus(c *gin.Context) {
	st, err := self.svc.Status()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, st)
}

func (self *Server) getHealth(c *gin.Context) {
	if _, err := self.svc.Status(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "stopped"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
