package httpapi

import (
	"github.com/gin-gonic/gin"

	"github.com/prismbench/searchcore/internal/apierrors"
)

type initializeRequest struct {
	SessionID string `json:"session_id" binding:"required"`
}

// handleInitialize implements POST /initialize.
func (s *Server) handleInitialize(c *gin.Context) {
	var req initializeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(400, gin.H{"message": err.Error()})
		return
	}

	sess, err := s.manager.Initialize(req.SessionID, s.manager.DefaultExperiment())
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(200, gin.H{
		"session_id": sess.ID,
		"message":    "session initialized",
		"tree_size":  sess.Tree.Size(),
	})
}

// handleGetSession implements GET /sessions/{id}.
func (s *Server) handleGetSession(c *gin.Context) {
	sess, err := s.manager.GetSession(c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(200, gin.H{
		"session_id": sess.ID,
		"tree_size":  sess.Tree.Size(),
		"message":    "ok",
	})
}

type runRequest struct {
	SessionID string `json:"session_id"`
}

// handleRun implements POST /run.
func (s *Server) handleRun(c *gin.Context) {
	var req runRequest
	// An empty body is valid: session_id is optional (§6.1), so a bind
	// failure here only matters when the body is malformed JSON.
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(400, gin.H{"message": err.Error()})
			return
		}
	}

	task, err := s.manager.Run(req.SessionID)
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(202, gin.H{
		"task_id":    task.ID,
		"session_id": task.SessionID,
		"phases":     task.Phases(),
		"message":    "task started",
	})
}

// handleStop implements POST /stop/{task_id}.
func (s *Server) handleStop(c *gin.Context) {
	task, err := s.manager.Stop(c.Param("task_id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(200, gin.H{
		"task_id":    task.ID,
		"session_id": task.SessionID,
		"phases":     task.Phases(),
		"message":    "cancellation requested",
	})
}

// handleStatus implements GET /status: a specific task via ?task_id=, or
// every known task when omitted.
func (s *Server) handleStatus(c *gin.Context) {
	taskID := c.Query("task_id")
	task, all, err := s.manager.Status(taskID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	if task != nil {
		c.JSON(200, gin.H{
			"task_id":    task.ID,
			"session_id": task.SessionID,
			"phases":     task.Phases(),
			"message":    "ok",
		})
		return
	}

	tasks := make(map[string]gin.H, len(all))
	for id, t := range all {
		tasks[id] = gin.H{
			"task_id":    t.ID,
			"session_id": t.SessionID,
			"phases":     t.Phases(),
		}
	}
	c.JSON(200, gin.H{"tasks": tasks})
}

// handleGetTask implements GET /tasks/{task_id}.
func (s *Server) handleGetTask(c *gin.Context) {
	task, _, err := s.manager.Status(c.Param("task_id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(200, gin.H{
		"task_id":    task.ID,
		"session_id": task.SessionID,
		"phases":     task.Phases(),
		"message":    "ok",
	})
}

// handleGetTree implements GET /tree/{session_id}.
func (s *Server) handleGetTree(c *gin.Context) {
	sessionID := c.Param("session_id")
	dict, err := s.manager.GetTree(sessionID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	s.metrics.SetTreeSize(sessionID, len(dict.Nodes))
	c.JSON(200, gin.H{
		"session_id": sessionID,
		"tree":       dict,
		"statistics": gin.H{
			"node_count":   len(dict.Nodes),
			"concepts":     len(dict.Concepts),
			"difficulties": len(dict.Difficulties),
		},
	})
}

// respondError maps an apierrors sentinel to its HTTP status and writes a
// {message} body, per §7's "HTTP layer maps kinds to codes" policy.
func (s *Server) respondError(c *gin.Context, err error) {
	status := apierrors.HTTPStatus(err)
	if status >= 500 {
		s.logger.WithError(err).Error("search core request failed")
	}
	c.JSON(status, gin.H{"message": err.Error()})
}
