package api

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// NewRouter builds a Gin engine with the shared middleware stack. Callers
// register role-specific routes (MasterHandler.Register or
// SecondaryHandler.Register) on the returned engine.
func NewRouter(log *zap.SugaredLogger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(Logger(log), Recovery(log))
	return r
}
