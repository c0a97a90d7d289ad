package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRouter 组装可选的旁路 HTTP 端点:健康检查、Prometheus 指标、
// 只读的房间概览和 WebSocket 传输入口。默认配置下不启用,
// 进程只暴露聊天协议这一个端点。
func (s *Server) SetupRouter() *gin.Engine {
	if s.cfg.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/rooms", s.listRooms)
	r.GET("/ws", s.serveWS)
	return r
}

// listRooms 返回房间名、在线人数与消息数的只读概览。
func (s *Server) listRooms(c *gin.Context) {
	names := s.rooms.Names()
	out := make([]gin.H, 0, len(names))
	for _, name := range names {
		rm, ok := s.rooms.Get(name)
		if !ok {
			continue
		}
		out = append(out, gin.H{
			"name":     name,
			"online":   rm.MemberCount(),
			"messages": len(rm.Messages()),
		})
	}
	c.JSON(http.StatusOK, gin.H{"rooms": out})
}
