package server

import (
	"crypto/tls"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/danielgsilva/feup-cpd/internal/auth"
	"github.com/danielgsilva/feup-cpd/internal/config"
	"github.com/danielgsilva/feup-cpd/internal/metrics"
	"github.com/danielgsilva/feup-cpd/internal/room"
	"github.com/danielgsilva/feup-cpd/internal/session"
	"github.com/danielgsilva/feup-cpd/internal/token"
)

// Server 绑定聊天协议端点,为每条连接派生一个处理器 goroutine,
// 并运行与连接生命周期完全解耦的令牌清理定时任务。
type Server struct {
	cfg      config.Config
	creds    *auth.Store
	tokens   *token.Service
	sessions *session.Registry
	rooms    *room.Registry

	ln       net.Listener
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func New(cfg config.Config, creds *auth.Store, tokens *token.Service, sessions *session.Registry, rooms *room.Registry) *Server {
	return &Server{
		cfg:      cfg,
		creds:    creds,
		tokens:   tokens,
		sessions: sessions,
		rooms:    rooms,
		done:     make(chan struct{}),
	}
}

// Start 绑定监听端点并启动接受循环与清理任务。
// 绑定失败是唯一的启动致命错误,由调用方决定进程退出。
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", ":"+s.cfg.Port)
	if err != nil {
		return err
	}
	if s.cfg.TLSCertFile != "" && s.cfg.TLSKeyFile != "" {
		cert, err := tls.LoadX509KeyPair(s.cfg.TLSCertFile, s.cfg.TLSKeyFile)
		if err != nil {
			ln.Close()
			return err
		}
		ln = tls.NewListener(ln, &tls.Config{Certificates: []tls.Certificate{cert}})
		log.Info().Msg("tls transport wrapper enabled")
	}
	s.ln = ln

	s.wg.Add(2)
	go s.acceptLoop()
	go s.sweepLoop()

	log.Info().Str("addr", ln.Addr().String()).Strs("rooms", s.rooms.Names()).Msg("server started")
	return nil
}

// Addr 返回实际监听地址(配置端口为 0 时可取得随机端口)。
func (s *Server) Addr() string {
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Stop 关闭监听端点并停止后台任务。既有连接不被强制中断,
// 各自的读循环在传输关闭时退出。
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		if s.ln != nil {
			s.ln.Close()
		}
		s.wg.Wait()
	})
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			log.Error().Err(err).Msg("accept")
			continue
		}
		h := NewHandler(newNetTransport(conn), s.creds, s.tokens, s.sessions, s.rooms)
		go h.Run()
	}
}

func (s *Server) sweepLoop() {
	defer s.wg.Done()
	interval := time.Duration(s.cfg.SweepMinutes) * time.Minute
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			n := s.tokens.SweepExpired()
			metrics.TokensSwept.Add(float64(n))
			if n > 0 {
				log.Info().Int("expired", n).Msg("token sweep")
			}
		}
	}
}
