package config

import (
	"os"
	"strconv"
	"strings"
)

type Config struct {
	Port          string
	Env           string
	UsersFile     string
	TokenTTLHours int
	SweepMinutes  int
	DefaultRooms  []string
	HTTPPort      string
	TLSCertFile   string
	TLSKeyFile    string
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getint(key string, def int) int {
	v, err := strconv.Atoi(getenv(key, strconv.Itoa(def)))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

// Load 从环境变量加载配置,未设置时使用默认值。
// HTTP_PORT 为空表示不开启旁路 HTTP 监听,进程只暴露聊天协议这一个端点。
func Load() Config {
	var rooms []string
	for _, name := range strings.Split(getenv("DEFAULT_ROOMS", "library,cpd,ia,cg,compiladores"), ",") {
		name = strings.TrimSpace(name)
		if name != "" {
			rooms = append(rooms, name)
		}
	}
	return Config{
		Port:          getenv("APP_PORT", "1234"),
		Env:           getenv("APP_ENV", "dev"),
		UsersFile:     getenv("USERS_FILE", "users.txt"),
		TokenTTLHours: getint("TOKEN_TTL_HOURS", 24),
		SweepMinutes:  getint("TOKEN_SWEEP_MINUTES", 60),
		DefaultRooms:  rooms,
		HTTPPort:      getenv("HTTP_PORT", ""),
		TLSCertFile:   getenv("TLS_CERT_FILE", ""),
		TLSKeyFile:    getenv("TLS_KEY_FILE", ""),
	}
}
