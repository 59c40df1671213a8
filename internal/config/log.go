package config

import (
	"github.com/damoang/angple-messenger/pkg/logger"
)

// LogResolved logs the effective configuration with secrets masked
func LogResolved(cfg *Config) {
	log := logger.WithComponent("config")

	log.Info().
		Str("addr", cfg.Server.Addr()).
		Str("mode", cfg.Server.Mode).
		Str("db_driver", cfg.Database.Driver).
		Str("db_host", cfg.Database.Host).
		Str("db_name", cfg.Database.DBName).
		Str("db_password", mask(cfg.Database.Password)).
		Bool("redis_enabled", cfg.Redis.Enabled).
		Str("redis_host", cfg.Redis.Host).
		Str("jwt_secret", mask(cfg.JWT.Secret)).
		Strs("cors_origins", cfg.CORS.Origins()).
		Int("presence_timeout_s", cfg.Presence.Timeout).
		Int("presence_check_interval_s", cfg.Presence.CheckInterval).
		Int("max_content_length", cfg.Messaging.MaxContentLength).
		Msg("resolved config")
}

func mask(secret string) string {
	if secret == "" {
		return "(empty)"
	}
	if len(secret) <= 4 {
		return "****"
	}
	return secret[:2] + "****"
}
