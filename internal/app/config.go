package app

import (
	"time"

	"github.com/yungbote/adaptivity-backend/internal/logger"
	"github.com/yungbote/adaptivity-backend/internal/utils"
)

type Config struct {
	Port           string
	JWTSecretKey   string
	AccessTokenTTL time.Duration
	CatalogPath    string
	AllowedOrigins string
	LRSBaseIRI     string
	LRSPlatform    string
	Environment    string
	Version        string
}

func LoadConfig(log *logger.Logger) Config {
	accessTokenTTLSeconds := utils.GetEnvAsInt("ACCESS_TOKEN_TTL", 3600, log)
	return Config{
		Port:           utils.GetEnv("PORT", "8080", log),
		JWTSecretKey:   utils.GetEnv("JWT_SECRET_KEY", "defaultsecret", log),
		AccessTokenTTL: time.Duration(accessTokenTTLSeconds) * time.Second,
		CatalogPath:    utils.GetEnv("CATALOG_PATH", "catalog.yaml", log),
		AllowedOrigins: utils.GetEnv("ALLOWED_ORIGINS", "", log),
		LRSBaseIRI:     utils.GetEnv("LRS_BASE_IRI", "https://amit.lemida.org/xapi", log),
		LRSPlatform:    utils.GetEnv("LRS_PLATFORM", "AMIT Adaptivity Platform", log),
		Environment:    utils.GetEnv("ENVIRONMENT", "development", log),
		Version:        utils.GetEnv("SERVICE_VERSION", "dev", log),
	}
}
