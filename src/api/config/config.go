package config

import (
	"log"
	"os"
	"strconv"
)

type Config struct {
	MySQLDSN  string
	RedisURL  string
	JWTSecret string
	Port      string

	// Judgment oracle (OpenAI-compatible chat completions endpoint)
	AIURL     string
	AIKey     string
	AIModel   string
	AITimeout int // seconds, caller-imposed deadline on judge calls

	// Location mission time semantics are evaluated in
	TZLocation string
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		if def == "" {
			log.Fatalf("missing env %s", key)
		}
		return def
	}
	return v
}

func Load() Config {
	timeout, _ := strconv.Atoi(getenv("AI_TIMEOUT", "60"))
	return Config{
		MySQLDSN:   getenv("MYSQL_DSN", "missions:missions@tcp(127.0.0.1:3306)/missions?parseTime=true"),
		RedisURL:   getenv("REDIS_URL", "redis://127.0.0.1:6379/0"),
		JWTSecret:  getenv("JWT_SECRET", ""),
		Port:       getenv("PORT", "8080"),
		AIURL:      getenv("AI_URL", "https://api.openai.com"),
		AIKey:      getenv("AI_KEY", ""),
		AIModel:    getenv("AI_MODEL", "gpt-4o"),
		AITimeout:  timeout,
		TZLocation: getenv("TZ_LOCATION", "Asia/Seoul"),
	}
}
