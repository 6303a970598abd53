package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/joho/godotenv"
)

type Config struct {
	DBHost           string
	DBPort           string
	DBName           string
	DBUser           string
	DBPassword       string
	DBSSLMode        string
	DBConnectTimeout time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisLockTTL  time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	return &Config{
		DBHost:           getEnv("DATABASE_HOST", "localhost"),
		DBPort:           getEnv("DATABASE_PORT", ""),
		DBName:           getEnv("DATABASE_NAME", ""),
		DBUser:           getEnv("DATABASE_USER", ""),
		DBPassword:       getEnv("DATABASE_PASSWORD", ""),
		DBSSLMode:        getEnv("DATABASE_SSLMODE", "disable"),
		DBConnectTimeout: getEnvSeconds("DATABASE_CONNECT_TIMEOUT", 5*time.Second),
		RedisAddr:        getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:    getEnv("REDIS_PASSWORD", ""),
		RedisDB:          getEnvInt("REDIS_DB", 0),
		RedisLockTTL:     getEnvSeconds("REDIS_LOCK_TTL", 30*time.Second),
	}, nil
}

// PostgresDSN renders the keyword/value connection string lib/pq expects.
// DBPort defaults to 5432 here so the same Config can drive either backend.
func (c *Config) PostgresDSN() string {
	port := c.DBPort
	if port == "" {
		port = "5432"
	}

	parts := []string{"host=" + c.DBHost, "port=" + port}
	if c.DBName != "" {
		parts = append(parts, "dbname="+c.DBName)
	}
	if c.DBUser != "" {
		parts = append(parts, "user="+c.DBUser)
	}
	if c.DBPassword != "" {
		parts = append(parts, "password="+c.DBPassword)
	}
	parts = append(parts,
		fmt.Sprintf("connect_timeout=%d", int(c.DBConnectTimeout.Seconds())),
		"sslmode="+c.DBSSLMode,
	)
	return strings.Join(parts, " ")
}

// MySQLDSN renders the go-sql-driver connection string. Sessions announce
// themselves via the program_name connection attribute so lock holders can
// be spotted in performance_schema.
func (c *Config) MySQLDSN() string {
	port := c.DBPort
	if port == "" {
		port = "3306"
	}

	mc := mysql.NewConfig()
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(c.DBHost, port)
	mc.User = c.DBUser
	mc.Passwd = c.DBPassword
	mc.DBName = c.DBName
	mc.Timeout = c.DBConnectTimeout
	mc.ConnectionAttributes = "program_name:lib-go-lock"
	return mc.FormatDSN()
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvSeconds(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil && n > 0 {
			return time.Duration(n) * time.Second
		}
	}
	return defaultValue
}
