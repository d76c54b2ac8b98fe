package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

var ErrWarehouseNotConfigured = errors.New("WAREHOUSE_DSN or WAREHOUSE_HOST not set")

// WarehouseDSNFromEnv prefers WAREHOUSE_DSN and otherwise assembles a MySQL-protocol
// DSN from WAREHOUSE_USER, WAREHOUSE_PASSWORD, WAREHOUSE_HOST, WAREHOUSE_PORT, WAREHOUSE_NAME.
func WarehouseDSNFromEnv() (string, error) {
	if dsn := strings.TrimSpace(os.Getenv("WAREHOUSE_DSN")); dsn != "" {
		return dsn, nil
	}
	host := strings.TrimSpace(os.Getenv("WAREHOUSE_HOST"))
	if host == "" {
		return "", ErrWarehouseNotConfigured
	}

	c := mysqldriver.NewConfig()
	c.User = os.Getenv("WAREHOUSE_USER")
	c.Passwd = os.Getenv("WAREHOUSE_PASSWORD")
	c.DBName = os.Getenv("WAREHOUSE_NAME")
	c.ParseTime = true
	c.Loc = time.UTC
	c.Net = "tcp"
	c.Addr = fmt.Sprintf("%s:%s", host, os.Getenv("WAREHOUSE_PORT"))
	// WAREHOUSE_HOST of the form /cloudsql/<CONNECTION_NAME> goes through the auth proxy socket.
	if strings.HasPrefix(host, "/cloudsql/") {
		c.Net = "unix"
		c.Addr = host
	}
	return c.FormatDSN(), nil
}

// OpenWarehouse opens the read-only reporting connection.
func OpenWarehouse(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(dsn), initConfig())
	if err != nil {
		return nil, fmt.Errorf("open warehouse: %w", err)
	}

	// Env overrides (optional):
	// - WAREHOUSE_MAX_OPEN_CONNS (default 20)
	// - WAREHOUSE_MAX_IDLE_CONNS (default 10)
	// - WAREHOUSE_CONN_MAX_LIFETIME_SECONDS (default 300)
	if sqlDB, derr := db.DB(); derr == nil && sqlDB != nil {
		maxOpen := intFromEnv("WAREHOUSE_MAX_OPEN_CONNS", 20)
		maxIdle := intFromEnv("WAREHOUSE_MAX_IDLE_CONNS", 10)
		connMaxLife := time.Duration(intFromEnv("WAREHOUSE_CONN_MAX_LIFETIME_SECONDS", 300)) * time.Second

		if maxOpen > 0 {
			sqlDB.SetMaxOpenConns(maxOpen)
		}
		if maxIdle >= 0 {
			sqlDB.SetMaxIdleConns(maxIdle)
		}
		if connMaxLife > 0 {
			sqlDB.SetConnMaxLifetime(connMaxLife)
		}
	}

	if pluginErr := db.Use(otelgorm.NewPlugin()); pluginErr != nil {
		log.Printf("warehouse connected but failed to install otelgorm plugin: %v", pluginErr)
	}
	return db, nil
}

func initConfig() *gorm.Config {
	return &gorm.Config{
		Logger:         initLog(),
		NamingStrategy: &schema.NamingStrategy{SingularTable: false},
	}
}

func initLog() logger.Interface {
	return logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			Colorful:      false,
			LogLevel:      logger.Error,
			SlowThreshold: time.Second,
		},
	)
}
