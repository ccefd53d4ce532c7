package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"go.uber.org/zap"

	"github.com/spec-kit/ticketbot/internal/config"
)

const mysqlUnknownDatabase = 1049

// NewMySQL connects to MySQL, creating the configured database on first run.
func NewMySQL(ctx context.Context, cfg config.MySQLConfig, logger *zap.Logger) (*sql.DB, error) {
	dsnCfg := mysqlDSN(cfg)

	db, err := openMySQL(ctx, dsnCfg.FormatDSN())
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr.Number == mysqlUnknownDatabase {
		logger.Warn("mysql database missing; creating it", zap.String("database", cfg.Database))
		if err := createMySQLDatabase(ctx, dsnCfg); err != nil {
			return nil, fmt.Errorf("create database %s: %w", cfg.Database, err)
		}
		db, err = openMySQL(ctx, dsnCfg.FormatDSN())
	}
	if err != nil {
		return nil, err
	}

	logger.Info("connected to mysql",
		zap.String("addr", dsnCfg.Addr),
		zap.String("database", cfg.Database),
	)
	return db, nil
}

func mysqlDSN(cfg config.MySQLConfig) *mysql.Config {
	dsnCfg := mysql.NewConfig()
	dsnCfg.User = cfg.User
	dsnCfg.Passwd = cfg.Password
	dsnCfg.Net = "tcp"
	dsnCfg.Addr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	dsnCfg.DBName = cfg.Database
	dsnCfg.ParseTime = true
	dsnCfg.Loc = time.UTC
	dsnCfg.Params = map[string]string{"charset": "utf8mb4"}
	return dsnCfg
}

func openMySQL(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func createMySQLDatabase(ctx context.Context, base *mysql.Config) error {
	server := base.Clone()
	server.DBName = ""

	db, err := openMySQL(ctx, server.FormatDSN())
	if err != nil {
		return err
	}
	defer db.Close()

	name := "`" + strings.ReplaceAll(base.DBName, "`", "``") + "`"
	_, err = db.ExecContext(ctx, "CREATE DATABASE IF NOT EXISTS "+name+" CHARACTER SET utf8mb4 COLLATE utf8mb4_unicode_ci")
	return err
}
