package database

import (
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/nestgold/nestgold/app/models"
	"github.com/nestgold/nestgold/internal/pkg/env"
)

const maxRetries = 5
const retryDelay = 5 * time.Second

// Supported values for DB_DRIVER.
const (
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
	DriverMemory   = "memory"
)

var DB *gorm.DB

// Driver returns the configured DB_DRIVER, defaulting to postgres.
func Driver() string {
	switch d := strings.ToLower(strings.TrimSpace(env.GetEnv("DB_DRIVER", DriverPostgres))); d {
	case DriverMySQL, DriverMemory:
		return d
	default:
		return DriverPostgres
	}
}

// DSN builds the gorm connection string for driver. DATABASE_URL wins when set.
func DSN(driver string) string {
	if url := strings.TrimSpace(env.GetEnv("DATABASE_URL", "")); url != "" {
		return url
	}
	switch driver {
	case DriverMySQL:
		// "user:pass@tcp(127.0.0.1:3306)/dbname?charset=utf8mb4&parseTime=True&loc=UTC"
		return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
			env.GetEnv("DB_USER", "nestgold"),
			env.GetEnv("DB_PASSWORD", ""),
			env.GetEnv("DB_HOST", "127.0.0.1"),
			env.GetEnv("DB_PORT", "3306"),
			env.GetEnv("DB_NAME", "nestgold"),
		)
	default:
		return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
			env.GetEnv("DB_HOST", "127.0.0.1"),
			env.GetEnv("DB_USER", "nestgold"),
			env.GetEnv("DB_PASSWORD", ""),
			env.GetEnv("DB_NAME", "nestgold"),
			env.GetEnv("DB_PORT", "5432"),
			env.GetEnv("DB_SSLMODE", "disable"),
		)
	}
}

// MigrationURL builds the golang-migrate database URL for driver. A
// DATABASE_URL with a URL scheme wins.
func MigrationURL(driver string) string {
	if url := strings.TrimSpace(env.GetEnv("DATABASE_URL", "")); strings.Contains(url, "://") {
		return url
	}
	user := env.GetEnv("DB_USER", "nestgold")
	password := env.GetEnv("DB_PASSWORD", "")
	host := env.GetEnv("DB_HOST", "127.0.0.1")
	name := env.GetEnv("DB_NAME", "nestgold")
	if driver == DriverMySQL {
		return fmt.Sprintf("mysql://%s:%s@tcp(%s:%s)/%s?multiStatements=true",
			user, password, host, env.GetEnv("DB_PORT", "3306"), name)
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		user, password, host, env.GetEnv("DB_PORT", "5432"), name, env.GetEnv("DB_SSLMODE", "disable"))
}

func dialector(driver, dsn string) gorm.Dialector {
	if driver == DriverMySQL {
		return mysql.New(mysql.Config{
			DSN:                       dsn,
			DefaultStringSize:         256,
			SkipInitializeWithVersion: false,
		})
	}
	return postgres.New(postgres.Config{DSN: dsn})
}

// SetupDatabase connects with retries and migrates the schema. The memory
// driver skips it and leaves DB nil.
func SetupDatabase() {
	driver := Driver()
	if driver == DriverMemory {
		log.Warn("[Database] DB_DRIVER=memory: data is kept in process memory only")
		return
	}

	cfg := &gorm.Config{
		// Unique violations surface as gorm.ErrDuplicatedKey for the retry paths.
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Warn),
	}
	if env.IsDev() {
		cfg.Logger = logger.Default.LogMode(logger.Info)
	}

	var err error
	for i := 0; i < maxRetries; i++ {
		DB, err = gorm.Open(dialector(driver, DSN(driver)), cfg)
		if err == nil {
			if env.GetEnvBool("DB_AUTO_MIGRATE", true) {
				if err = AutoMigrate(DB); err != nil {
					panic(err)
				}
			}
			log.Infof("[Database] Connected (%s)", driver)
			return
		}

		log.Errorf("[Database] Failed to connect (try %d/%d): %v", i+1, maxRetries, err)
		if i < maxRetries-1 {
			log.Infof("[Database] Retrying in %v...", retryDelay)
			time.Sleep(retryDelay)
		}
	}

	if err != nil {
		panic(err)
	}
}

// AutoMigrate creates or updates the tables for every model.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.SubscriptionPlan{},
		&models.Subscription{},
		&models.Payment{},
		&models.Delivery{},
		&models.PaymentConfig{},
		&models.Feedback{},
		&models.PaymentEvent{},
		&models.AuditLog{},
	)
}

// GetDB returns the connection, or nil for the memory driver.
func GetDB() *gorm.DB {
	return DB
}
