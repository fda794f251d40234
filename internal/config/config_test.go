package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("STORE_DRIVER", "memory")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Empty(t, cfg.LogLevel)
	assert.Equal(t, DriverMemory, cfg.StoreDriver)
	assert.Equal(t, "10:00", cfg.Booking.Hours.Open.String())
	assert.Equal(t, "22:00", cfg.Booking.Hours.Close.String())
	assert.Equal(t, 30*time.Minute, cfg.Booking.Hours.Granularity)
	assert.Equal(t, time.UTC, cfg.Booking.Hours.Location)
	assert.Equal(t, 60, cfg.Booking.AdvanceDays)
	assert.Zero(t, cfg.Booking.CancellationCutoff)
	assert.Equal(t, 5, cfg.Booking.TxMaxAttempts)
	assert.Equal(t, 4, cfg.Booking.NumberWidth)
	assert.Equal(t, "logs/reservation.log", cfg.ReservationLogPath)
	assert.True(t, cfg.Cache.Methods["GET"])
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("STORE_DRIVER", "bolt")
	t.Setenv("BUSINESS_HOURS_START", "09:00")
	t.Setenv("BUSINESS_HOURS_END", "18:00")
	t.Setenv("TIME_SLOT_MINUTES", "15")
	t.Setenv("BOOKING_TIMEZONE", "Asia/Tokyo")
	t.Setenv("CANCELLATION_HOURS_BEFORE", "24")
	t.Setenv("RESERVATION_NUMBER_PREFIX", "A-")
	t.Setenv("AMQP_URL", "amqp://broker:5672/")
	t.Setenv("REDIS_HOST", "cache")
	t.Setenv("REDIS_PORT", "6380")
	t.Setenv("RATE_LIMIT_CAPACITY", "0")
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Len(t, cfg.Booking.Hours.Slots(), 36)
	assert.Equal(t, "Asia/Tokyo", cfg.Booking.Hours.Location.String())
	assert.Equal(t, 24*time.Hour, cfg.Booking.CancellationCutoff)
	assert.Equal(t, "A-", cfg.Booking.NumberPrefix)
	assert.Equal(t, "amqp://broker:5672/", cfg.AMQPURL)
	assert.Equal(t, "cache:6380", cfg.Redis.Addr)
	assert.Equal(t, 1, cfg.RateLimit.Capacity)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestLoadReportsEveryProblem(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	t.Setenv("STORE_DRIVER", "mysql")
	t.Setenv("DB_USER", "")
	t.Setenv("DB_HOST", "")
	t.Setenv("DB_NAME", "")
	t.Setenv("BUSINESS_HOURS_START", "23:00")

	_, err := Load()
	require.Error(t, err)
	for _, want := range []string{"JWT_SECRET", "DB_USER", "DB_HOST", "DB_NAME", "invalid business hours"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("STORE_DRIVER", "mongo")

	_, err := Load()
	assert.ErrorContains(t, err, "unknown driver")
}
