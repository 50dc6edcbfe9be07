package database

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/school-portal-api/pkg/config"
)

func TestDSN(t *testing.T) {
	dsn := DSN(config.DatabaseConfig{Host: "db", Port: 5433, User: "portal", Password: "secret", Name: "school", SSLMode: "require"})
	assert.Equal(t, "host=db port=5433 user=portal password=secret dbname=school sslmode=require application_name=school-portal-api", dsn)
}
