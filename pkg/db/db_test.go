package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDSN(t *testing.T) {
	cfg := NewConfig("root", "pw", "127.0.0.1", "3306", "signalbridge")
	assert.Equal(t, "root:pw@tcp(127.0.0.1:3306)/signalbridge?charset=utf8mb4&parseTime=true&loc=Local", cfg.DSN())

	bare := Config{User: "u", Password: "p", Host: "db.internal", DBName: "x"}
	assert.Equal(t, "u:p@tcp(db.internal)/x?charset=utf8mb4&parseTime=false&loc=Local", bare.DSN())
}
