package config

type StorageConfig interface {
	GetRedisAddr() string
	GetRedisPassword() string
	GetRedisDB() int
	GetRedisKeyPrefix() string
	GetDatabaseURL() string
}

type Storage struct{}

var _ StorageConfig = Storage{}

// GetRedisAddr returns an empty string when the session store should stay in memory.
func (Storage) GetRedisAddr() string {
	return GetEnv("REDIS_ADDR", "")
}

func (Storage) GetRedisPassword() string {
	return GetEnv("REDIS_PASSWORD", "")
}

func (Storage) GetRedisDB() int {
	return getEnvInt("REDIS_DB", 0)
}

func (Storage) GetRedisKeyPrefix() string {
	return GetEnv("REDIS_KEY_PREFIX", "records-auth")
}

// GetDatabaseURL returns an empty string when accounts should stay in memory.
func (Storage) GetDatabaseURL() string {
	return GetEnv("DATABASE_URL", "")
}
