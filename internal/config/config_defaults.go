package config

// defaultConfig returns the default configuration.
func (cm *ConfigManager) defaultConfig() *FileConfig {
	return &FileConfig{
		Port:     8317,
		BasePath: "",

		StorageBackend: "file",
		StorageBaseDir: "data",
		RedisAddr:      "localhost:6379",
		RedisDB:        0,
		RedisPrefix:    "keyrelay:",
		MongoDBURI:     "mongodb://localhost:27017",
		MongoDatabase:  "keyrelay",

		Debug:   false,
		LogFile: "",

		RateLimitEnabled: false,
		RateLimitRPS:     10,
		RateLimitBurst:   20,
	}
}
