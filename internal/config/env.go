package config

import (
	"os"
	"strconv"
	"strings"
)

// Settings are the process-level knobs read from the environment
type Settings struct {
	Port            string
	AllowedOrigins  []string
	LogLevel        string
	CalibrationPath string
	MaxUploadBytes  int64
	MaxImagePixels  int
	MinGrayscale    float64
	Workers         int
}

// FromEnv reads Settings, falling back to local development defaults
func FromEnv() Settings {
	return Settings{
		Port:            GetEnv("PORT", "8001"),
		AllowedOrigins:  GetEnvList("CORS_ORIGINS", []string{"http://localhost:3000", "http://127.0.0.1:3000"}),
		LogLevel:        GetEnv("LOG_LEVEL", "info"),
		CalibrationPath: GetEnv("CALIBRATION_FILE", ""),
		MaxUploadBytes:  int64(GetEnvInt("MAX_UPLOAD_BYTES", 10*1024*1024)),
		MaxImagePixels:  GetEnvInt("MAX_IMAGE_PIXELS", 4096*4096),
		MinGrayscale:    GetEnvFloat("MIN_GRAYSCALE_RATIO", 0),
		Workers:         GetEnvInt("WORKERS", 4),
	}
}

func GetEnv(key, defaultVal string) string {
	if val, exists := os.LookupEnv(key); exists {
		return val
	}
	return defaultVal
}

func GetEnvInt(key string, defaultVal int) int {
	if val, exists := os.LookupEnv(key); exists {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func GetEnvFloat(key string, defaultVal float64) float64 {
	if val, exists := os.LookupEnv(key); exists {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

// GetEnvList splits a comma separated value, dropping empty items
func GetEnvList(key string, defaultVal []string) []string {
	val, exists := os.LookupEnv(key)
	if !exists {
		return defaultVal
	}
	var out []string
	for _, item := range strings.Split(val, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}
