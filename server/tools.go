package blinkwise

import (
	"log/slog"
	"math"
	"os"
	"strconv"
	"time"
)

// FillEnvVar returns the value of a runtime Environment Variable,
// or def when it is unset
func FillEnvVar(ev, def string) string {
	value := os.Getenv(ev)
	if value == "" {
		return def
	}
	return value
}

// FillEnvVarInt is FillEnvVar for integers.
// Unparseable values are logged and replaced by def.
func FillEnvVarInt(ev string, def int) int {
	value := os.Getenv(ev)
	if value == "" {
		return def
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		slog.Warn("Invalid integer in environment, using default",
			slog.String("var", ev),
			slog.String("value", value),
			slog.Int("default", def))
		return def
	}
	return n
}

// FillEnvVarBool accepts anything strconv.ParseBool does
func FillEnvVarBool(ev string, def bool) bool {
	value := os.Getenv(ev)
	if value == "" {
		return def
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		slog.Warn("Invalid boolean in environment, using default",
			slog.String("var", ev),
			slog.String("value", value),
			slog.Bool("default", def))
		return def
	}
	return b
}

// FillEnvVarDuration reads an integer count of unit
func FillEnvVarDuration(ev string, def, unit time.Duration) time.Duration {
	n := FillEnvVarInt(ev, -1)
	if n < 0 {
		return def
	}
	return time.Duration(n) * unit
}

// FloatPrecise rounds f to p decimal places
func FloatPrecise(f float64, p int) float64 {
	ratio := math.Pow(10, float64(p))
	return math.Round(f*ratio) / ratio
}
