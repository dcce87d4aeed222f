package env

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

var (
	mu          sync.Mutex
	validations = map[string]string{}
	validate    = validator.New()
)

// RegisterValidation declares that the variable must satisfy the validator tag when ValidateEnv runs
func RegisterValidation(key, tag string) {
	mu.Lock()
	defer mu.Unlock()
	if existing, ok := validations[key]; ok && existing != tag {
		validations[key] = existing + "," + tag
		return
	}
	validations[key] = tag
}

// ValidateEnv checks every registered variable and panics listing all that fail
func ValidateEnv() {
	if err := Validate(); err != nil {
		panic(err)
	}
}

// Validate checks every registered variable
func Validate() error {
	mu.Lock()
	keys := make([]string, 0, len(validations))
	for k := range validations {
		keys = append(keys, k)
	}
	mu.Unlock()
	sort.Strings(keys)

	var failed []string
	for _, k := range keys {
		mu.Lock()
		tag := validations[k]
		mu.Unlock()
		if err := validate.Var(viper.GetString(k), tag); err != nil {
			failed = append(failed, fmt.Sprintf("%s (%s)", k, tag))
		}
	}

	if len(failed) > 0 {
		return fmt.Errorf("invalid environment variables: %s", strings.Join(failed, ", "))
	}
	return nil
}

func GetString(key string) string {
	return viper.GetString(key)
}

func GetInt(key string) int {
	return viper.GetInt(key)
}

func GetInt64(key string) int64 {
	return viper.GetInt64(key)
}

func GetBool(key string) bool {
	return viper.GetBool(key)
}

func GetFloat64(key string) float64 {
	return viper.GetFloat64(key)
}

func GetDuration(key string) time.Duration {
	return viper.GetDuration(key)
}

// GetStringSlice reads a comma separated variable
func GetStringSlice(key string) []string {
	raw := viper.GetStringSlice(key)
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		for _, s := range strings.Split(r, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}
