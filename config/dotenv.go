package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"reacher-sentinel/models"
)

func getEnv(key string, defaultValue string) string {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	return value
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value, exists := os.LookupEnv(key)
	if !exists || strings.TrimSpace(value) == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

// getEnvMillis reads an integer number of milliseconds, the unit the fleet
// settings have always been expressed in.
func getEnvMillis(key string, defaultValue time.Duration) (time.Duration, error) {
	ms, err := getEnvInt(key, int(defaultValue.Milliseconds()))
	if err != nil {
		return 0, err
	}
	return time.Duration(ms) * time.Millisecond, nil
}

// getEnvDuration accepts Go durations ("20s") or plain seconds ("20").
func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value, exists := os.LookupEnv(key)
	if !exists || strings.TrimSpace(value) == "" {
		return defaultValue, nil
	}
	value = strings.TrimSpace(value)
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

// ParseShards parses "0-15,32,40-41" into a sorted, de-duplicated shard list.
func ParseShards(raw string) ([]int, error) {
	seen := make(map[int]bool)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		lo, hi := part, part
		if i := strings.Index(part, "-"); i > 0 {
			lo, hi = part[:i], part[i+1:]
		}
		from, err := strconv.Atoi(strings.TrimSpace(lo))
		if err != nil {
			return nil, fmt.Errorf("COVERED_SHARDS: invalid shard %q", part)
		}
		to, err := strconv.Atoi(strings.TrimSpace(hi))
		if err != nil {
			return nil, fmt.Errorf("COVERED_SHARDS: invalid shard %q", part)
		}
		if from > to || from < 0 || to >= models.ShardsCount {
			return nil, fmt.Errorf("COVERED_SHARDS: range %q outside 0-%d", part, models.ShardsCount-1)
		}
		for s := from; s <= to; s++ {
			seen[s] = true
		}
	}
	shards := make([]int, 0, len(seen))
	for s := range seen {
		shards = append(shards, s)
	}
	sort.Ints(shards)
	return shards, nil
}
