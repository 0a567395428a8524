package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"loadsim/protocol"
)

// DefaultTestSuiteFile is read when no suite file is given
const DefaultTestSuiteFile = "test.yaml"

// LoadTestSuite reads the tests of a suite from a YAML file. Run settings
// such as duration and target type are left for the caller.
func LoadTestSuite(filename string) (*protocol.TestSuite, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read test suite %s: %w", filename, err)
	}
	return ParseTestSuite(data)
}

// DefaultTestDurationSeconds is the run phase of a suite that sets none.
const DefaultTestDurationSeconds = 60

// ParseTestSuite parses suite YAML. Tests without an id get the short
// name of their class, made unique with a numeric suffix.
func ParseTestSuite(data []byte) (*protocol.TestSuite, error) {
	suite := protocol.TestSuite{
		DurationSeconds: DefaultTestDurationSeconds,
		TargetType:      protocol.TargetPreferClient,
		Verify:          true,
		FailFast:        true,
	}
	if err := yaml.Unmarshal(data, &suite); err != nil {
		return nil, fmt.Errorf("failed to parse test suite: %w", err)
	}
	if len(suite.Tests) == 0 {
		return nil, fmt.Errorf("test suite contains no tests")
	}

	used := make(map[string]bool, len(suite.Tests))
	for _, tc := range suite.Tests {
		if tc.ID != "" {
			used[tc.ID] = true
		}
	}
	for i := range suite.Tests {
		tc := &suite.Tests[i]
		if tc.Class == "" {
			return nil, fmt.Errorf("test %d: class is required", i)
		}
		if tc.ID != "" {
			continue
		}
		base := tc.Class[strings.LastIndex(tc.Class, ".")+1:]
		id := base
		for n := 2; used[id]; n++ {
			id = base + strconv.Itoa(n)
		}
		tc.ID = id
		used[id] = true
	}
	return &suite, nil
}

// ParseDuration parses durations such as 90, 10s, 5m, 2h or 3d. A plain
// number is seconds.
func ParseDuration(value string) (time.Duration, error) {
	input := value
	value = strings.TrimSpace(strings.ToLower(value))
	if value == "" {
		return 0, fmt.Errorf("empty duration")
	}

	unit := time.Second
	switch value[len(value)-1] {
	case 's':
		value = value[:len(value)-1]
	case 'm':
		unit = time.Minute
		value = value[:len(value)-1]
	case 'h':
		unit = time.Hour
		value = value[:len(value)-1]
	case 'd':
		unit = 24 * time.Hour
		value = value[:len(value)-1]
	}

	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", input)
	}
	if n < 0 {
		return 0, fmt.Errorf("duration can't be negative")
	}
	return time.Duration(n) * unit, nil
}
