package common

import "testing"

func TestInitLoggersIsRepeatable(t *testing.T) {
	// Two servers in one process (or a restart) must not trip the logger
	// factory guard
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("repeated InitLoggers panicked: %v", r)
		}
	}()

	InitLoggers("error")
	InitLoggers("info")
	InitLoggers("debug")
}

func TestParseLogLevel(t *testing.T) {
	cases := map[string]bool{
		"debug":   true,
		"info":    true,
		"warn":    true,
		"warning": true,
		"error":   true,
		"ERROR":   true,
		"verbose": false,
	}

	for level, valid := range cases {
		func() {
			defer func() {
				if r := recover(); (r == nil) != valid {
					t.Errorf("parseLogLevel(%q): valid=%t, panic=%v", level, valid, r)
				}
			}()
			parseLogLevel(level)
		}()
	}
}
