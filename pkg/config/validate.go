package config

import "fmt"

// Validate checks the config for structural correctness. Capacity is not
// checked: out-of-range values are clamped by the log.
func Validate(c *Config) []error {
	var errs []error

	if c.Version != 1 {
		errs = append(errs, fmt.Errorf("version must be 1, got %d", c.Version))
	}
	if c.Socket == "" {
		errs = append(errs, fmt.Errorf("socket is required"))
	}
	if c.NotifyInterval < 0 {
		errs = append(errs, fmt.Errorf("notify_interval must not be negative, got %s", c.NotifyInterval))
	}

	switch c.Store.Driver {
	case "file", "sqlite":
		if c.Store.Path == "" {
			errs = append(errs, fmt.Errorf("store (%s): path is required", c.Store.Driver))
		}
	case "memory":
	case "":
		errs = append(errs, fmt.Errorf("store: driver is required"))
	default:
		errs = append(errs, fmt.Errorf("store: unknown driver %q", c.Store.Driver))
	}

	switch c.Log.Format {
	case "", "text", "json", "journal":
	default:
		errs = append(errs, fmt.Errorf("log: format must be text, json or journal, got %q", c.Log.Format))
	}
	switch c.Log.Level {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("log: unknown level %q", c.Log.Level))
	}

	seen := make(map[string]bool)
	for i, src := range c.Sources {
		name := src.Name
		if name == "" {
			errs = append(errs, fmt.Errorf("source #%d: name is required", i+1))
			name = fmt.Sprintf("#%d", i+1)
		} else if seen[name] {
			errs = append(errs, fmt.Errorf("source %q: duplicate name", name))
		}
		seen[name] = true

		switch src.Kind {
		case KindProxy:
			if src.Listen == "" {
				errs = append(errs, fmt.Errorf("source %q (proxy): listen is required", name))
			}
		case KindTail:
			if src.File == "" {
				errs = append(errs, fmt.Errorf("source %q (tail): file is required", name))
			}
		case KindExec:
			if src.Command == "" {
				errs = append(errs, fmt.Errorf("source %q (exec): command is required", name))
			}
			if src.Restart != "" && src.Restart != "always" && src.Restart != "on-failure" && src.Restart != "never" {
				errs = append(errs, fmt.Errorf("source %q (exec): restart must be always, on-failure, or never; got %q", name, src.Restart))
			}
		case "":
			errs = append(errs, fmt.Errorf("source %q: kind is required", name))
		default:
			errs = append(errs, fmt.Errorf("source %q: unknown kind %q", name, src.Kind))
		}
	}

	return errs
}
