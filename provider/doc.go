// Package provider discovers repository mirrors from a hosting service.
// Every project of a group (or organisation) carries its mirror directive
// in the free-text description field as a small YAML document
//
//	origin: git@example.com:upstream/repo.git
//	skip: false
//
// and a Provider turns the projects into a list of Mirror, pairing the
// origin with the project's own clone URL as destination.
//
// # Logging:
//
// providers take slog reference for logging and print logs up to 'trace' level.
// Request URLs and pagination headers are logged at 'trace', access tokens never are.
//
// Example:
//
//	loggerLevel  = new(slog.LevelVar)
//	levelStrings = map[string]slog.Level{
//		"trace": slog.Level(-8),
//		"debug": slog.LevelDebug,
//		"info":  slog.LevelInfo,
//		"warn":  slog.LevelWarn,
//		"error": slog.LevelError,
//	}
//
//	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//		Level: loggerLevel,
//	}))
//	loggerLevel.Set(levelStrings["trace"])
//
//	p, err := gitlab.New(gitlab.Config{URL: "https://gitlab.com", Group: "mirrors"}, logger)
//	if err != nil {
//		panic(err)
//	}
//	mirrors, err := p.GetMirrorRepos()
package provider
