package digest

import (
	"context"
	"time"
)

// Generator builds digests from recorded pass activity.
type Generator struct {
	store     *Store
	config    *Config
	formatter Formatter
}

// NewGenerator creates a new digest generator.
func NewGenerator(store *Store, config *Config) *Generator {
	if config == nil {
		config = DefaultConfig()
	}
	return &Generator{
		store:     store,
		config:    config,
		formatter: NewPlainTextFormatter(),
	}
}

// Generate builds and renders a digest for the given period.
func (g *Generator) Generate(ctx context.Context, period Period) (*Digest, error) {
	stats, projects, err := g.store.ActivityBetween(ctx, period.Start, period.End)
	if err != nil {
		return nil, err
	}

	d := &Digest{
		GeneratedAt: time.Now(),
		Period:      period,
		Stats:       stats,
		Projects:    projects,
	}

	body, err := g.formatter.Format(d)
	if err != nil {
		return nil, err
	}
	d.Body = body
	return d, nil
}

// GenerateDaily builds a digest for the 24 hours ending now. The window
// rolls with the schedule rather than anchoring to a fixed hour, so a
// custom cron expression still covers exactly one inter-run period.
func (g *Generator) GenerateDaily(ctx context.Context) (*Digest, error) {
	end := time.Now().In(g.config.Location())
	start := end.Add(-24 * time.Hour)
	return g.Generate(ctx, Period{Start: start, End: end})
}
