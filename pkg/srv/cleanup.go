package srv

import "context"

// cleanupService runs a closer on shutdown and does nothing on start.
type cleanupService struct {
	name    string
	cleanup func() error
}

func (c *cleanupService) Start(ctx context.Context) error {
	return nil
}

func (c *cleanupService) Shutdown(ctx context.Context) error {
	if c.cleanup != nil {
		return c.cleanup()
	}
	return nil
}

func (c *cleanupService) String() string {
	return c.name
}

func NewCleanup(name string, fn func() error) Service {
	return &cleanupService{name: name, cleanup: fn}
}

// funcService adapts a blocking run function into a Service.
type funcService struct {
	run func(ctx context.Context) error
}

func (f *funcService) Start(ctx context.Context) error {
	return f.run(ctx)
}

func (f *funcService) Shutdown(ctx context.Context) error {
	return nil
}

func NewFunc(run func(ctx context.Context) error) Service {
	return &funcService{run: run}
}
