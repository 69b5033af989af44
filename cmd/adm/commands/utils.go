package commands

import (
	"context"
	"encoding/json"
	"io"
	"net/url"
	"sync"

	"levelquest/internal/config"
	"levelquest/internal/di"
	"levelquest/internal/observability"
)

// Env holds what every command shares. The service container is only
// initialized by commands that need the store, so db and content commands
// work without one.
type Env struct {
	Config *config.Config
	Logger *observability.Logger

	once      sync.Once
	container *di.ServiceContainer
	initErr   error
}

// Container initializes the service container on first use
func (e *Env) Container(ctx context.Context) (*di.ServiceContainer, error) {
	e.once.Do(func() {
		e.container = di.NewServiceContainer(e.Config, e.Logger, di.Options{
			WithWorker:     true,
			WorkerInstance: "adm",
		})
		e.initErr = e.container.Initialize(ctx)
	})
	return e.container, e.initErr
}

// Close releases the container if a command opened it
func (e *Env) Close(ctx context.Context) error {
	if e.container == nil || e.initErr != nil {
		return nil
	}
	return e.container.Shutdown(ctx)
}

// maskDatabaseURL hides the password in a connection string for display
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<unparseable>"
	}
	return u.Redacted()
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
