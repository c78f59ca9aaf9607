package health

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/MrWong99/tilawa/internal/resilience"
)

// Pinger is implemented by score stores.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Store reports the score store unready when Ping fails.
func Store(p Pinger) Checker {
	return Checker{
		Name: "store",
		Check: func(ctx context.Context) error {
			if err := p.Ping(ctx); err != nil {
				return fmt.Errorf("ping: %w", err)
			}
			return nil
		},
	}
}

// Providers reports a provider kind unready when every provider in its
// failover group has an open circuit breaker. states is typically the
// States method of a [resilience.FallbackGroup].
func Providers(kind string, states func() map[string]resilience.State) Checker {
	return Checker{
		Name: kind,
		Check: func(context.Context) error {
			st := states()
			if len(st) == 0 {
				return errors.New("no providers configured")
			}
			var open []string
			for name, s := range st {
				if s != resilience.StateOpen {
					return nil
				}
				open = append(open, name)
			}
			sort.Strings(open)
			return fmt.Errorf("all circuits open: %s", strings.Join(open, ", "))
		},
	}
}
