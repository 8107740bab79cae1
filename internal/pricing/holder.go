package pricing

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/fx"
)

// Holder serves the active pricing table and hot-reloads it when the
// mounted pricing file changes. Falls back to the built-in defaults when
// no file is present.
type Holder struct {
	current atomic.Value // holds Table
}

var Module = fx.Module("pricing",
	fx.Provide(NewHolder),
)

func NewHolder() (*Holder, error) {
	v := viper.New()

	v.SetConfigName("pricing")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/voxguard/config")
	v.AddConfigPath("/etc/voxguard")
	v.AddConfigPath(".")

	v.SetEnvPrefix("VOXGUARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	holder := &Holder{}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		holder.current.Store(DefaultTable())
		return holder, nil
	}

	var table Table
	if err := v.UnmarshalKey("pricing", &table); err != nil {
		return nil, err
	}
	if err := validateTable(table); err != nil {
		return nil, err
	}
	holder.current.Store(table)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated Table
		if err := v.UnmarshalKey("pricing", &updated); err != nil {
			log.Printf("[pricing] reload failed: %v", err)
			return
		}
		if err := validateTable(updated); err != nil {
			log.Printf("[pricing] invalid table ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[pricing] reloaded from %s", e.Name)
	})

	return holder, nil
}

// NewStaticHolder builds a holder pinned to the given table. Used in tests.
func NewStaticHolder(table Table) *Holder {
	holder := &Holder{}
	holder.current.Store(table)
	return holder
}

// Get returns the active pricing table.
func (h *Holder) Get() Table {
	return h.current.Load().(Table)
}

func validateTable(table Table) error {
	if len(table.Products) == 0 {
		return errors.New("pricing.products cannot be empty")
	}
	if table.Voice.PerMinute < 0 {
		return errors.New("pricing.voice.perMinute cannot be negative")
	}
	return nil
}
