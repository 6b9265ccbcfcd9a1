package action

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
)

// Factory builds a validated action instance from its schedule config.
type Factory func(config map[string]any, res Resources) (Action, error)

// Catalog maps schedule `type` keys to action factories. The built-in
// entries cover the generic actions; site catalogs register their own
// instrument-specific entries at startup.
type Catalog struct {
	factories map[string]Factory
}

// NewCatalog returns a catalog pre-populated with the built-in actions.
func NewCatalog() *Catalog {
	c := &Catalog{factories: map[string]Factory{}}
	c.factories["wait"] = NewWait
	c.factories["waituntil"] = NewWaitUntil
	c.factories["park"] = func(map[string]any, Resources) (Action, error) {
		return nil, fmt.Errorf("park cannot be scheduled directly")
	}
	return c
}

// Register adds a site-specific factory. Overriding a built-in is an error.
func (c *Catalog) Register(name string, f Factory) error {
	if _, dup := c.factories[name]; dup {
		return fmt.Errorf("action: type %q is already registered", name)
	}
	c.factories[name] = f
	return nil
}

// Create builds the action named by config["type"]. An unknown type or a
// config failing the action's schema returns an error and no instance.
func (c *Catalog) Create(typ string, config map[string]any, res Resources) (Action, error) {
	f, ok := c.factories[typ]
	if !ok {
		return nil, fmt.Errorf("unknown action type %q", typ)
	}
	return f(config, res)
}

// Park builds the implicit terminal action the scheduler enqueues when
// its queue drains.
func (c *Catalog) Park(res Resources) Action {
	return NewParkTelescope(res)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// decodeConfig maps a schedule config block onto out and validates it.
// Unknown keys are rejected so typos fail at submission, not at runtime.
func decodeConfig(config map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:      out,
		ErrorUnused: true,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(config); err != nil {
		return err
	}
	return validate.Struct(out)
}
