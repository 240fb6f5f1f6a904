package tap

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/pelletier/go-toml/v2"
	"github.com/unixpickle/dist-spmv/collcomm/allreduce"
	"github.com/unixpickle/dist-spmv/topology"
	"github.com/unixpickle/essentials"
)

// ErrInvalidConfig is returned for a Config that cannot
// describe a process group.
var ErrInvalidConfig = errors.New("invalid TAP configuration")

// Config holds the tunable constants used while building
// a Package.
type Config struct {
	// PPN is the number of processes per host.
	PPN int `toml:"ppn"`

	// Policy decides which ranks share a host.
	Policy topology.Policy `toml:"policy"`

	// EagerThreshold is the message size, in bytes, above
	// which inter-host messages use a rendezvous protocol.
	// Hosts sending more than this are split across more
	// than one local receiver.
	EagerThreshold int `toml:"eager_threshold"`

	// ShortThreshold is the message size, in bytes, below
	// which splitting a message gains nothing.
	ShortThreshold int `toml:"short_threshold"`

	// IdealFanOut caps the number of local processes that
	// receive from a single remote host.
	IdealFanOut int `toml:"ideal_fan_out"`

	// ValueSize is the number of bytes per vector entry.
	ValueSize int `toml:"value_size"`

	// Allreduce names the algorithm for intra-host
	// reductions, as accepted by allreduce.New.
	Allreduce string `toml:"allreduce"`

	// Logger receives debug logs while packages are built.
	// If nil, slog.Default() is used.
	Logger *slog.Logger `toml:"-"`
}

// DefaultConfig creates a Config with the default
// thresholds and ppn processes per host.
func DefaultConfig(ppn int) Config {
	return Config{
		PPN:            ppn,
		Policy:         topology.BlockMajor,
		EagerThreshold: 8000,
		ShortThreshold: 500,
		IdealFanOut:    4,
		ValueSize:      8,
		Allreduce:      "tree",
	}
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	switch {
	case c.PPN <= 0:
		return fmt.Errorf("%w: PPN must be positive (got %d)", ErrInvalidConfig, c.PPN)
	case c.EagerThreshold <= 0 || c.ShortThreshold <= 0:
		return fmt.Errorf("%w: thresholds must be positive (got eager=%d short=%d)",
			ErrInvalidConfig, c.EagerThreshold, c.ShortThreshold)
	case c.ShortThreshold > c.EagerThreshold:
		return fmt.Errorf("%w: short threshold %d exceeds eager threshold %d",
			ErrInvalidConfig, c.ShortThreshold, c.EagerThreshold)
	case c.IdealFanOut <= 0:
		return fmt.Errorf("%w: ideal fan-out must be positive (got %d)",
			ErrInvalidConfig, c.IdealFanOut)
	case c.ValueSize <= 0:
		return fmt.Errorf("%w: value size must be positive (got %d)", ErrInvalidConfig, c.ValueSize)
	}
	if !essentials.Contains(allreduce.Names, c.Allreduce) {
		return fmt.Errorf("%w: unknown allreduce algorithm %q", ErrInvalidConfig, c.Allreduce)
	}
	if _, err := c.Policy.MarshalText(); err != nil {
		return err
	}
	return nil
}

func (c Config) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// ConfigFromEnv applies environment overrides to a Config.
//
// PPN sets the processes per host, which makes it possible
// to test several host sizes on one machine.
// TAP_RANK_ORDER, TAP_EAGER, TAP_SHORT and
// TAP_IDEAL_FANOUT set the other fields.
func ConfigFromEnv(base Config) (Config, error) {
	res := base
	ints := []struct {
		name  string
		field *int
	}{
		{"PPN", &res.PPN},
		{"TAP_EAGER", &res.EagerThreshold},
		{"TAP_SHORT", &res.ShortThreshold},
		{"TAP_IDEAL_FANOUT", &res.IdealFanOut},
	}
	for _, entry := range ints {
		value, ok := os.LookupEnv(entry.name)
		if !ok {
			continue
		}
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return base, fmt.Errorf("%w: %s=%q", ErrInvalidConfig, entry.name, value)
		}
		*entry.field = parsed
	}
	if value, ok := os.LookupEnv("TAP_RANK_ORDER"); ok {
		policy, err := topology.ParsePolicy(value)
		if err != nil {
			return base, fmt.Errorf("TAP_RANK_ORDER: %w", err)
		}
		res.Policy = policy
	}
	return res, res.Validate()
}

// LoadConfig reads a TOML file on top of DefaultConfig.
//
// Fields missing from the file keep their defaults, and
// unknown fields are an error.
func LoadConfig(path string, ppn int) (Config, error) {
	res := DefaultConfig(ppn)
	f, err := os.Open(path)
	if err != nil {
		return res, essentials.AddCtx("load TAP config", err)
	}
	defer f.Close()
	dec := toml.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&res); err != nil {
		return res, essentials.AddCtx("load TAP config "+path, err)
	}
	return res, res.Validate()
}
