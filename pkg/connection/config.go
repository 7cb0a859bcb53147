package connection

import (
	"time"

	"github.com/typedb/typedb-driver-go/internal/codec"
	"github.com/typedb/typedb-driver-go/pkg/constants"
	"github.com/typedb/typedb-driver-go/pkg/logger"
	"github.com/typedb/typedb-driver-go/pkg/metrics"
	"github.com/typedb/typedb-driver-go/pkg/models"
	"github.com/typedb/typedb-driver-go/pkg/retry"
)

// Credential authenticates the driver against every server it connects to.
type Credential struct {
	Username string
	Password string
}

// Factory creates a Connection for one server address.
type Factory func(address models.Address, cfg *Config) Connection

// Config is the single configuration shape of a driver: where to connect,
// how to authenticate, and whether to use TLS.
type Config struct {
	// Addresses are the initial servers. A cluster reports its full member list
	// when asked, so one reachable address is enough.
	Addresses []string

	Credential *Credential
	TLS        TLSConfig

	Marshaler   codec.Marshaler
	Unmarshaler codec.Unmarshaler
	Logger      logger.Logger
	Metrics     *metrics.Metrics

	// Timeout bounds the wait for a unary response. Zero disables it.
	Timeout time.Duration

	// DispatchInterval is how long transaction requests are buffered before being
	// flushed together.
	DispatchInterval time.Duration
	// MaxMessageSize caps the encoded size of one flushed batch.
	MaxMessageSize int

	// PulseInterval is how often open sessions are kept alive. Zero disables pulses.
	PulseInterval time.Duration

	// PrimaryRetryer paces topology refreshes while a cluster has no primary.
	PrimaryRetryer retry.Retryer

	// NewConnection creates server connections. When nil the websocket
	// implementation is used.
	NewConnection Factory
}

// NewConfig creates a new Config for the given server addresses.
// It is not absolutely necessary to create a Config using this function,
// but it is recommended to use this function to ensure that everything needed for the connection is set up correctly.
func NewConfig(addresses ...string) *Config {
	c := codec.NewCBOR()
	return &Config{
		Addresses:        addresses,
		Marshaler:        c,
		Unmarshaler:      c,
		Logger:           logger.Default(),
		Timeout:          constants.DefaultWSTimeout,
		DispatchInterval: constants.DefaultDispatchInterval,
		MaxMessageSize:   constants.DefaultMaxMessageSize,
		PulseInterval:    constants.DefaultPulseInterval,
		PrimaryRetryer:   retry.Default(),
	}
}

// WithCredential sets the username and password sent on connection_open.
func (c *Config) WithCredential(username, password string) *Config {
	c.Credential = &Credential{Username: username, Password: password}
	return c
}

// WithTLS enables TLS. An empty rootCAPath means the system trust roots.
func (c *Config) WithTLS(rootCAPath string) *Config {
	c.TLS = TLSConfig{Enabled: true, RootCAPath: rootCAPath}
	return c
}

// Validate checks the fields needed before any connection is attempted.
func (c *Config) Validate() error {
	if len(c.Addresses) == 0 {
		return constants.ErrUnableToConnect
	}
	for _, a := range c.Addresses {
		if _, err := models.ParseAddress(a); err != nil {
			return err
		}
	}
	if c.Marshaler == nil {
		return constants.ErrNoMarshaler
	}
	if c.Unmarshaler == nil {
		return constants.ErrNoUnmarshaler
	}
	return nil
}
