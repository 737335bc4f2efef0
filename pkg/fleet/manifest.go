package fleet

import (
	"time"

	"github.com/agubarev/ztcp/pkg/identity"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// errors
var (
	ErrUnknownDevice   = errors.New("manifest refers to an unknown device")
	ErrDuplicateDevice = errors.New("manifest declares a device twice")
	ErrEmptyManifest   = errors.New("manifest declares no devices")
)

// Device is a device to onboard
type Device struct {
	Name       string              `mapstructure:"name"`
	Zone       string              `mapstructure:"zone"`
	Segment    string              `mapstructure:"segment"`
	Attributes identity.Attributes `mapstructure:"attributes"`
}

// Policy is a communication policy between two named devices
type Policy struct {
	ID        string   `mapstructure:"id"`
	Source    string   `mapstructure:"source"`
	Target    string   `mapstructure:"target"`
	Protocols []string `mapstructure:"protocols"`
	Ports     []uint16 `mapstructure:"ports"`
	Priority  int      `mapstructure:"priority"`
}

// Activity is a batch of observed operations of a device session
type Activity struct {
	Device  string        `mapstructure:"device"`
	Latency time.Duration `mapstructure:"latency"`
	Success bool          `mapstructure:"success"`
	Repeat  int           `mapstructure:"repeat"`
}

// Communication is an authorization request between two named devices
type Communication struct {
	Source   string `mapstructure:"source" json:"source"`
	Target   string `mapstructure:"target" json:"target"`
	Protocol string `mapstructure:"protocol" json:"protocol"`
	Port     uint16 `mapstructure:"port" json:"port"`
}

// Manifest describes a fleet and what happens to it, in order:
// onboarding, authentication, policies, activity, rotation,
// communications and isolation
type Manifest struct {
	Devices        []Device        `mapstructure:"devices"`
	Policies       []Policy        `mapstructure:"policies"`
	Activity       []Activity      `mapstructure:"activity"`
	Rotate         []string        `mapstructure:"rotate"`
	Communications []Communication `mapstructure:"communications"`
	Isolate        []string        `mapstructure:"isolate"`
}

// LoadManifest reads a manifest file, its format is chosen by extension
func LoadManifest(path string) (m Manifest, err error) {
	v := viper.New()
	v.SetConfigFile(path)

	if err = v.ReadInConfig(); err != nil {
		return m, errors.Wrapf(err, "failed to read manifest %s", path)
	}

	if err = v.Unmarshal(&m); err != nil {
		return m, errors.Wrap(err, "failed to decode manifest")
	}

	return m, m.Validate()
}

// Validate checks that every reference points to a declared device
func (m Manifest) Validate() error {
	if len(m.Devices) == 0 {
		return ErrEmptyManifest
	}

	names := make(map[string]bool, len(m.Devices))
	for _, d := range m.Devices {
		if names[d.Name] {
			return errors.Wrapf(ErrDuplicateDevice, "%q", d.Name)
		}

		names[d.Name] = true
	}

	refs := make([]string, 0)
	for _, p := range m.Policies {
		refs = append(refs, p.Source, p.Target)
	}

	for _, a := range m.Activity {
		refs = append(refs, a.Device)
	}

	for _, c := range m.Communications {
		refs = append(refs, c.Source, c.Target)
	}

	refs = append(refs, m.Rotate...)
	refs = append(refs, m.Isolate...)

	for _, name := range refs {
		if !names[name] {
			return errors.Wrapf(ErrUnknownDevice, "%q", name)
		}
	}

	return nil
}
