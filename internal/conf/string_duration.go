package conf

import "time"

// StringDuration is a duration unmarshaled from a friendly string
// ("60s", "3s") instead of a raw integer, adapted from the teacher's
// conf.StringDuration.
type StringDuration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *StringDuration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var in string
	if err := unmarshal(&in); err != nil {
		return err
	}

	du, err := time.ParseDuration(in)
	if err != nil {
		return err
	}
	*d = StringDuration(du)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d StringDuration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}
