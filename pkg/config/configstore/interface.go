// Package configstore defines where run settings are loaded from.
package configstore

type ConfigStore interface {
	Load(out any) error
	Save(data any) error
}
