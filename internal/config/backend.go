package config

// ConfigBackend is where persisted settings live on this platform:
// the defaults database on macOS, a JSON file elsewhere. Get methods
// report ok=false for keys that were never set.
type ConfigBackend interface {
	GetString(key string) (val string, ok bool, err error)
	GetInt(key string) (val int, ok bool, err error)
	SetString(key, val string) error
	SetInt(key string, val int) error
	Delete(key string) error
}
