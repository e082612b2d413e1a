package factory

import (
	"os"
	"sync"
)

// Ambient is a process-wide proxy setting that is cleared while a
// connection is being set up. Implementations must be comparable.
type Ambient interface {
	Get() (string, bool)
	Set(value string)
	Unset()
}

// EnvAmbient is an environment variable holding a proxy URL.
type EnvAmbient string

// DefaultAmbient lists the environment variables Go networking code reads
// for a process-wide SOCKS proxy.
var DefaultAmbient = []Ambient{EnvAmbient("ALL_PROXY"), EnvAmbient("all_proxy")}

func (e EnvAmbient) Get() (string, bool) { return os.LookupEnv(string(e)) }
func (e EnvAmbient) Set(value string)    { _ = os.Setenv(string(e), value) }
func (e EnvAmbient) Unset()              { _ = os.Unsetenv(string(e)) }

type ambientState struct {
	depth int
	value string
	set   bool
}

var (
	ambientMu     sync.Mutex
	ambientStates = make(map[Ambient]*ambientState)
)

// suspendAmbient clears each setting and returns a func restoring them.
// Overlapping suspensions of the same setting nest: the value is saved by
// the first and restored by the last. The returned func is idempotent.
func suspendAmbient(as []Ambient) (restore func()) {
	ambientMu.Lock()
	defer ambientMu.Unlock()

	for _, a := range as {
		st := ambientStates[a]
		if st == nil {
			st = &ambientState{}
			ambientStates[a] = st
		}
		if st.depth == 0 {
			st.value, st.set = a.Get()
			if st.set {
				a.Unset()
			}
		}
		st.depth++
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			ambientMu.Lock()
			defer ambientMu.Unlock()

			for _, a := range as {
				st := ambientStates[a]
				st.depth--
				if st.depth > 0 {
					continue
				}
				if st.set {
					a.Set(st.value)
				}
				delete(ambientStates, a)
			}
		})
	}
}
