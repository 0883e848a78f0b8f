package specyaml

import "os"

// ExpandString expands $NAME and ${NAME} references in s against env,
// per §6: expansion happens at job-launch time, not at parse time, so
// callers pass the job's fully-overlaid environment (including any
// GATOR_ARRAY_INDEX injection) rather than the raw spec env map.
func ExpandString(s string, env map[string]string) string {
	return os.Expand(s, func(name string) string {
		return env[name]
	})
}

// ExpandStrings applies ExpandString to every element of ss.
func ExpandStrings(ss []string, env map[string]string) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = ExpandString(s, env)
	}
	return out
}
