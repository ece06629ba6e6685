package model

// Report is a per-URL analysis result. Its shape is authored by the model
// and only partially validated, so it stays a generic JSON object.
type Report map[string]any

// Section returns the named nested object, or nil when absent or not an object.
func (r Report) Section(name string) map[string]any {
	m, _ := r[name].(map[string]any)
	return m
}

// Clone returns a copy of r whose top-level sections can be replaced or
// edited without touching r. Nested values below the first level are shared.
func (r Report) Clone() Report {
	out := make(Report, len(r))
	for k, v := range r {
		if m, ok := v.(map[string]any); ok {
			cp := make(map[string]any, len(m))
			for mk, mv := range m {
				cp[mk] = mv
			}
			out[k] = cp
			continue
		}
		out[k] = v
	}
	return out
}
