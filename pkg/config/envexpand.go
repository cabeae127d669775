package config

import (
	"bytes"
	"os"
	"strings"
	"text/template"
)

// ExpandEnv expands {{.VAR_NAME}} references in YAML content with values
// from the process environment. Shell-style $VAR and ${VAR} are left
// untouched so URLs and tokens containing '$' survive unchanged.
//
// Missing variables expand to empty string. Content that is not a valid
// template is returned as-is and left to the YAML parser to reject.
func ExpandEnv(data []byte) []byte {
	return expandWith(data, environMap())
}

func expandWith(data []byte, vars map[string]string) []byte {
	tmpl, err := template.New("config").Option("missingkey=zero").Parse(string(data))
	if err != nil {
		return data
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, vars); err != nil {
		return data
	}
	return buf.Bytes()
}

func environMap() map[string]string {
	env := os.Environ()
	vars := make(map[string]string, len(env))
	for _, kv := range env {
		// Values may themselves contain '='.
		if key, value, ok := strings.Cut(kv, "="); ok && key != "" {
			vars[key] = value
		}
	}
	return vars
}
