package config

import (
	"fmt"
	"os"
)

// Template is the starting cluster file written by
// lifecoord -init.
func Template() string {
	return clusterTemplate
}

func WriteTemplate(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(Template()), 0o600)
}

const clusterTemplate = `[run]
rows = 64
cols = 64
steps = 100
workers = 4
seed = 1
output_prefix = "life"
corners = "full"
policy = "square"
every = 1

[coordinator]
addr = ":7400"
http_addr = ":7480"
cors_origins = ["http://localhost:3000"]

[transport]
transfer_timeout = "30s"
connect_timeout = "5s"
dial_attempts = 20

[[launch]]
command = "lifeworker"
args = ["-coordinator", "localhost:7400"]

[[launch]]
host = "node-b"
user = "life"
key_path = "~/.ssh/id_ed25519"
known_hosts = "~/.ssh/known_hosts"
command = "lifeworker"
args = ["-coordinator", "coord:7400"]
`
