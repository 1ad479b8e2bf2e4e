package redis

// Config describes how to reach the Redis instance backing the
// reference document-database applier (spec §10.1).
type Config struct {
	Host       string
	Port       int
	Username   string
	Password   string
	Database   int
	TLSEnabled bool
}
