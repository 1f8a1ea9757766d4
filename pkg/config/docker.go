package config

import (
	"net/url"
	"os"
	"sync"
)

var (
	isDockerOnce   sync.Once
	isDockerResult bool
)

// IsRunningInDocker returns true if the process runs inside a Docker container.
// Detection is based on /.dockerenv; the result is cached after the first call.
func IsRunningInDocker() bool {
	isDockerOnce.Do(func() {
		_, err := os.Stat("/.dockerenv")
		isDockerResult = err == nil
	})
	return isDockerResult
}

// ResolveHostForDocker maps localhost to host.docker.internal when running in
// Docker so the engine can reach Postgres, Redis or MinIO on the host machine.
func ResolveHostForDocker(host string) string {
	if !IsRunningInDocker() {
		return host
	}

	if host == "localhost" || host == "127.0.0.1" {
		return "host.docker.internal"
	}

	return host
}

// resolveServiceHosts rewrites every configured backing-service host.
func (c *Config) resolveServiceHosts() {
	c.Database.Host = ResolveHostForDocker(c.Database.Host)
	if c.Redis.Host != "" {
		c.Redis.Host = ResolveHostForDocker(c.Redis.Host)
	}
	if c.Storage.Endpoint != "" {
		c.Storage.Endpoint = resolveEndpointForDocker(c.Storage.Endpoint)
	}
	if c.Queue.SQSEndpoint != "" {
		c.Queue.SQSEndpoint = resolveEndpointForDocker(c.Queue.SQSEndpoint)
	}
}

func resolveEndpointForDocker(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return endpoint
	}
	host := ResolveHostForDocker(u.Hostname())
	if port := u.Port(); port != "" {
		u.Host = host + ":" + port
	} else {
		u.Host = host
	}
	return u.String()
}
