package config

import (
	"testing"
)

func TestResolveHostForDocker_RemoteHostsUnchanged(t *testing.T) {
	for _, host := range []string{"mydb.example.com", "192.168.1.100", "host.docker.internal"} {
		if got := ResolveHostForDocker(host); got != host {
			t.Errorf("ResolveHostForDocker(%q) = %q, want unchanged", host, got)
		}
	}
}

func TestResolveHostForDocker_LocalhostVariants(t *testing.T) {
	for _, host := range []string{"localhost", "127.0.0.1"} {
		want := host
		if IsRunningInDocker() {
			want = "host.docker.internal"
		}
		if got := ResolveHostForDocker(host); got != want {
			t.Errorf("ResolveHostForDocker(%q) = %q, want %q", host, got, want)
		}
	}
}

func TestResolveEndpointForDocker(t *testing.T) {
	want := "http://localhost:9000"
	if IsRunningInDocker() {
		want = "http://host.docker.internal:9000"
	}
	if got := resolveEndpointForDocker("http://localhost:9000"); got != want {
		t.Errorf("resolveEndpointForDocker() = %q, want %q", got, want)
	}

	if got := resolveEndpointForDocker("https://s3.us-east-1.amazonaws.com"); got != "https://s3.us-east-1.amazonaws.com" {
		t.Errorf("expected remote endpoint unchanged, got %q", got)
	}
	if got := resolveEndpointForDocker("not a url"); got != "not a url" {
		t.Errorf("expected unparseable endpoint unchanged, got %q", got)
	}
}
