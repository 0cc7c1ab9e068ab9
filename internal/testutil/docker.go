// Package testutil runs throwaway service containers for integration tests.
package testutil

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"testing"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
)

// CleanupLabel identifies containers created by tests.
const CleanupLabel = "pagecam-test"

// ContainerSpec describes a service container.
type ContainerSpec struct {
	Image string
	// Port is the container port to publish, e.g. "9000/tcp".
	Port string
	Env  []string
	Cmd  []string
}

// Container is a running service container.
type Container struct {
	ID   string
	Name string
	// Addr is the published port as 127.0.0.1:<port>.
	Addr string
}

// RunContainer starts spec and removes it when the test ends. The test is
// skipped in -short mode or when Docker is not reachable.
func RunContainer(t *testing.T, prefix string, spec ContainerSpec) *Container {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	cli, err := DockerClient(t)
	if err != nil {
		t.Skipf("docker unavailable: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if err := ensureImage(ctx, cli, spec.Image); err != nil {
		t.Fatalf("pull %s: %v", spec.Image, err)
	}

	hostPort, err := FindFreePort()
	if err != nil {
		t.Fatalf("failed to find free port: %v", err)
	}
	port := nat.Port(spec.Port)
	name := UniqueContainerName(t, prefix)

	containerConfig := &container.Config{
		Image:        spec.Image,
		Cmd:          spec.Cmd,
		Env:          spec.Env,
		Labels:       ContainerLabels(t),
		ExposedPorts: nat.PortSet{port: struct{}{}},
	}
	hostConfig := &container.HostConfig{
		PortBindings: nat.PortMap{
			port: []nat.PortBinding{{HostIP: "127.0.0.1", HostPort: hostPort}},
		},
	}

	resp, err := cli.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, name)
	if err != nil {
		t.Fatalf("failed to create container: %v", err)
	}
	if err := cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		_ = cli.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true})
		t.Fatalf("failed to start container: %v", err)
	}

	c := &Container{ID: resp.ID, Name: name, Addr: net.JoinHostPort("127.0.0.1", hostPort)}
	if err := WaitForTCP(ctx, c.Addr, 30*time.Second); err != nil {
		t.Fatalf("%s not reachable: %v", name, err)
	}
	return c
}

// DockerClient creates a Docker client and registers cleanup for the
// test's containers.
func DockerClient(t *testing.T) (*client.Client, error) {
	t.Helper()

	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := cli.Ping(ctx); err != nil {
		cli.Close()
		return nil, fmt.Errorf("docker is not running: %w", err)
	}

	t.Cleanup(func() {
		cleanupTestContainers(t, cli)
		cli.Close()
	})
	return cli, nil
}

// WaitForTCP retries until addr accepts connections.
func WaitForTCP(ctx context.Context, addr string, timeout time.Duration) error {
	return retry.Do(
		func() error {
			conn, err := net.DialTimeout("tcp", addr, time.Second)
			if err != nil {
				return err
			}
			return conn.Close()
		},
		retry.Context(ctx),
		retry.Attempts(uint(timeout/(250*time.Millisecond))),
		retry.Delay(250*time.Millisecond),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
}

// FindFreePort finds an available TCP port and returns it as a string.
func FindFreePort() (string, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", err
	}
	defer listener.Close()
	return fmt.Sprintf("%d", listener.Addr().(*net.TCPAddr).Port), nil
}

// UniqueContainerName generates a unique container name for a test.
// Format: pagecam-test-<prefix>-<testname>-<random>
func UniqueContainerName(t *testing.T, prefix string) string {
	t.Helper()
	return fmt.Sprintf("pagecam-test-%s-%s-%s", prefix, sanitizeName(t.Name()), randString(4))
}

// ContainerLabels returns labels to apply to test containers.
func ContainerLabels(t *testing.T) map[string]string {
	return map[string]string{
		CleanupLabel: sanitizeName(t.Name()),
	}
}

func ensureImage(ctx context.Context, cli *client.Client, ref string) error {
	if _, err := cli.ImageInspect(ctx, ref); err == nil {
		return nil
	}
	reader, err := cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image: %w", err)
	}
	defer reader.Close()

	// Drain reader to complete pull
	_, err = io.Copy(io.Discard, reader)
	return err
}

// cleanupTestContainers removes all containers created by this test.
func cleanupTestContainers(t *testing.T, cli *client.Client) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	filterArgs := filters.NewArgs()
	filterArgs.Add("label", fmt.Sprintf("%s=%s", CleanupLabel, sanitizeName(t.Name())))

	containers, err := cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filterArgs,
	})
	if err != nil {
		t.Logf("Failed to list containers for cleanup: %v", err)
		return
	}

	for _, c := range containers {
		if err := cli.ContainerRemove(ctx, c.ID, container.RemoveOptions{
			Force:         true,
			RemoveVolumes: true,
		}); err != nil {
			t.Logf("Failed to remove container %s: %v", c.Names[0], err)
		}
	}
}

// randString generates a random hex string of n bytes
func randString(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// sanitizeName converts a test name to a valid container name component
func sanitizeName(name string) string {
	result := make([]byte, 0, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') {
			result = append(result, c)
		} else if c == '/' || c == '_' || c == '-' {
			result = append(result, '-')
		}
	}
	if len(result) > 30 {
		result = result[:30]
	}
	return string(result)
}
