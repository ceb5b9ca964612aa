package browser

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/google/uuid"
	"github.com/phuslu/log"
)

const cdpPort = "3000/tcp"

// ContainerLauncher starts headless browsers in browserless containers, for
// hosts without a display.
type ContainerLauncher struct {
	client *client.Client
	image  string
	logger *log.Logger
}

func NewContainerLauncher(image string, logger *log.Logger) (*ContainerLauncher, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	return &ContainerLauncher{
		client: cli,
		image:  image,
		logger: logger,
	}, nil
}

// Launch starts a container and returns its CDP control URL plus a function
// that stops and removes it.
func (c *ContainerLauncher) Launch(ctx context.Context) (string, func(context.Context) error, error) {
	id := uuid.New().String()

	containerConfig := &container.Config{
		Image: c.image,
		Labels: map[string]string{
			"launch-id":  id,
			"managed-by": "webpage2pdf",
		},
		Env: []string{
			"CONNECTION_TIMEOUT=-1",
			"MAX_CONCURRENT_SESSIONS=1",
			"PREBOOT_CHROME=true",
			"KEEP_ALIVE=true",
			"EXIT_ON_HEALTH_FAILURE=false",
		},
		ExposedPorts: nat.PortSet{
			cdpPort: struct{}{},
		},
	}

	hostConfig := &container.HostConfig{
		PortBindings: nat.PortMap{
			cdpPort: []nat.PortBinding{
				{
					HostIP:   "127.0.0.1",
					HostPort: "0",
				},
			},
		},
	}

	resp, err := c.client.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, "webpage2pdf-"+id[:8])
	if err != nil {
		return "", nil, fmt.Errorf("failed to create container: %w", err)
	}

	release := func(ctx context.Context) error {
		return c.stop(ctx, resp.ID)
	}

	if err := c.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		_ = c.remove(ctx, resp.ID)
		return "", nil, fmt.Errorf("failed to start container: %w", err)
	}

	inspect, err := c.client.ContainerInspect(ctx, resp.ID)
	if err != nil {
		_ = release(ctx)
		return "", nil, fmt.Errorf("failed to inspect container: %w", err)
	}

	bindings := inspect.NetworkSettings.Ports[cdpPort]
	if len(bindings) == 0 {
		_ = release(ctx)
		return "", nil, fmt.Errorf("container %s exposes no CDP port", resp.ID[:12])
	}
	hostPort := "127.0.0.1:" + bindings[0].HostPort

	if err := waitForBrowserReady(ctx, hostPort); err != nil {
		_ = release(ctx)
		return "", nil, fmt.Errorf("browser failed to become ready: %w", err)
	}

	controlURL, err := launcher.ResolveURL(hostPort)
	if err != nil {
		_ = release(ctx)
		return "", nil, fmt.Errorf("failed to resolve control url: %w", err)
	}

	c.logger.Info().
		Str("container", resp.ID[:12]).
		Str("control_url", controlURL).
		Msg("browser container started")

	return controlURL, release, nil
}

// EnsureImage pulls the browser image if it is not present locally.
func (c *ContainerLauncher) EnsureImage(ctx context.Context) error {
	images, err := c.client.ImageList(ctx, image.ListOptions{})
	if err != nil {
		return err
	}

	for _, img := range images {
		for _, tag := range img.RepoTags {
			if tag == c.image {
				return nil
			}
		}
	}

	c.logger.Info().Str("image", c.image).Msg("pulling browser image")
	reader, err := c.client.ImagePull(ctx, c.image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image: %w", err)
	}
	defer reader.Close()

	_, err = io.Copy(io.Discard, reader)
	return err
}

func (c *ContainerLauncher) Close() error {
	return c.client.Close()
}

func (c *ContainerLauncher) stop(ctx context.Context, containerID string) error {
	timeout := 10
	if err := c.client.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &timeout}); err != nil {
		return fmt.Errorf("failed to stop container: %w", err)
	}
	return c.remove(ctx, containerID)
}

func (c *ContainerLauncher) remove(ctx context.Context, containerID string) error {
	if err := c.client.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true}); err != nil {
		return fmt.Errorf("failed to remove container: %w", err)
	}
	return nil
}

// waitForBrowserReady polls /json/version until the browser answers.
func waitForBrowserReady(ctx context.Context, hostPort string) error {
	url := fmt.Sprintf("http://%s/json/version", hostPort)
	maxRetries := 20 // 10 seconds total

	for i := 0; i < maxRetries; i++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := http.DefaultClient.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}

	return fmt.Errorf("browser did not become ready after %d retries", maxRetries)
}
