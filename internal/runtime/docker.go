package runtime

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"

	"github.com/tymbalhq/tymbal/internal/agent"
	"github.com/tymbalhq/tymbal/internal/logx"
	"github.com/tymbalhq/tymbal/internal/tymbal"
)

const agentLabel = "tymbal.agent"

// DockerConfig configures the locally-managed container backend.
type DockerConfig struct {
	Image  string
	APIURL string
}

type dockerAgent struct {
	containerID string
	attach      types.HijackedResponse
	cancel      context.CancelFunc
}

// DockerBackend hosts agents in containers managed through the local Docker
// daemon. The agent process writes Tymbal frames to stdout, one per line, and
// reads delivered messages from stdin.
type DockerBackend struct {
	cli    *client.Client
	cfg    DockerConfig
	events chan Event

	mu     sync.Mutex
	agents map[agent.ID]*dockerAgent
}

// NewDockerBackend connects to the local Docker daemon using the standard
// environment settings.
func NewDockerBackend(cfg DockerConfig) (*DockerBackend, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, err
	}
	return &DockerBackend{
		cli:    cli,
		cfg:    cfg,
		events: make(chan Event, 64),
		agents: make(map[agent.ID]*dockerAgent),
	}, nil
}

func containerName(id agent.ID) string {
	return "tymbal-" + id.Channel + "-" + id.Session
}

// Activate starts (or resumes) the agent's container and attaches to its
// stdio. Start failures surface as *ActivationError.
func (b *DockerBackend) Activate(ctx context.Context, id agent.ID, opts ActivateOptions) error {
	b.mu.Lock()
	if _, ok := b.agents[id]; ok {
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()

	cid, err := b.findContainer(ctx, id)
	if err != nil {
		return &ActivationError{Err: err}
	}
	if cid == "" {
		cid, err = b.createContainer(ctx, id, opts)
		if err != nil {
			return &ActivationError{Permanent: strings.Contains(err.Error(), "No such image"), Err: err}
		}
	}
	if err := b.cli.ContainerStart(ctx, cid, container.StartOptions{}); err != nil {
		return &ActivationError{Err: err}
	}
	attach, err := b.cli.ContainerAttach(ctx, cid, container.AttachOptions{
		Stream: true, Stdin: true, Stdout: true,
	})
	if err != nil {
		return &ActivationError{Err: fmt.Errorf("attach %s: %w", cid, err)}
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	b.mu.Lock()
	b.agents[id] = &dockerAgent{containerID: cid, attach: attach, cancel: cancel}
	b.mu.Unlock()
	go b.stream(streamCtx, id, attach)

	info, err := b.cli.ContainerInspect(ctx, cid)
	if err == nil {
		b.events <- Event{Kind: EventStatus, Agent: id, Container: &agent.ContainerInfo{
			ID:    shortID(cid),
			Name:  strings.TrimPrefix(info.Name, "/"),
			Image: info.Config.Image,
			State: info.State.Status,
		}}
	}
	return nil
}

func (b *DockerBackend) createContainer(ctx context.Context, id agent.ID, opts ActivateOptions) (string, error) {
	image := opts.Image
	if image == "" {
		image = b.cfg.Image
	}
	env := []string{
		"TYMBAL_API_URL=" + b.cfg.APIURL,
		"TYMBAL_CHANNEL=" + id.Channel,
	}
	if opts.Credentials != nil {
		env = append(env, "TYMBAL_CONTAINER_TOKEN="+opts.Credentials.AccessToken)
	}
	for k, v := range opts.Env {
		env = append(env, k+"="+v)
	}
	resp, err := b.cli.ContainerCreate(ctx, &container.Config{
		Image:     image,
		Cmd:       opts.Command,
		Env:       env,
		OpenStdin: true,
		Tty:       true,
		Labels:    map[string]string{agentLabel: id.String()},
	}, nil, nil, nil, containerName(id))
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (b *DockerBackend) findContainer(ctx context.Context, id agent.ID) (string, error) {
	f := filters.NewArgs()
	f.Add("label", agentLabel+"="+id.String())
	containers, err := b.cli.ContainerList(ctx, container.ListOptions{All: true, Filters: f})
	if err != nil {
		return "", err
	}
	if len(containers) == 0 {
		return "", nil
	}
	return containers[0].ID, nil
}

// stream decodes the container's stdout into frames. Malformed lines are
// logged and skipped; a read failure ends the stream with an error event.
func (b *DockerBackend) stream(ctx context.Context, id agent.ID, attach types.HijackedResponse) {
	dec := tymbal.NewDecoder(attach.Reader)
	for {
		f, err := dec.Decode()
		if err != nil {
			if pe, ok := err.(*tymbal.ParseError); ok {
				logx.Log.Warn().Str("agent", id.String()).Err(pe).Msg("dropping malformed frame line")
				continue
			}
			if ctx.Err() == nil {
				b.events <- Event{Kind: EventError, Agent: id, Err: &DisconnectedError{Reason: "container stream closed"}}
			}
			return
		}
		select {
		case <-ctx.Done():
			return
		case b.events <- Event{Kind: EventFrame, Agent: id, Frame: f}:
		}
	}
}

// Send writes one message line to the agent's stdin.
func (b *DockerBackend) Send(ctx context.Context, id agent.ID, msg Message) error {
	b.mu.Lock()
	da, ok := b.agents[id]
	b.mu.Unlock()
	if !ok {
		return ErrNotActive
	}
	if _, err := da.attach.Conn.Write(append(msg.Payload, '\n')); err != nil {
		return fmt.Errorf("write to container %s: %w", da.containerID, err)
	}
	return nil
}

// Suspend stops the agent's container. Suspending an agent with no running
// container is a no-op.
func (b *DockerBackend) Suspend(ctx context.Context, id agent.ID) error {
	b.mu.Lock()
	da, ok := b.agents[id]
	if ok {
		delete(b.agents, id)
	}
	b.mu.Unlock()
	if !ok {
		return nil
	}
	da.cancel()
	da.attach.Close()
	if err := b.cli.ContainerStop(ctx, da.containerID, container.StopOptions{}); err != nil {
		return err
	}
	return nil
}

func (b *DockerBackend) Events() <-chan Event { return b.events }

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
